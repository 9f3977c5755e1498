// internal/auth/token.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// privateKey and publicKey sign and verify capability tokens. They are
// generated fresh at process start: tokens are only meaningful for sessions
// owned by this process, which do not survive a restart either.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	tokenTTL time.Duration
)

// Init generates the ed25519 key pair and reads TOKEN_EXPIRE_TIME
// ("never", "0" or empty means no expiry).
func Init() {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		fmt.Printf("failed to generate ed25519 key pair: %v\n", err)
		os.Exit(1)
	}

	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		tokenTTL = 0
		return
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		fmt.Printf("failed to parse token expire time: %v\n", err)
		os.Exit(1)
	}
	tokenTTL = d
}

// CreateToken issues a capability token binding a participant identity to a
// session code. A handset presents it on reconnect to resume its identity.
func CreateToken(participantID uuid.UUID, sessionCode string) (string, error) {
	claims := jwt.MapClaims{
		"sub": participantID.String(),
		"sid": sessionCode,
	}
	if tokenTTL > 0 {
		claims["exp"] = time.Now().Add(tokenTTL).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// VerifyToken validates a capability token and returns the participant id
// and session code it was issued for.
func VerifyToken(tokenString string) (uuid.UUID, string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("token parse error: %w", err)
	}
	if !t.Valid {
		return uuid.Nil, "", fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, "", fmt.Errorf("invalid token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, "", fmt.Errorf("missing sub claim")
	}
	sid, ok := claims["sid"].(string)
	if !ok {
		return uuid.Nil, "", fmt.Errorf("missing sid claim")
	}
	pid, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("malformed participant id: %w", err)
	}
	return pid, sid, nil
}
