package session

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet excludes ambiguous characters: 0, O, 1, I, L
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// generateCode builds a random human-enterable session code of n characters.
func generateCode(n int) (string, error) {
	code := make([]byte, n)
	for i := range code {
		v, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[v.Int64()]
	}
	return string(code), nil
}
