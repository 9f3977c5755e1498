// internal/hub/ws.go
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"partyhub/internal/metrics"
	"partyhub/internal/session"
)

// Subprotocol clients must negotiate.
const subprotocol = "partyhub"

// Application close codes.
const (
	CloseBadSubprotocol websocket.StatusCode = 3000
	CloseSuperseded     websocket.StatusCode = 3001
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	outBuffer    = 32
)

// PresenterHandler accepts display connections on /ws/presenter.
func (h *Hub) PresenterHandler() http.HandlerFunc {
	return h.wsHandler(session.RolePresenter)
}

// ParticipantHandler accepts handset connections on /ws/participant.
func (h *Hub) ParticipantHandler() http.HandlerFunc {
	return h.wsHandler(session.RoleParticipant)
}

func (h *Hub) wsHandler(role session.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{subprotocol},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			h.log.Warnf("websocket accept failed: %v", err)
			return
		}
		defer ws.Close(websocket.StatusInternalError, "handler exited")

		if ws.Subprotocol() != subprotocol {
			ws.Close(CloseBadSubprotocol, "client must speak the partyhub subprotocol")
			return
		}
		metrics.ConnectionsTotal.WithLabelValues(string(role)).Inc()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		conn := &session.Conn{
			Role:   role,
			Cancel: cancel,
			Out:    make(chan interface{}, outBuffer),
		}
		c := &client{conn: conn, role: role}

		h.log.Infof("%s connected from %s", role, r.RemoteAddr)
		go h.writePump(ctx, ws, conn)
		h.sendCatalog(conn)
		h.readPump(ctx, ws, c)
		h.disconnect(c)
		h.log.Infof("%s from %s disconnected", role, r.RemoteAddr)

		ws.Close(websocket.StatusNormalClosure, "bye")
	}
}

// readPump decodes inbound frames and feeds dispatch until the socket or
// context dies.
func (h *Hub) readPump(ctx context.Context, ws *websocket.Conn, c *client) {
	for {
		if ctx.Err() != nil {
			return
		}
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.conn.WriteError("Invalid JSON format")
			continue
		}
		h.dispatch(c, env)
	}
}

// writePump serializes outbound messages and keeps the socket alive with
// pings. All writes to the socket happen here.
func (h *Hub) writePump(ctx context.Context, ws *websocket.Conn, conn *session.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.Out:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Errorf("outbound marshal failed: %v", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
