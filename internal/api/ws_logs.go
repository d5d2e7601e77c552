package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/amadeuslabs/toolproxyd/internal/manager"
	"github.com/amadeuslabs/toolproxyd/internal/security"
)

// handleLogsWS upgrades the connection to a WebSocket and streams
// captured tool process output as JSON frames.
//
// Flow:
//  1. Validate ?token= when a JWT secret is configured.
//  2. Accept the upgrade.
//  3. Replay recent lines, then forward live lines from the log hub.
//
// An optional ?tool= query filters to one tool's output. Slow clients
// lose lines (hub policy); the supervisor's pump is never blocked by a
// client.
func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	if s.jwtSecret != nil {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		if _, err := security.ValidateToken(tokenStr, s.jwtSecret); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS is handled at the HTTP layer
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	toolFilter := r.URL.Query().Get("tool")

	// CloseRead pumps and discards client frames; its context ends when
	// the client goes away.
	ctx := conn.CloseRead(r.Context())

	lines, cancel := s.hub.Subscribe()
	defer cancel()

	for _, line := range s.hub.Recent(50) {
		if err := s.sendLine(ctx, conn, line, toolFilter); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := s.sendLine(ctx, conn, line, toolFilter); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendLine(ctx context.Context, conn *websocket.Conn, line manager.LogLine, toolFilter string) error {
	if toolFilter != "" && line.Tool != toolFilter {
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, line)
}
