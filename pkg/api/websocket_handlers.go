package api

import (
	"encoding/json"
	"errors"
	"syscall"

	"github.com/gofiber/contrib/websocket"

	"github.com/open-ar/groundtracker/domain/session"
	customlog "github.com/open-ar/groundtracker/pkg/log"
)

// SessionWebSocketHandler streams pose updates for one session and accepts
// placement commands over the same connection.
func SessionWebSocketHandler(conn *websocket.Conn, sessionID string, sessions *session.Service, logger customlog.Logger) {
	logger.Infof("Session WebSocket connected: %s (session %s)", conn.RemoteAddr(), sessionID)

	updates, cancel, err := sessions.Subscribe(sessionID)
	if err != nil {
		logger.Warnf("WS subscription rejected for session '%s': %v", sessionID, err)
		conn.WriteJSON(map[string]string{"error": err.Error()})
		conn.Close()
		return
	}
	defer cancel()

	// Writer goroutine: pose updates flow out until the subscription closes
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range updates {
			if err := conn.WriteJSON(update); err != nil {
				logger.Infof("Session WS write failed, closing: %v", err)
				conn.Close()
				return
			}
		}
		// Session ended; tell the client before closing
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
		conn.Close()
	}()

	// Read loop: placement commands come in as JSON text messages
	var (
		mt  int
		msg []byte
	)
	for {
		if mt, msg, err = conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Errorf("Session WS read error: %v", err)
			} else {
				if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
					logger.Infof("Session WS connection closed: %v", err)
				} else {
					logger.Infof("Session WS connection closed normally.")
				}
			}
			break
		}

		if mt != websocket.TextMessage {
			logger.Infof("Ignoring non-text session WS message type: %d", mt)
			continue
		}

		var cmd ClientCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			logger.Warnf("Failed to unmarshal WS command: %v. Message: %s", err, string(msg))
			continue
		}

		switch cmd.Type {
		case CommandPlace:
			if err := sessions.Place(sessionID); err != nil {
				logger.Errorf("WS place command failed for session '%s': %v", sessionID, err)
			} else {
				logger.Debugf("WS place command committed for session '%s'", sessionID)
			}
		default:
			logger.Warnf("Unknown WS command type '%s' for session '%s'", cmd.Type, sessionID)
		}
	}

	cancel()
	<-done
	logger.Infof("Session WebSocket disconnected: %s (session %s)", conn.RemoteAddr(), sessionID)
}
