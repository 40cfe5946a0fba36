package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/murshid-dev/murshid/internal/history"
)

type wsQuestion struct {
	Question  string         `json:"question"`
	SessionID string         `json:"session_id"`
	History   []history.Turn `json:"history"`
}

type wsTyping struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wsResult struct {
	Type string `json:"type"`
	chatResponse
}

type wsError struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// handleChatWS runs turns over a websocket, streaming the typing
// simulation ahead of the final result so clients can animate the
// reveal without polling. One question is in flight per connection at
// a time.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
		}
	}()

	userID := s.auth.UserID(r)
	conn.SetReadLimit(1 << 20)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		var q wsQuestion
		if err := conn.ReadJSON(&q); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("chat websocket closed", zap.Error(err))
			}
			return
		}

		res, err := s.orchestrator.HandleTurn(r.Context(), userID, q.SessionID, q.Question, q.History)
		if err != nil {
			s.logger.Error("websocket turn failed", zap.Error(err))
			if writeErr := s.writeWS(conn, wsError{Type: "error", Code: "turn_failed", Error: err.Error()}); writeErr != nil {
				return
			}
			continue
		}

		for _, prefix := range res.Typing {
			if err := s.writeWS(conn, wsTyping{Type: "typing", Text: prefix}); err != nil {
				return
			}
		}
		if err := s.writeWS(conn, wsResult{Type: "result", chatResponse: toChatResponse(res)}); err != nil {
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}
