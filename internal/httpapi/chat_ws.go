package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type chatRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type chatResponse struct {
	Sender string `json:"sender"`
	Reply  string `json:"reply"`
	Stage  string `json:"stage,omitempty"`
}

// handleChatWS is a developer console: each inbound (sender, text) frame runs
// one full turn and the reply comes back on the same connection, bypassing
// WhatsApp delivery entirely.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(64 << 10)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))

		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if strings.TrimSpace(req.Sender) == "" || strings.TrimSpace(req.Text) == "" {
			_ = conn.WriteJSON(errorResponse{Code: "invalid_request", Error: "sender and text are required"})
			continue
		}

		reply := s.orchestrator.HandleMessage(r.Context(), req.Sender, req.Text)

		res := chatResponse{Sender: req.Sender, Reply: reply}
		if snap, err := s.orchestrator.Snapshot(r.Context(), req.Sender); err == nil {
			res.Stage = snap.CurrentStage
		}

		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(res); err != nil {
			return
		}
	}
}
