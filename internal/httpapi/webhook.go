package httpapi

import (
	"log"
	"net/http"
	"strings"
)

// webhookRequest mirrors Twilio's inbound WhatsApp payload fields the service
// needs: sender identity and message text.
type webhookRequest struct {
	From string `json:"From"`
	Body string `json:"Body"`
}

// handleWebhook accepts Twilio's form-encoded webhook (with a JSON fallback
// for manual testing), runs one turn and hands the reply to the delivery
// sender.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	req, err := parseWebhook(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.From) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "From is required")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "Body is required")
		return
	}

	reply := s.orchestrator.HandleMessage(r.Context(), req.From, req.Body)

	if err := s.sender.Send(r.Context(), req.From, reply); err != nil {
		log.Printf("webhook: delivery to %s failed: %v", req.From, err)
		s.metrics.DeliveryMessages.WithLabelValues("error").Inc()
		respondError(w, http.StatusBadGateway, "delivery_failed", "failed to deliver reply")
		return
	}
	s.metrics.DeliveryMessages.WithLabelValues("sent").Inc()

	respondJSON(w, http.StatusOK, map[string]any{
		"status": "sent",
		"reply":  reply,
	})
}

func parseWebhook(r *http.Request) (webhookRequest, error) {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.Contains(ct, "application/json") {
		var req webhookRequest
		if err := decodeJSON(r, &req); err != nil {
			return webhookRequest{}, err
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return webhookRequest{}, err
	}
	return webhookRequest{
		From: r.PostFormValue("From"),
		Body: r.PostFormValue("Body"),
	}, nil
}
