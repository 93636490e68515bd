package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/rafiki/internal/config"
	"github.com/ent0n29/rafiki/internal/counselor"
	"github.com/ent0n29/rafiki/internal/observability"
	"github.com/ent0n29/rafiki/internal/whatsapp"
)

// Orchestrator is the slice of the counselor service the HTTP layer needs.
type Orchestrator interface {
	HandleMessage(ctx context.Context, sender, text string) string
	Snapshot(ctx context.Context, sender string) (counselor.StateSnapshot, error)
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	sender       whatsapp.Sender
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, sender whatsapp.Sender, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		sender:       sender,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot drive the dev console.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/whatsapp/webhook", s.handleWebhook)
	r.Get("/v1/conversations/state", s.handleConversationState)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"delivery":          deliveryMode(s.cfg),
		"session_window_ms": s.cfg.SessionWindow.Milliseconds(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"steps":        []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.TurnStepSnapshot())
}

func (s *Server) handleConversationState(w http.ResponseWriter, r *http.Request) {
	sender := strings.TrimSpace(r.URL.Query().Get("sender"))
	if sender == "" {
		respondError(w, http.StatusBadRequest, "missing_sender", "query parameter sender is required")
		return
	}

	snap, err := s.orchestrator.Snapshot(r.Context(), sender)
	if errors.Is(err, counselor.ErrNoConversation) {
		respondError(w, http.StatusNotFound, "no_conversation", "sender has no active conversation")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "snapshot_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func deliveryMode(cfg config.Config) string {
	if cfg.TwilioConfigured() {
		return "twilio"
	}
	return "log"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
