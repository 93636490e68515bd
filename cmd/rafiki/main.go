package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ent0n29/rafiki/internal/config"
	"github.com/ent0n29/rafiki/internal/counselor"
	"github.com/ent0n29/rafiki/internal/httpapi"
	"github.com/ent0n29/rafiki/internal/interview"
	"github.com/ent0n29/rafiki/internal/llm"
	"github.com/ent0n29/rafiki/internal/observability"
	"github.com/ent0n29/rafiki/internal/session"
	"github.com/ent0n29/rafiki/internal/store"
	"github.com/ent0n29/rafiki/internal/whatsapp"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("store: in-memory (DATABASE_URL not set)")
	} else {
		log.Printf("store: postgres")
	}

	client := llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)

	sessions := session.NewManager(st, cfg.SessionWindow)
	classifier := interview.NewClassifier(client, cfg.ClassifierTimeout)
	machine := interview.NewMachine(classifier)
	service := counselor.New(st, sessions, machine, client, metrics, cfg.GenerationTimeout)

	var sender whatsapp.Sender
	if cfg.TwilioConfigured() {
		sender = whatsapp.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		log.Printf("delivery: twilio whatsapp from %s", cfg.TwilioFromNumber)
	} else {
		sender = whatsapp.LogSender{}
		log.Printf("delivery: log mode (no twilio credentials)")
	}

	api := httpapi.New(cfg, service, sender, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
