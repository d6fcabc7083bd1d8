package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/tailored-agentic-units/empath/engine"
	"github.com/tailored-agentic-units/empath/observability"
	"github.com/tailored-agentic-units/empath/server"
)

func main() {
	var (
		configFile    = flag.String("config", "", "Path to config JSON file")
		addr          = flag.String("addr", ":8080", "HTTP listen address")
		emotionURL    = flag.String("emotion-url", "", "Emotion classifier base URL (overrides config)")
		distortionURL = flag.String("distortion-url", "", "Distortion detector base URL (overrides config)")
		sessionDB     = flag.String("session-db", "", "SQLite session database path (overrides config)")
		verbose       = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	cfg := engine.DefaultConfig()
	if *configFile != "" {
		loaded, err := engine.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}

	if *emotionURL != "" {
		cfg.Classify.EmotionURL = *emotionURL
	}
	if *distortionURL != "" {
		cfg.Classify.DistortionURL = *distortionURL
	}
	if *sessionDB != "" {
		cfg.Session.Path = *sessionDB
	}
	if key := os.Getenv("HUGGINGFACE_API_KEY"); key != "" {
		cfg.Generate.APIKey = key
	}
	if url := os.Getenv("CLASSIFIER_API_URL"); url != "" && cfg.Classify.EmotionURL == "" {
		cfg.Classify.EmotionURL = url
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	e, err := engine.New(&cfg)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer e.Close()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           server.New(e, observability.NewSlogObserver(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "addr", *addr, "models", len(cfg.Generate.Models))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}
