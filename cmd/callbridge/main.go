// Package main is the entry point for callbridge
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shiv6146/callbridge/internal/api"
	"github.com/shiv6146/callbridge/internal/bridge"
	"github.com/shiv6146/callbridge/internal/call"
	"github.com/shiv6146/callbridge/internal/callrecord"
	"github.com/shiv6146/callbridge/internal/config"
	"github.com/shiv6146/callbridge/internal/dashboard"
	"github.com/shiv6146/callbridge/internal/elevenlabs"
	"github.com/shiv6146/callbridge/internal/logging"
	"github.com/shiv6146/callbridge/internal/metrics"
	"github.com/shiv6146/callbridge/internal/store"
	"github.com/shiv6146/callbridge/internal/summary"
	"github.com/shiv6146/callbridge/internal/telephony"

	_ "github.com/shiv6146/callbridge/docs" // Import generated swagger docs
)

// @title callbridge API
// @version 1.0
// @description Twilio to ElevenLabs conversational AI relay

// @contact.name API Support
// @contact.url https://github.com/shiv6146/callbridge

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8000
// @BasePath /

// @securityDefinitions.basic BasicAuth

func main() {
	// Load configuration
	cfg := config.Load()

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Msg("Starting callbridge...")

	if err := cfg.ValidateElevenLabs(); err != nil {
		log.Fatal().Err(err).Msg("Invalid ElevenLabs configuration")
	}
	if err := cfg.ValidateAuth(); err != nil {
		log.Fatal().Err(err).Msg("Invalid API auth configuration")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	log.Info().Msg("Connecting to PostgreSQL...")
	pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pgStore.Close()

	if err := pgStore.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	log.Info().Msg("PostgreSQL connected")

	// Connect to Valkey (optional)
	var (
		kv      callrecord.KV
		tracker call.ActiveCallStore
		counter api.ActiveCallCounter
	)
	if cfg.ValkeyURL != "" {
		log.Info().Msg("Connecting to Valkey...")
		cache, err := store.NewCache(ctx, cfg.ValkeyURL, cfg.ValkeyPassword, cfg.ValkeyDB)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Valkey, continuing with in-memory correlation")
		} else {
			defer cache.Close()
			kv, tracker, counter = cache, cache, cache
			log.Info().Msg("Valkey connected")
		}
	}
	if kv == nil {
		memory := callrecord.NewMemoryKV(true)
		defer memory.Close()
		kv = memory
	}

	m := metrics.NewMetrics()
	hub := dashboard.NewHub(logging.Component(log, "dashboard"), m)

	// Transcript analysis (optional)
	recordOpts := callrecord.Options{
		Repository: pgStore,
		KV:         kv,
		Notifier:   hub,
		TTL:        cfg.CorrelationTTL,
		Logger:     logging.Component(log, "callrecord"),
	}
	if cfg.GeminiAPIKey != "" {
		analyzer, err := summary.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logging.Component(log, "summary"))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create Gemini client, call summaries disabled")
		} else {
			recordOpts.Summarizer = analyzer
		}
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, call summaries disabled")
	}
	records := callrecord.NewService(recordOpts)

	signer := elevenlabs.New(elevenlabs.Config{
		APIKey:          cfg.ElevenLabsAPIKey,
		AgentID:         cfg.ElevenLabsAgentID,
		BaseURL:         cfg.ElevenLabsBaseURL,
		StaticSignedURL: cfg.ElevenLabsSignedURL,
		Timeout:         cfg.SignedURLHTTPTimeout,
	})

	manager := call.NewManager(bridge.Options{
		Acquirer: signer,
		Dialer: bridge.WebsocketDialer{
			Dialer: &websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: cfg.UpstreamConnectTimeout,
			},
		},
		Linker:               records,
		Notifier:             hub,
		Recorder:             m,
		Logger:               logging.Component(log, "bridge"),
		ConnectTimeout:       cfg.UpstreamConnectTimeout,
		GracePeriod:          cfg.DrainGracePeriod,
		FirstMessageTemplate: cfg.FirstMessageTemplate,
		FallbackName:         cfg.FallbackCallerName,
	}, tracker, logging.Component(log, "calls"))

	deps := api.Deps{
		Records:   records,
		Streams:   manager,
		Observers: hub,
		Tracker:   counter,
		Metrics:   m,
		Logger:    logging.Component(log, "api"),
	}
	if err := cfg.ValidateTwilio(); err != nil {
		log.Warn().Err(err).Msg("Twilio not configured, outbound calling disabled")
	} else {
		deps.Originator = telephony.NewCaller(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber, logging.Component(log, "twilio"))
	}

	// Create and start API server
	apiServer := api.NewServer(cfg, deps)

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server error")
			cancel()
		}
	}()

	log.Info().
		Str("api", "http://"+cfg.APIHost).
		Int("port", cfg.APIPort).
		Str("public_url", cfg.PublicURL).
		Bool("metrics", cfg.MetricsEnabled).
		Msg("callbridge is running")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Info().Msg("Shutdown signal received, stopping services...")
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop API server
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown error")
	}

	// Hang up every live relay
	manager.CloseAll()

	cancel()
	log.Info().Msg("callbridge stopped")
}
