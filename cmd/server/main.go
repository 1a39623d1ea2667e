package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voice-agent/internal/adapters/engine"
	router "github.com/dkeye/voice-agent/internal/adapters/http"
	"github.com/dkeye/voice-agent/internal/adapters/identity"
	"github.com/dkeye/voice-agent/internal/adapters/persistence"
	"github.com/dkeye/voice-agent/internal/adapters/room"
	"github.com/dkeye/voice-agent/internal/app"
	"github.com/dkeye/voice-agent/internal/app/orch"
	"github.com/dkeye/voice-agent/internal/config"
	"github.com/dkeye/voice-agent/internal/metrics"
)

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		log.Warn().Strs("missing", missing).Msg("sessions cannot start until credentials are configured")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	ingest := persistence.New(persistence.Options{
		BaseURL: cfg.Persistence.BaseURL,
		Token:   cfg.Persistence.IngestToken,
		Timeout: cfg.Persistence.Timeout,
		Metrics: m,
	})
	if !ingest.Configured() {
		log.Info().Msg("persistence not configured, events are not stored")
	}

	minter := room.NewTokenMinter(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.Token.TTL)
	llm := engine.NewOpenAI(engine.OpenAIOptions{
		BaseURL:  cfg.OpenAI.BaseURL,
		APIKey:   cfg.OpenAI.APIKey,
		Model:    cfg.OpenAI.Model,
		TTSModel: cfg.OpenAI.TTSModel,
	})
	engines := engine.NewFactory(engine.FactoryOptions{
		Providers: engine.Providers{
			STT: cfg.Providers.STT,
			TTS: cfg.Providers.TTS,
			LLM: cfg.Providers.LLM,
		},
		STT: engine.NewDeepgram(engine.DeepgramOptions{
			URL:          cfg.Deepgram.URL,
			APIKey:       cfg.Deepgram.APIKey,
			Model:        cfg.Deepgram.Model,
			Language:     cfg.Deepgram.Language,
			Endpointing:  seconds(cfg.VAD.MinSilenceDuration),
			UtteranceEnd: seconds(cfg.VAD.MinSilenceDuration + cfg.VAD.PaddingDuration),
		}),
		Chat:      llm,
		TTS:       llm,
		Voice:     cfg.TTSVoice,
		Language:  cfg.Deepgram.Language,
		MinSpeech: cfg.VAD.MinSpeechDuration,
		Greet:     true,
	})
	if err := engines.Validate(); err != nil {
		log.Warn().Err(err).Msg("engine providers unsupported, sessions will be rejected")
	}

	orchestrator := orch.New(ctx, orch.Deps{
		Router:          app.NewEventRouter(ingest, m),
		Media:           room.NewDialer(cfg.LiveKit.URL, minter),
		Engines:         engines,
		Credentials:     cfg,
		Metrics:         m,
		TeardownTimeout: cfg.Session.TeardownTimeout,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:     orchestrator,
		Identity: identity.New(cfg.Persistence.BaseURL, cfg.Persistence.Timeout, nil),
		Tokens:   minter,
		Ingest:   ingest,
		Limiter:  router.NewStartLimiter(cfg.Session.StartLimit, cfg.Session.StartWindow),
		Gatherer: reg,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Voice agent server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Session.TeardownTimeout+5*time.Second)
	defer shutdownCancel()
	orchestrator.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
