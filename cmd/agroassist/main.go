package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kelvins/geocoder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/i474232898/agroassist/internal/analysis"
	httpapi "github.com/i474232898/agroassist/internal/api/http"
	"github.com/i474232898/agroassist/internal/config"
	"github.com/i474232898/agroassist/internal/connectivity"
	"github.com/i474232898/agroassist/internal/logging"
	"github.com/i474232898/agroassist/internal/metrics"
	"github.com/i474232898/agroassist/internal/outbox"
	"github.com/i474232898/agroassist/internal/scheduler"
	"github.com/i474232898/agroassist/internal/store"
	"github.com/i474232898/agroassist/internal/weather"
	"github.com/i474232898/agroassist/internal/weather/providers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("agroassist stopped")
	}
}

func run(cfg *config.AppConfig, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init(prometheus.DefaultRegisterer)

	kv, closeKV, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeKV()

	// Timeouts are per call, set through contexts.
	httpClient := &http.Client{}

	prober := connectivity.NewProber(httpClient, cfg.Timeouts.Probe, log)
	pipeline := analysis.NewPipeline(analysis.Config{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.Timeouts.Analysis,
	}, httpClient, prober, log)

	service := newWeatherService(cfg, kv, httpClient, log)

	policy, err := outbox.ParsePolicy(cfg.Outbox.Policy)
	if err != nil {
		return err
	}
	sender := outbox.NewHTTPSender(httpClient, cfg.BackendBaseURL).WithTimeout(eventSendTimeout)
	relay := outbox.NewRelay[outbox.Event](outbox.New[outbox.Event](cfg.Outbox.Capacity, policy), sender.Send, log)

	prober.OnChange(func(st connectivity.Status) {
		log.Info().Bool("reachable", st.Reachable).Str("reason", string(st.Reason)).Msg("backend connectivity changed")
	})
	checker := &relayingChecker{Prober: prober, relay: relay, drainTimeout: drainTimeout}

	service.Subscribe(func(s weather.Snapshot) {
		if s.Synthetic {
			return
		}
		publishEvent(relay, "weather.updated", s, log)
	})
	analyzer := &eventingAnalyzer{pipeline: pipeline, relay: relay, logger: log}

	sched := scheduler.New(checker, service, cfg.BackendBaseURL, cfg.RefreshInterval, log)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "agroassist",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Image analysis may take the full analysis timeout twice (primary and fallback).
		WriteTimeout: 2*cfg.Timeouts.Analysis + 5*time.Second,
		BodyLimit:    analysis.DefaultMaxImageBytes + 1<<20,
		ErrorHandler: httpapi.ErrorHandler,
	})
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		BackendURL: cfg.BackendBaseURL,
		Checker:    checker,
		Weather:    service,
		Analyzer:   analyzer,
		Outbox:     relay,
		Metrics:    promhttp.Handler(),
		Logger:     log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.BackendBaseURL).Msg("agroassist listening")
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("fiber server stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	log.Info().Int("pending_events", relay.Pending()).Msg("agroassist stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.KV, func(), error) {
	switch cfg.Backend {
	case "valkey":
		s, err := store.DialValkey(cfg.ValkeyAddr, "agroassist")
		if err != nil {
			return nil, nil, fmt.Errorf("connect valkey: %w", err)
		}
		return s, s.Close, nil
	case "postgres":
		s, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return s, s.Close, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func newWeatherService(cfg *config.AppConfig, kv store.KV, client *http.Client, log zerolog.Logger) *weather.Service {
	httpCfg := providers.HTTPClientConfig{
		Client:  client,
		Timeout: cfg.Timeouts.Weather,
		Retry: providers.RetryPolicy{
			MaxRetries: cfg.Weather.RetryMax,
			BaseDelay:  cfg.Weather.RetryBaseDelay,
			MaxDelay:   10 * time.Second,
		},
	}

	var provider weather.Provider
	if cfg.Weather.APIKey != "" {
		provider = providers.NewOpenWeatherProvider(providers.OpenWeatherConfig{
			BaseURL: cfg.Weather.BaseURL,
			APIKey:  cfg.Weather.APIKey,
			Units:   cfg.Weather.Units,
			Lang:    cfg.Weather.Lang,
		}, httpCfg, log)
	} else {
		log.Info().Msg("no OpenWeatherMap key, using Open-Meteo")
		provider = providers.NewOpenMeteoProvider(cfg.Weather.OpenMeteoURL, httpCfg, log)
	}

	var rg weather.ReverseGeocoder
	if cfg.Location.GeocoderAPIKey != "" {
		geocoder.ApiKey = cfg.Location.GeocoderAPIKey
		rg = weather.NewGoogleGeocoder()
	}

	resolver := weather.NewLocationResolver(
		store.NewCache[weather.Location](kv, store.KeyLocationCache, cfg.Location.CacheTTL),
		weather.StaticLocator{Position: cfg.Location.Device},
		rg,
		&weather.Location{
			Coordinates: cfg.Location.Default,
			City:        cfg.Location.DefaultCity,
			Country:     cfg.Location.DefaultCountry,
		},
		log,
	)
	return weather.NewService(
		provider,
		resolver,
		store.NewCache[weather.Snapshot](kv, store.KeyWeatherCache, cfg.Weather.CacheTTL),
		log,
	)
}
