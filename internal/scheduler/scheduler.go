package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/agroassist/internal/connectivity"
	"github.com/i474232898/agroassist/internal/weather"
)

// Prober checks backend reachability.
type Prober interface {
	Probe(ctx context.Context, baseURL string) connectivity.Status
}

// Fetcher refreshes weather data.
type Fetcher interface {
	FetchData(ctx context.Context, forceRefresh bool) (weather.Snapshot, error)
}

// Scheduler periodically probes the backend and refreshes weather.
type Scheduler struct {
	scheduler *gocron.Scheduler
	prober    Prober
	fetcher   Fetcher
	baseURL   string
	interval  time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
}

// New creates a new Scheduler. Either prober or fetcher may be nil.
func New(prober Prober, fetcher Fetcher, baseURL string, interval time.Duration, logger zerolog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		prober:    prober,
		fetcher:   fetcher,
		baseURL:   baseURL,
		interval:  interval,
		timeout:   time.Minute,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start schedules the periodic job, runs it once immediately and starts the
// underlying scheduler.
func (s *Scheduler) Start() error {
	interval := s.interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	_, err := s.scheduler.Every(interval).Do(s.RunOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce probes the backend, then refreshes weather through the cache.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if s.prober != nil {
		st := s.prober.Probe(ctx, s.baseURL)
		s.logger.Debug().Bool("reachable", st.Reachable).Str("reason", string(st.Reason)).Msg("backend probed")
	}
	if s.fetcher != nil {
		snap, err := s.fetcher.FetchData(ctx, false)
		if err != nil {
			s.logger.Warn().Err(err).Bool("synthetic", snap.Synthetic).Msg("scheduled weather refresh failed")
			return
		}
		s.logger.Debug().Time("fetched_at", snap.FetchedAt).Msg("scheduled weather refresh done")
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
