package weather

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/agroassist/internal/metrics"
	"github.com/i474232898/agroassist/internal/pubsub"
	"github.com/i474232898/agroassist/internal/store"
)

// Service resolves the location, serves cached snapshots and otherwise fetches
// current and forecast data concurrently. Concurrent FetchData calls share one
// in-flight fetch.
type Service struct {
	provider Provider
	resolver *LocationResolver
	cache    *store.Cache[Snapshot]
	hub      *pubsub.Hub[Snapshot]
	group    singleflight.Group
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	last    Snapshot
	hasLast bool
}

// NewService creates a new Service.
func NewService(provider Provider, resolver *LocationResolver, cache *store.Cache[Snapshot], logger zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		resolver: resolver,
		cache:    cache,
		hub:      pubsub.NewHub[Snapshot](),
		logger:   logger.With().Str("component", "weather.service").Str("provider", provider.Name()).Logger(),
		now:      time.Now,
	}
}

// FetchData returns a snapshot for the current location. Unless forceRefresh is
// set, a cached snapshot for the same coordinates within TTL is returned without
// network I/O. When the upstream fails, a Synthetic snapshot is returned together
// with a *FetchError. A caller whose ctx ends stops waiting and gets ctx.Err();
// the shared fetch runs on for the others.
func (s *Service) FetchData(ctx context.Context, forceRefresh bool) (Snapshot, error) {
	key := "fetch"
	if forceRefresh {
		key = "fetch:force"
	}
	// The shared fetch must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)

	ch := s.group.DoChan(key, func() (any, error) {
		return s.fetch(shared, forceRefresh)
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.Debug().Str("key", key).Msg("joined in-flight fetch")
		}
		snap, _ := res.Val.(Snapshot)
		return snap, res.Err
	}
}

func (s *Service) fetch(ctx context.Context, force bool) (Snapshot, error) {
	loc, err := s.resolver.Resolve(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	if !force {
		cached, ok, err := s.cache.Load(ctx, &loc.Coordinates)
		if err != nil {
			s.logger.Warn().Err(err).Msg("weather cache unreadable")
		}
		metrics.IncCacheLookup(store.KeyWeatherCache, ok)
		if ok {
			s.setLast(cached)
			return cached, nil
		}
	}

	var (
		current  Current
		forecast Forecast
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = s.provider.Current(gctx, loc.Coordinates)
		return err
	})
	g.Go(func() error {
		var err error
		forecast, err = s.provider.Forecast(gctx, loc.Coordinates)
		return err
	})

	if err := g.Wait(); err != nil {
		fe := toFetchError(err)
		snap := Synthetic(loc, s.now())
		s.logger.Error().
			Err(err).
			Str("kind", string(fe.Kind)).
			Int("status", fe.StatusCode).
			Int("attempts", fe.Attempts).
			Msg("weather fetch failed, serving synthetic snapshot")
		s.setLast(snap)
		s.hub.Publish(snap)
		return snap, fe
	}

	now := s.now().UTC()
	days := AggregateDaily(forecast.Readings, forecast.UTCOffset)
	snap := Snapshot{
		Location:     loc,
		Current:      current,
		ForecastDays: days,
		Tomorrow:     DayAfter(days, now, forecast.UTCOffset),
		FetchedAt:    now,
	}
	if err := s.cache.Store(ctx, snap, &loc.Coordinates); err != nil {
		s.logger.Warn().Err(err).Msg("weather cache write failed")
	}
	s.setLast(snap)
	s.hub.Publish(snap)
	s.logger.Info().Str("city", loc.City).Str("at", loc.Coordinates.String()).Int("days", len(days)).Msg("weather refreshed")
	return snap, nil
}

// Last returns the most recent snapshot returned by FetchData, if any.
func (s *Service) Last() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}

// Subscribe registers fn for every published snapshot. Publishes happen after
// upstream fetches, real or synthetic; cache hits are not republished.
func (s *Service) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return s.hub.Subscribe(fn)
}

// ClearCache drops cached weather and location.
func (s *Service) ClearCache(ctx context.Context) error {
	return errors.Join(s.cache.Clear(ctx), s.resolver.cache.Clear(ctx))
}

func (s *Service) setLast(snap Snapshot) {
	s.mu.Lock()
	s.last, s.hasLast = snap, true
	s.mu.Unlock()
}

// Synthetic builds the placeholder snapshot served when no data is available.
// Values are fixed so consumers and tests can rely on them.
func Synthetic(loc Location, now time.Time) Snapshot {
	now = now.UTC()
	current := Current{
		Temperature: 28,
		Description: "Données météo indisponibles",
		Icon:        "01d",
		Condition:   ConditionUnknown,
		Humidity:    65,
		WindSpeedMs: 3,
		Pressure:    1013,
	}

	days := make([]DailySample, 0, MaxForecastDays)
	for i := 0; i < MaxForecastDays; i++ {
		days = append(days, DailySample{
			Date:        now.AddDate(0, 0, i).Format(time.DateOnly),
			TempMin:     22,
			TempMax:     32,
			Humidity:    65,
			WindSpeedMs: 3,
			Description: current.Description,
			Icon:        current.Icon,
			Condition:   ConditionUnknown,
		})
	}
	tomorrow := days[1]

	return Snapshot{
		Location:     loc,
		Current:      current,
		ForecastDays: days,
		Tomorrow:     &tomorrow,
		FetchedAt:    now,
		Synthetic:    true,
	}
}
