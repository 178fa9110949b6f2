package weather

import (
	"context"
	"errors"
	"fmt"

	"github.com/kelvins/geocoder"
	"github.com/rs/zerolog"

	"github.com/i474232898/agroassist/internal/geo"
	"github.com/i474232898/agroassist/internal/metrics"
	"github.com/i474232898/agroassist/internal/store"
)

// Locator reports the device position. It returns ErrLocationDenied (possibly
// wrapped) when permission is refused or the position is unknown.
type Locator interface {
	Locate(ctx context.Context) (geo.Coordinates, error)
}

// StaticLocator serves a configured position, or denial when none is set.
type StaticLocator struct {
	Position *geo.Coordinates
}

func (l StaticLocator) Locate(context.Context) (geo.Coordinates, error) {
	if l.Position == nil {
		return geo.Coordinates{}, ErrLocationDenied
	}
	return *l.Position, nil
}

// ReverseGeocoder names the place at a position.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, at geo.Coordinates) (city, country string, err error)
}

// ErrGeocoderBusy is returned while an earlier lookup is still running.
var ErrGeocoderBusy = errors.New("reverse geocoder busy")

// GoogleGeocoder reverse geocodes through the Google Geocoding API. The geocoder
// package reads its API key from geocoder.ApiKey, which main sets once at
// startup. Lookups cannot be canceled: when ctx ends, Reverse returns but the
// request runs until the library's HTTP call finishes, so at most one lookup is
// in flight at a time and extra calls fail fast with ErrGeocoderBusy.
type GoogleGeocoder struct {
	lookup func(geocoder.Location) ([]geocoder.Address, error)
	slot   chan struct{}
}

// NewGoogleGeocoder creates a GoogleGeocoder.
func NewGoogleGeocoder() *GoogleGeocoder {
	return &GoogleGeocoder{
		lookup: geocoder.GeocodingReverse,
		slot:   make(chan struct{}, 1),
	}
}

func (g *GoogleGeocoder) Reverse(ctx context.Context, at geo.Coordinates) (string, string, error) {
	select {
	case g.slot <- struct{}{}:
	default:
		return "", "", ErrGeocoderBusy
	}

	type result struct {
		addrs []geocoder.Address
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-g.slot }()
		addrs, err := g.lookup(geocoder.Location{Latitude: at.Lat, Longitude: at.Lon})
		done <- result{addrs, err}
	}()

	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", "", r.err
		}
		for _, a := range r.addrs {
			if a.City != "" {
				return a.City, a.Country, nil
			}
		}
		return "", "", errors.New("no address for position")
	}
}

// LocationResolver turns the device position into a Location, using a
// time-boxed cache and a fixed default when the device cannot provide one.
type LocationResolver struct {
	cache    *store.Cache[Location]
	locator  Locator
	geocoder ReverseGeocoder
	fallback *Location
	logger   zerolog.Logger
}

// NewLocationResolver creates a resolver. geocoder may be nil. A nil fallback
// makes denial fatal.
func NewLocationResolver(cache *store.Cache[Location], locator Locator, rg ReverseGeocoder, fallback *Location, logger zerolog.Logger) *LocationResolver {
	if fallback != nil {
		fb := *fallback
		fb.Fallback = true
		fallback = &fb
	}
	return &LocationResolver{
		cache:    cache,
		locator:  locator,
		geocoder: rg,
		fallback: fallback,
		logger:   logger.With().Str("component", "weather.location").Logger(),
	}
}

// Resolve returns the cached location when fresh, else asks the locator.
// Locator failures resolve to the fallback location and are never fatal unless
// no fallback is configured.
func (r *LocationResolver) Resolve(ctx context.Context) (Location, error) {
	cached, ok, err := r.cache.Load(ctx, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("location cache unreadable")
	}
	metrics.IncCacheLookup(store.KeyLocationCache, ok)
	if ok {
		return cached, nil
	}

	pos, err := r.locator.Locate(ctx)
	if err != nil {
		if r.fallback == nil {
			return Location{}, &FetchError{Kind: KindLocationDenied, Attempts: 1, Err: err}
		}
		r.logger.Info().Err(err).Str("city", r.fallback.City).Msg("device location unavailable, using default")
		return *r.fallback, nil
	}

	loc := Location{Coordinates: pos}
	if r.geocoder != nil {
		city, country, gerr := r.geocoder.Reverse(ctx, pos)
		if gerr != nil {
			r.logger.Warn().Err(gerr).Str("at", pos.String()).Msg("reverse geocoding failed")
		} else {
			loc.City, loc.Country = city, country
		}
	}
	if loc.City == "" {
		loc.City = fmt.Sprintf("%.2f, %.2f", pos.Lat, pos.Lon)
	}

	if err := r.cache.Store(ctx, loc, nil); err != nil {
		r.logger.Warn().Err(err).Msg("location cache write failed")
	}
	return loc, nil
}
