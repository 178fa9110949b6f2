package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/agroassist/internal/analysis"
	"github.com/i474232898/agroassist/internal/connectivity"
	"github.com/i474232898/agroassist/internal/outbox"
)

const (
	eventSendTimeout = 10 * time.Second
	drainTimeout     = time.Minute
)

// relayingChecker feeds every probe result to the relay, so a link marked
// down after a failed send is drained on the next successful probe. The drain
// runs in the background; a probe never waits on event delivery.
type relayingChecker struct {
	*connectivity.Prober
	relay        *outbox.Relay[outbox.Event]
	drainTimeout time.Duration
}

func (c *relayingChecker) Probe(ctx context.Context, baseURL string) connectivity.Status {
	st := c.Prober.Probe(ctx, baseURL)
	c.relay.SetReachableAsync(st.Reachable, c.drainTimeout)
	return st
}

// eventingAnalyzer reports successful analyses to the backend.
type eventingAnalyzer struct {
	pipeline *analysis.Pipeline
	relay    *outbox.Relay[outbox.Event]
	logger   zerolog.Logger
}

func (a *eventingAnalyzer) Submit(ctx context.Context, ref analysis.ImageRef) (analysis.AnalysisResult, error) {
	res, err := a.pipeline.Submit(ctx, ref)
	if err == nil {
		publishEvent(a.relay, "analysis.completed", res, a.logger)
	}
	return res, err
}

// publishEvent hands payload to the relay without blocking the caller.
func publishEvent(relay *outbox.Relay[outbox.Event], eventType string, payload any, log zerolog.Logger) {
	ev, err := outbox.NewEvent(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("cannot encode event")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventSendTimeout)
		defer cancel()
		if err := relay.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("type", eventType).Str("id", ev.ID).Msg("event dropped")
		}
	}()
}
