package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "agroassist_"

var (
	registerOnce sync.Once

	probeTotal   *prometheus.CounterVec
	probeLatency prometheus.Histogram

	transportAttempts *prometheus.CounterVec
	transportFallback prometheus.Counter

	upstreamRetries *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec

	outboxDropped *prometheus.CounterVec
	outboxSent    prometheus.Counter
)

// Init registers collectors with reg. Calls after the first are no-ops.
// Recording functions are safe to call before Init; values are dropped.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		probeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "probe_total",
				Help: "Connectivity probes by outcome reason",
			},
			[]string{"reason"},
		)
		probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "probe_latency_seconds",
			Help:    "Latency of connectivity probes",
			Buckets: prometheus.DefBuckets,
		})
		transportAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "analysis_transport_attempts_total",
				Help: "Image submission attempts by transport and result",
			},
			[]string{"transport", "result"},
		)
		transportFallback = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "analysis_fallback_total",
			Help: "Image submissions that switched to the base64 transport",
		})
		upstreamRetries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "upstream_retries_total",
				Help: "Retried upstream weather requests by endpoint",
			},
			[]string{"endpoint"},
		)
		upstreamLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "upstream_latency_seconds",
				Help:    "Upstream weather request latency by endpoint and result",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "result"},
		)
		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_lookups_total",
				Help: "Cache lookups by cache name and outcome",
			},
			[]string{"cache", "outcome"},
		)
		outboxDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dropped_total",
				Help: "Outbox messages discarded by overflow policy",
			},
			[]string{"policy"},
		)
		outboxSent = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "outbox_sent_total",
			Help: "Outbox messages delivered",
		})

		if reg != nil {
			reg.MustRegister(
				probeTotal,
				probeLatency,
				transportAttempts,
				transportFallback,
				upstreamRetries,
				upstreamLatency,
				cacheLookups,
				outboxDropped,
				outboxSent,
			)
		}
	})
}

// ObserveProbe records a probe outcome. An empty reason means success.
func ObserveProbe(reason string, latency time.Duration) {
	if reason == "" {
		reason = "ok"
	}
	if probeTotal != nil {
		probeTotal.WithLabelValues(reason).Inc()
	}
	if probeLatency != nil {
		probeLatency.Observe(latency.Seconds())
	}
}

// IncTransportAttempt counts a submission attempt over transport.
func IncTransportAttempt(transport, result string) {
	if transportAttempts != nil {
		transportAttempts.WithLabelValues(transport, result).Inc()
	}
}

// IncFallback counts a primary-to-secondary transport switch.
func IncFallback() {
	if transportFallback != nil {
		transportFallback.Inc()
	}
}

// IncUpstreamRetry counts one retry against endpoint.
func IncUpstreamRetry(endpoint string) {
	if upstreamRetries != nil {
		upstreamRetries.WithLabelValues(endpoint).Inc()
	}
}

// ObserveUpstream records the latency of a finished upstream call.
func ObserveUpstream(endpoint, result string, duration time.Duration) {
	if upstreamLatency != nil {
		upstreamLatency.WithLabelValues(endpoint, result).Observe(duration.Seconds())
	}
}

// IncCacheLookup counts a hit or miss on the named cache.
func IncCacheLookup(cache string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(cache, outcome).Inc()
	}
}

// AddOutboxDropped counts n messages discarded by policy.
func AddOutboxDropped(policy string, n int) {
	if outboxDropped != nil && n > 0 {
		outboxDropped.WithLabelValues(policy).Add(float64(n))
	}
}

// AddOutboxSent counts delivered messages.
func AddOutboxSent(n int) {
	if outboxSent != nil && n > 0 {
		outboxSent.Add(float64(n))
	}
}
