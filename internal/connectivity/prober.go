package connectivity

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/agroassist/internal/metrics"
	"github.com/i474232898/agroassist/internal/pubsub"
)

// Reason classifies why a probe failed. The zero value means the probe succeeded.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonHostUnreachable Reason = "host-unreachable"
	ReasonTimeout         Reason = "timeout"
	ReasonUnknown         Reason = "unknown"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 5 * time.Second

// HealthPath is the well-known reachability endpoint.
const HealthPath = "/health"

// diagnosticPaths are probed in order by Diagnose.
var diagnosticPaths = []string{HealthPath, "/api/status/", "/"}

// Status is the outcome of one probe.
type Status struct {
	Target     string    `json:"target"`
	Reachable  bool      `json:"reachable"`
	LatencyMs  int64     `json:"latencyMs"`
	CheckedAt  time.Time `json:"checkedAt"`
	Reason     Reason    `json:"reason,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ProbeResult is one entry of a DiagnosticReport.
type ProbeResult struct {
	Endpoint string `json:"endpoint"`
	Status   Status `json:"status"`
}

// DiagnosticReport aggregates the fixed probe battery.
type DiagnosticReport struct {
	BaseURL     string        `json:"baseUrl"`
	Probes      []ProbeResult `json:"probes"`
	Successful  int           `json:"successful"`
	Total       int           `json:"total"`
	SuccessRate int           `json:"successRate"`
}

// Prober checks reachability of a backend and remembers the last result.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu   sync.RWMutex
	last Status
	seen bool

	changes *pubsub.Hub[Status]
}

// NewProber creates a Prober. A nil client uses a fresh http.Client; a
// non-positive timeout uses DefaultTimeout.
func NewProber(client *http.Client, timeout time.Duration, logger zerolog.Logger) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "connectivity.prober").Logger(),
		now:     time.Now,
		changes: pubsub.NewHub[Status](),
	}
}

// Probe issues GET {baseURL}/health. It never fails; failures are reported in
// the returned Status and also recorded as the last known status.
func (p *Prober) Probe(ctx context.Context, baseURL string) Status {
	st := p.check(ctx, joinURL(baseURL, HealthPath))
	p.record(st)
	return st
}

// Diagnose runs the probe battery one endpoint at a time and reports the
// aggregate success rate as a rounded percentage.
func (p *Prober) Diagnose(ctx context.Context, baseURL string) DiagnosticReport {
	report := DiagnosticReport{
		BaseURL: baseURL,
		Probes:  make([]ProbeResult, 0, len(diagnosticPaths)),
		Total:   len(diagnosticPaths),
	}
	for _, path := range diagnosticPaths {
		st := p.check(ctx, joinURL(baseURL, path))
		if st.Reachable {
			report.Successful++
		}
		report.Probes = append(report.Probes, ProbeResult{Endpoint: path, Status: st})
	}
	report.SuccessRate = successRate(report.Successful, report.Total)

	p.logger.Info().
		Str("base_url", baseURL).
		Int("successful", report.Successful).
		Int("total", report.Total).
		Int("success_rate", report.SuccessRate).
		Msg("connectivity diagnostics complete")
	return report
}

// Last returns the most recent Probe result and whether one exists.
func (p *Prober) Last() (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.seen
}

// OnChange registers fn for reachability transitions, including the first probe.
func (p *Prober) OnChange(fn func(Status)) (unsubscribe func()) {
	return p.changes.Subscribe(fn)
}

func (p *Prober) check(ctx context.Context, target string) Status {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	st := Status{Target: target, CheckedAt: start.UTC()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		st.Reason = ReasonUnknown
		st.Error = err.Error()
		return p.finish(st, start)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		st.Reason = Classify(err)
		st.Error = err.Error()
		return p.finish(st, start)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	st.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		st.Reachable = true
	} else {
		st.Reason = ReasonUnknown
		st.Error = http.StatusText(resp.StatusCode)
	}
	return p.finish(st, start)
}

func (p *Prober) finish(st Status, start time.Time) Status {
	elapsed := p.now().Sub(start)
	st.LatencyMs = elapsed.Milliseconds()
	metrics.ObserveProbe(string(st.Reason), elapsed)

	if st.Reachable {
		p.logger.Debug().Str("target", st.Target).Int64("latency_ms", st.LatencyMs).Msg("probe ok")
	} else {
		p.logger.Warn().
			Str("target", st.Target).
			Str("reason", string(st.Reason)).
			Int("status", st.StatusCode).
			Str("error", st.Error).
			Msg("probe failed")
	}
	return st
}

func (p *Prober) record(st Status) {
	p.mu.Lock()
	changed := !p.seen || p.last.Reachable != st.Reachable
	p.last = st
	p.seen = true
	p.mu.Unlock()

	if changed {
		p.changes.Publish(st)
	}
}

// Classify maps a transport error to a probe Reason.
func Classify(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonHostUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return ReasonHostUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ReasonHostUnreachable
	}
	return ReasonUnknown
}

func successRate(ok, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(ok) * 100 / float64(total)))
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
