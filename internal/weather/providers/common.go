package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/agroassist/internal/connectivity"
	"github.com/i474232898/agroassist/internal/metrics"
)

// RetryPolicy controls retries of transient failures. Delay before retry n
// (0-based) is BaseDelay * 2^n, capped at MaxDelay when set.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client *http.Client
	// Timeout bounds each attempt, including reading the body.
	Timeout time.Duration
	Retry   RetryPolicy
}

// Class is the failure category of an upstream call.
type Class string

const (
	ClassTransport   Class = "transport"
	ClassTimeout     Class = "timeout"
	ClassClient      Class = "client"
	ClassServer      Class = "server"
	ClassCircuitOpen Class = "circuit-open"
	ClassDecode      Class = "decode"
)

// UpstreamError is a classified failure of an upstream call after all attempts.
type UpstreamError struct {
	Endpoint   string
	Class      Class
	StatusCode int
	Attempts   int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s failure (status %d) after %d attempts: %v", e.Endpoint, e.Class, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s failure after %d attempts: %v", e.Endpoint, e.Class, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// HTTPStatus returns the last HTTP status received, zero if none.
func (e *UpstreamError) HTTPStatus() int { return e.StatusCode }

// AttemptCount returns how many requests were made.
func (e *UpstreamError) AttemptCount() int { return e.Attempts }

// Retryable reports whether the class is transient. 4xx responses are never retried.
func (c Class) Retryable() bool {
	return c == ClassTransport || c == ClassTimeout || c == ClassServer
}

var (
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid retry configuration")
)

// statusError carries a non-2xx response through the breaker.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// response is what a single attempt yields inside the breaker.
type response struct {
	status int
	body   []byte
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
}

// getJSONWithResilience executes GET requests built by buildRequest with
// retries, exponential backoff and a circuit breaker, then decodes the body into out.
// Client errors pass through the breaker as successes so they never trip it.
func getJSONWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	endpoint string,
	logger zerolog.Logger,
	buildRequest func(ctx context.Context) (*http.Request, error),
	out any,
) error {
	if cfg.Client == nil {
		return errNoHTTPClient
	}
	if cfg.Retry.MaxRetries < 0 || cfg.Retry.BaseDelay <= 0 || cfg.Timeout <= 0 {
		return errInvalidConfig
	}

	for attempt := 0; ; attempt++ {
		start := time.Now()
		resp, err := attemptOnce(ctx, cfg, cb, buildRequest)
		class, status := classify(resp, err)
		metrics.ObserveUpstream(endpoint, string(orOK(class)), time.Since(start))

		if err == nil && class == "" {
			if decErr := json.Unmarshal(resp.body, out); decErr != nil {
				return &UpstreamError{Endpoint: endpoint, Class: ClassDecode, StatusCode: resp.status, Attempts: attempt + 1, Err: decErr}
			}
			return nil
		}
		if err == nil {
			err = &statusError{code: resp.status, body: truncate(resp.body, 200)}
		}

		uerr := &UpstreamError{Endpoint: endpoint, Class: class, StatusCode: status, Attempts: attempt + 1, Err: err}
		if !class.Retryable() || attempt >= cfg.Retry.MaxRetries || ctx.Err() != nil {
			return uerr
		}

		delay := cfg.Retry.BaseDelay << attempt
		if cfg.Retry.MaxDelay > 0 && delay > cfg.Retry.MaxDelay {
			delay = cfg.Retry.MaxDelay
		}
		metrics.IncUpstreamRetry(endpoint)
		logger.Warn().
			Str("endpoint", endpoint).
			Str("class", string(class)).
			Int("status", status).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("upstream call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			uerr.Err = errors.Join(uerr.Err, ctx.Err())
			return uerr
		case <-timer.C:
		}
	}
}

func attemptOnce(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) (response, error) {
	actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	result, err := cb.Execute(func() (interface{}, error) {
		req, err := buildRequest(actx)
		if err != nil {
			return nil, err
		}
		resp, err := cfg.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, &statusError{code: resp.StatusCode, body: truncate(body, 200)}
		}
		return response{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		return response{}, err
	}
	resp, ok := result.(response)
	if !ok {
		return response{}, fmt.Errorf("unexpected result type %T from circuit breaker", result)
	}
	return resp, nil
}

// classify returns "" for a usable 2xx response.
func classify(resp response, err error) (Class, int) {
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ClassCircuitOpen, 0
		}
		var se *statusError
		if errors.As(err, &se) {
			return ClassServer, se.code
		}
		if connectivity.Classify(err) == connectivity.ReasonTimeout {
			return ClassTimeout, 0
		}
		return ClassTransport, 0
	}
	switch {
	case resp.status >= 200 && resp.status < 300:
		return "", resp.status
	default:
		// 4xx, and redirects the client did not follow.
		return ClassClient, resp.status
	}
}

func orOK(c Class) Class {
	if c == "" {
		return "ok"
	}
	return c
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "…"
	}
	return string(b)
}
