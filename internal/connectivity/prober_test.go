package connectivity

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestProbeReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != HealthPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	p := NewProber(srv.Client(), time.Second, zerolog.Nop())
	st := p.Probe(context.Background(), srv.URL+"/")

	require.True(t, st.Reachable)
	require.Equal(t, ReasonNone, st.Reason)
	require.Equal(t, http.StatusOK, st.StatusCode)
	require.False(t, st.CheckedAt.IsZero())

	last, ok := p.Last()
	require.True(t, ok)
	require.Equal(t, st, last)
}

func TestProbeConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := NewProber(nil, time.Second, zerolog.Nop())
	st := p.Probe(context.Background(), "http://"+addr)

	require.False(t, st.Reachable)
	require.Equal(t, ReasonHostUnreachable, st.Reason)
	require.NotEmpty(t, st.Error)
}

func TestProbeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewProber(srv.Client(), 50*time.Millisecond, zerolog.Nop())
	st := p.Probe(context.Background(), srv.URL)

	require.False(t, st.Reachable)
	require.Equal(t, ReasonTimeout, st.Reason)
}

func TestProbeNon2xxIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	st := NewProber(srv.Client(), time.Second, zerolog.Nop()).Probe(context.Background(), srv.URL)
	require.False(t, st.Reachable)
	require.Equal(t, ReasonUnknown, st.Reason)
	require.Equal(t, http.StatusServiceUnavailable, st.StatusCode)
}

func TestDiagnoseSequentialSuccessRate(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
		paths    []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()

		if r.URL.Path == "/api/status/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	report := NewProber(srv.Client(), time.Second, zerolog.Nop()).Diagnose(context.Background(), srv.URL)

	require.Equal(t, 3, report.Total)
	require.Equal(t, 2, report.Successful)
	require.Equal(t, 67, report.SuccessRate)
	require.Len(t, report.Probes, 3)
	require.Equal(t, []string{"/health", "/api/status/", "/"}, paths)
	require.Equal(t, 1, maxSeen, "diagnostic probes must not overlap")
}

func TestOnChangeFiresOnTransitionsOnly(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(srv.Client(), time.Second, zerolog.Nop())
	var transitions []bool
	p.OnChange(func(st Status) { transitions = append(transitions, st.Reachable) })

	ctx := context.Background()
	p.Probe(ctx, srv.URL)
	p.Probe(ctx, srv.URL)
	healthy.Store(false)
	p.Probe(ctx, srv.URL)
	healthy.Store(true)
	p.Probe(ctx, srv.URL)

	require.Equal(t, []bool{true, false, true}, transitions)
}

func TestSuccessRateRounding(t *testing.T) {
	require.Equal(t, 0, successRate(0, 0))
	require.Equal(t, 33, successRate(1, 3))
	require.Equal(t, 67, successRate(2, 3))
	require.Equal(t, 100, successRate(3, 3))
}
