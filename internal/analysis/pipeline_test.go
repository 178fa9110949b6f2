package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/agroassist/internal/connectivity"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func writeImage(t *testing.T, data []byte) ImageRef {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leaf.png")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return ImageRef{Path: path}
}

type backend struct {
	multipartCalls atomic.Int32
	base64Calls    atomic.Int32
	multipart      http.HandlerFunc
	base64         http.HandlerFunc
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case MultipartPath:
		b.multipartCalls.Add(1)
		b.multipart(w, r)
	case Base64Path:
		b.base64Calls.Add(1)
		b.base64(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func okHandler(body map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, body)
	}
}

// hijackClose drops the connection without a response.
func hijackClose(w http.ResponseWriter, _ *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	conn, _, err := hj.Hijack()
	if err == nil {
		_ = conn.Close()
	}
}

func newPipeline(srv *httptest.Server, timeout time.Duration) *Pipeline {
	return NewPipeline(Config{BaseURL: srv.URL, Timeout: timeout}, srv.Client(), nil, zerolog.Nop())
}

func TestSubmitMultipartSuccess(t *testing.T) {
	var gotName string
	var gotBytes []byte
	b := &backend{
		multipart: func(w http.ResponseWriter, r *http.Request) {
			f, hdr, err := r.FormFile("file")
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer f.Close()
			gotName = hdr.Filename
			gotBytes, _ = io.ReadAll(f)
			writeJSON(w, http.StatusOK, map[string]any{
				"success":            true,
				"diagnosis":          "Mildiou",
				"symptoms":           []any{"taches brunes", "feuilles flétries"},
				"treatment":          "Fongicide cuivré",
				"audio_url":          "/media/audio/42.mp3",
				"model_used":         "gemini",
				"processing_time_ms": 812.5,
				"cached":             false,
			})
		},
	}
	srv := httptest.NewServer(b)
	defer srv.Close()

	res, err := newPipeline(srv, time.Second).Submit(context.Background(), writeImage(t, pngHeader))
	require.NoError(t, err)
	require.Equal(t, "leaf.png", gotName)
	require.Equal(t, pngHeader, gotBytes)
	require.Equal(t, TransportMultipart, res.Transport)
	require.Equal(t, "Mildiou", res.Diagnosis)
	require.Equal(t, "taches brunes, feuilles flétries", res.Symptoms)
	require.Equal(t, srv.URL+"/media/audio/42.mp3", res.AudioURL)
	require.NotNil(t, res.AudioRef)
	require.Equal(t, 812.5, res.ProcessingTimeMs)
	require.NotEmpty(t, res.RequestID)
	require.Zero(t, b.base64Calls.Load())
}

func TestSubmitFallsBackOnTransportFailure(t *testing.T) {
	var meta map[string]any
	var decoded []byte
	b := &backend{
		multipart: hijackClose,
		base64: func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			decoded, _ = base64.StdEncoding.DecodeString(r.PostForm.Get("image_data"))
			_ = json.Unmarshal([]byte(r.PostForm.Get("metadata")), &meta)
			writeJSON(w, http.StatusOK, map[string]any{"diagnosis": "Rouille"})
		},
	}
	srv := httptest.NewServer(b)
	defer srv.Close()

	res, err := newPipeline(srv, time.Second).Submit(context.Background(), writeImage(t, pngHeader))
	require.NoError(t, err)
	require.Equal(t, TransportBase64, res.Transport)
	require.Equal(t, "Rouille", res.Diagnosis)
	require.Equal(t, Placeholders[FieldSymptoms], res.Symptoms)
	require.Equal(t, pngHeader, decoded)
	require.Equal(t, "leaf.png", meta["image_name"])
	require.Equal(t, "image/png", meta["mime_type"])
	require.Equal(t, res.RequestID, meta["request_id"])
	require.EqualValues(t, 1, b.multipartCalls.Load())
	require.EqualValues(t, 1, b.base64Calls.Load())
}

func TestSubmitFallsBackOnNonJSONErrorPage(t *testing.T) {
	b := &backend{
		multipart: func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			_, _ = io.WriteString(w, "<html>413 Request Entity Too Large</html>")
		},
		base64: okHandler(map[string]any{"diagnosis": "Sain"}),
	}
	srv := httptest.NewServer(b)
	defer srv.Close()

	res, err := newPipeline(srv, time.Second).Submit(context.Background(), writeImage(t, pngHeader))
	require.NoError(t, err)
	require.Equal(t, TransportBase64, res.Transport)
}

func TestSubmitApplicationErrorNeverFallsBack(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusInternalServerError} {
		b := &backend{
			multipart: func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, status, map[string]any{"detail": "image illisible"})
			},
			base64: okHandler(map[string]any{"diagnosis": "should not be used"}),
		}
		srv := httptest.NewServer(b)

		_, err := newPipeline(srv, time.Second).Submit(context.Background(), writeImage(t, pngHeader))
		srv.Close()

		require.Error(t, err)
		require.True(t, IsKind(err, KindServer))
		var se *SubmissionError
		require.ErrorAs(t, err, &se)
		require.Equal(t, status, se.StatusCode)
		require.Equal(t, "image illisible", se.Message)
		require.Len(t, se.Attempts, 1)
		require.EqualValues(t, 1, b.multipartCalls.Load())
		require.Zero(t, b.base64Calls.Load(), "status %d must not trigger fallback", status)
	}
}

func TestSubmitReportedFailureIsServerError(t *testing.T) {
	b := &backend{
		multipart: okHandler(map[string]any{"success": false, "error": "modèle indisponible"}),
		base64:    okHandler(map[string]any{"diagnosis": "x"}),
	}
	srv := httptest.NewServer(b)
	defer srv.Close()

	res, err := newPipeline(srv, time.Second).Submit(context.Background(), writeImage(t, pngHeader))
	require.True(t, IsKind(err, KindServer))
	require.Empty(t, res.Diagnosis)
	require.Zero(t, b.base64Calls.Load())
}

func TestSubmitValidationDoesNoIO(t *testing.T) {
	b := &backend{multipart: okHandler(nil), base64: okHandler(nil)}
	srv := httptest.NewServer(b)
	defer srv.Close()
	p := newPipeline(srv, time.Second)

	cases := map[string]ImageRef{
		"empty path": {},
		"missing":    {Path: filepath.Join(t.TempDir(), "nope.jpg")},
		"empty file": writeImage(t, nil),
		"directory":  {Path: t.TempDir()},
	}
	for name, ref := range cases {
		_, err := p.Submit(context.Background(), ref)
		require.True(t, IsKind(err, KindValidation), name)
	}
	require.Zero(t, b.multipartCalls.Load())
	require.Zero(t, b.base64Calls.Load())
}

func TestSubmitTimeoutOnBothTransports(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	b := &backend{multipart: slow, base64: slow}
	srv := httptest.NewServer(b)
	defer srv.Close()

	_, err := newPipeline(srv, 50*time.Millisecond).Submit(context.Background(), writeImage(t, pngHeader))
	require.True(t, IsKind(err, KindTimeout), "got %v", err)
	var se *SubmissionError
	require.ErrorAs(t, err, &se)
	require.Len(t, se.Attempts, 2)
	require.EqualValues(t, 1, b.multipartCalls.Load())
	require.EqualValues(t, 1, b.base64Calls.Load())
}

func TestSubmitNetworkErrorWhenUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := NewPipeline(Config{BaseURL: "http://" + addr, Timeout: time.Second}, nil, nil, zerolog.Nop())
	_, err = p.Submit(context.Background(), writeImage(t, pngHeader))
	require.True(t, IsKind(err, KindNetwork), "got %v", err)
}

type staticStatus struct{ st connectivity.Status }

func (s staticStatus) Last() (connectivity.Status, bool) { return s.st, true }

func TestSubmitAttemptsEvenWhenLastProbeFailed(t *testing.T) {
	b := &backend{multipart: okHandler(map[string]any{"diagnosis": "Sain"})}
	srv := httptest.NewServer(b)
	defer srv.Close()

	status := staticStatus{st: connectivity.Status{Reachable: false, CheckedAt: time.Now(), Reason: connectivity.ReasonTimeout}}
	p := NewPipeline(Config{BaseURL: srv.URL, Timeout: time.Second}, srv.Client(), status, zerolog.Nop())

	res, err := p.Submit(context.Background(), writeImage(t, pngHeader))
	require.NoError(t, err)
	require.Equal(t, "Sain", res.Diagnosis)
}

func TestSubmitCanceledCallerSkipsFallback(t *testing.T) {
	b := &backend{multipart: hijackClose, base64: okHandler(map[string]any{"diagnosis": "Sain"})}
	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(srv, time.Second).Submit(ctx, writeImage(t, pngHeader))
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	require.True(t, IsKind(err, KindNetwork), "got %v", err)
	var se *SubmissionError
	require.ErrorAs(t, err, &se)
	require.Len(t, se.Attempts, 1)
	require.Zero(t, b.base64Calls.Load())
}

func TestSubmitCallerDeadlineSkipsFallback(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	b := &backend{multipart: slow, base64: okHandler(map[string]any{"diagnosis": "Sain"})}
	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newPipeline(srv, time.Second).Submit(ctx, writeImage(t, pngHeader))
	require.True(t, IsKind(err, KindTimeout), "got %v", err)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	require.Zero(t, b.base64Calls.Load())
}
