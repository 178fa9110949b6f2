package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/agroassist/internal/analysis"
	"github.com/i474232898/agroassist/internal/connectivity"
	"github.com/i474232898/agroassist/internal/weather"
)

type fakeChecker struct{}

func (fakeChecker) Probe(_ context.Context, base string) connectivity.Status {
	return connectivity.Status{Target: base, Reachable: false, Reason: connectivity.ReasonTimeout}
}

func (fakeChecker) Diagnose(_ context.Context, base string) connectivity.DiagnosticReport {
	return connectivity.DiagnosticReport{BaseURL: base, Successful: 2, Total: 3, SuccessRate: 67}
}

type fakeWeather struct {
	snap    weather.Snapshot
	err     error
	last    *weather.Snapshot
	cleared bool
}

func (f *fakeWeather) ClearCache(context.Context) error {
	f.cleared = true
	return nil
}

func (f *fakeWeather) FetchData(context.Context, bool) (weather.Snapshot, error) {
	return f.snap, f.err
}

func (f *fakeWeather) Last() (weather.Snapshot, bool) {
	if f.last == nil {
		return weather.Snapshot{}, false
	}
	return *f.last, true
}

type fakeAnalyzer struct {
	gotBytes []byte
	err      error
}

func (f *fakeAnalyzer) Submit(_ context.Context, ref analysis.ImageRef) (analysis.AnalysisResult, error) {
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return analysis.AnalysisResult{}, err
	}
	f.gotBytes = data
	if f.err != nil {
		return analysis.AnalysisResult{}, f.err
	}
	return analysis.AnalysisResult{Success: true, Diagnosis: "Mildiou", Transport: analysis.TransportMultipart}, nil
}

func newApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	deps.BackendURL = "http://backend"
	deps.Logger = zerolog.Nop()
	RegisterRoutes(app, deps)
	return app
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	resp, err := newApp(Deps{}).Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", decode(t, resp)["status"])
}

func TestConnectivityRoutes(t *testing.T) {
	app := newApp(Deps{Checker: fakeChecker{}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/connectivity", nil))
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, false, body["reachable"])
	require.Equal(t, "timeout", body["reason"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/connectivity/diagnose", nil))
	require.NoError(t, err)
	require.EqualValues(t, 67, decode(t, resp)["successRate"])
}

func TestWeatherRoutes(t *testing.T) {
	fresh := weather.Snapshot{
		Current:   weather.Current{Temperature: 20, Humidity: 50, WindSpeedMs: 2},
		FetchedAt: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
	}
	svc := &fakeWeather{snap: fresh}
	app := newApp(Deps{Weather: svc})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather/last", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather?refresh=maybe", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather?refresh=true", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	require.NotContains(t, body, "error")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather/spray", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	score := decode(t, resp)["score"].(map[string]any)
	require.EqualValues(t, 100, score["score"])
	require.Equal(t, weather.LabelFavorable, score["label"])

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/weather/cache", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.True(t, svc.cleared)
}

type fakeOutbox struct{}

func (fakeOutbox) Pending() int { return 3 }
func (fakeOutbox) Drains() int  { return 1 }
func (fakeOutbox) Dropped() int { return 2 }

func TestOutboxRoute(t *testing.T) {
	resp, err := newApp(Deps{Outbox: fakeOutbox{}}).Test(httptest.NewRequest(http.MethodGet, "/api/v1/outbox", nil))
	require.NoError(t, err)
	body := decode(t, resp)
	require.EqualValues(t, 3, body["pending"])
	require.EqualValues(t, 2, body["dropped"])
}

func TestWeatherSyntheticCarriesError(t *testing.T) {
	synthetic := weather.Synthetic(weather.Location{City: "Dakar"}, time.Now())
	svc := &fakeWeather{snap: synthetic, err: &weather.FetchError{Kind: weather.KindNetwork, Attempts: 3, Err: errors.New("down")}}
	app := newApp(Deps{Weather: svc})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, true, body["snapshot"].(map[string]any)["synthetic"])
	require.Equal(t, "network", body["error"].(map[string]any)["kind"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather/spray", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func multipartUpload(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, "leaf.jpg")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestAnalyzeRoute(t *testing.T) {
	a := &fakeAnalyzer{}
	app := newApp(Deps{Analyzer: a})

	resp, err := app.Test(multipartUpload(t, "file", []byte("jpeg bytes")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Mildiou", decode(t, resp)["diagnosis"])
	require.Equal(t, []byte("jpeg bytes"), a.gotBytes)

	resp, err = app.Test(multipartUpload(t, "image", []byte("x")))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeRouteMapsErrorKinds(t *testing.T) {
	cases := map[analysis.ErrorKind]int{
		analysis.KindValidation: http.StatusBadRequest,
		analysis.KindNetwork:    http.StatusBadGateway,
		analysis.KindServer:     http.StatusBadGateway,
		analysis.KindTimeout:    http.StatusGatewayTimeout,
	}
	for kind, status := range cases {
		a := &fakeAnalyzer{err: &analysis.SubmissionError{Kind: kind, Message: "failed"}}
		resp, err := newApp(Deps{Analyzer: a}).Test(multipartUpload(t, "file", []byte("x")))
		require.NoError(t, err)
		require.Equal(t, status, resp.StatusCode, string(kind))

		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.Contains(t, string(raw), string(kind))
	}
}
