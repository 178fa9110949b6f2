package analysis

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/agroassist/internal/connectivity"
	"github.com/i474232898/agroassist/internal/metrics"
)

// DefaultTimeout bounds each transport attempt.
const DefaultTimeout = 30 * time.Second

// statusFreshness is how long a probe result is considered current.
const statusFreshness = 30 * time.Second

// Config configures a Pipeline.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxImageBytes int64
}

// StatusSource exposes the last known connectivity status.
type StatusSource interface {
	Last() (connectivity.Status, bool)
}

// Pipeline submits images for diagnosis, falling back from multipart upload to
// base64 form encoding when the first transport fails below the application layer.
// It never retries beyond that single switch.
type Pipeline struct {
	cfg    Config
	client *http.Client
	status StatusSource
	logger zerolog.Logger
	now    func() time.Time
}

// NewPipeline creates a Pipeline. client and status may be nil.
func NewPipeline(cfg Config, client *http.Client, status StatusSource, logger zerolog.Logger) *Pipeline {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Pipeline{
		cfg:    cfg,
		client: client,
		status: status,
		logger: logger.With().Str("component", "analysis.pipeline").Logger(),
		now:    time.Now,
	}
}

// Submit validates ref, sends it for analysis and returns the normalized result.
// Every failure is a *SubmissionError.
func (p *Pipeline) Submit(ctx context.Context, ref ImageRef) (AnalysisResult, error) {
	img, err := loadImage(ref, p.cfg.MaxImageBytes)
	if err != nil {
		return AnalysisResult{}, &SubmissionError{Kind: KindValidation, Message: "invalid image reference", Err: err}
	}

	requestID := uuid.NewString()
	log := p.logger.With().Str("request_id", requestID).Str("image", img.Name).Int("bytes", len(img.Data)).Logger()
	p.adviseConnectivity(log)

	payload, primary := p.try(ctx, TransportMultipart, requestID, func(ctx context.Context) (*http.Request, error) {
		return multipartRequest(ctx, p.cfg.BaseURL+MultipartPath, img)
	})
	if primary == nil {
		return p.finish(payload, TransportMultipart, requestID, log)
	}
	if !primary.transportLevel {
		return AnalysisResult{}, p.terminal(log, primary)
	}
	if err := ctx.Err(); err != nil {
		return AnalysisResult{}, p.abandoned(log, err, primary)
	}

	metrics.IncFallback()
	log.Warn().Err(primary.err).Int("status", primary.statusCode).Msg("multipart upload failed, falling back to base64")

	payload, secondary := p.try(ctx, TransportBase64, requestID, func(ctx context.Context) (*http.Request, error) {
		return base64Request(ctx, p.cfg.BaseURL+Base64Path, img, metadata{
			RequestID:   requestID,
			ImageName:   img.Name,
			MimeType:    img.MimeType,
			SizeBytes:   int64(len(img.Data)),
			Encoding:    string(TransportBase64),
			SubmittedAt: p.now().UTC(),
		})
	})
	if secondary == nil {
		return p.finish(payload, TransportBase64, requestID, log)
	}
	return AnalysisResult{}, p.terminal(log, primary, secondary)
}

// try runs one transport under its own timeout.
func (p *Pipeline) try(ctx context.Context, t Transport, requestID string, build func(context.Context) (*http.Request, error)) (map[string]any, *failure) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := build(ctx)
	if err != nil {
		metrics.IncTransportAttempt(string(t), "error")
		// The runtime refused to build the body; treat like a rejected transport.
		return nil, &failure{transport: t, transportLevel: true, err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	payload, fail := exchange(p.client, t, req)
	if fail != nil {
		metrics.IncTransportAttempt(string(t), "error")
		return nil, fail
	}
	metrics.IncTransportAttempt(string(t), "ok")
	return payload, nil
}

func (p *Pipeline) finish(payload map[string]any, t Transport, requestID string, log zerolog.Logger) (AnalysisResult, error) {
	res := Normalize(payload, p.cfg.BaseURL)
	if !res.Success {
		msg := errorMessage(payload)
		if msg == "" {
			msg = "analysis reported failure"
		}
		log.Warn().Str("transport", string(t)).Str("message", msg).Msg("backend rejected analysis")
		return AnalysisResult{}, &SubmissionError{
			Kind:     KindServer,
			Message:  msg,
			Attempts: []TransportAttempt{{Transport: t, Error: msg}},
		}
	}
	res.Transport = t
	res.RequestID = requestID
	log.Info().Str("transport", string(t)).Str("model", res.ModelUsed).Bool("cached", res.Cached).Msg("image analysed")
	return res, nil
}

// terminal folds the attempt failures into one classified SubmissionError.
// The last failure decides the kind.
func (p *Pipeline) terminal(log zerolog.Logger, fails ...*failure) error {
	last := fails[len(fails)-1]

	se := &SubmissionError{
		Attempts:   make([]TransportAttempt, 0, len(fails)),
		StatusCode: last.statusCode,
	}
	causes := make([]error, 0, len(fails))
	sawStatus := false
	for _, f := range fails {
		se.Attempts = append(se.Attempts, f.attempt())
		if f.err != nil {
			causes = append(causes, f.err)
		} else if f.message != "" {
			causes = append(causes, errors.New(string(f.transport)+": "+f.message))
		}
		if f.statusCode != 0 {
			sawStatus = true
			if se.StatusCode == 0 {
				se.StatusCode = f.statusCode
			}
		}
	}
	se.Err = errors.Join(causes...)

	switch {
	case !last.transportLevel:
		se.Kind = KindServer
		se.Message = last.message
		if se.Message == "" {
			se.Message = "backend rejected the image"
		}
	case last.timeout:
		se.Kind = KindTimeout
		se.Message = "analysis timed out"
	case sawStatus:
		se.Kind = KindServer
		se.Message = "backend unavailable"
	default:
		se.Kind = KindNetwork
		se.Message = "backend unreachable"
	}

	log.Error().
		Str("kind", string(se.Kind)).
		Int("status", se.StatusCode).
		Int("attempts", len(se.Attempts)).
		Err(se.Err).
		Msg("image analysis failed")
	return se
}

// abandoned reports a submission whose caller gave up before the fallback ran.
func (p *Pipeline) abandoned(log zerolog.Logger, cause error, primary *failure) error {
	se := &SubmissionError{
		Kind:       KindNetwork,
		Message:    "analysis canceled",
		StatusCode: primary.statusCode,
		Attempts:   []TransportAttempt{primary.attempt()},
		Err:        errors.Join(cause, primary.err),
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		se.Kind = KindTimeout
		se.Message = "analysis deadline exceeded"
	}
	log.Warn().Str("kind", string(se.Kind)).Err(cause).Msg("image analysis abandoned by caller")
	return se
}

// adviseConnectivity logs when the last probe says the backend is down. The
// request is still attempted; the probe is only a hint.
func (p *Pipeline) adviseConnectivity(log zerolog.Logger) {
	if p.status == nil {
		return
	}
	st, ok := p.status.Last()
	if !ok || st.Reachable || p.now().Sub(st.CheckedAt) > statusFreshness {
		return
	}
	log.Warn().Str("reason", string(st.Reason)).Msg("backend was unreachable at last probe, attempting anyway")
}
