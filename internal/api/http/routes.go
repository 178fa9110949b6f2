package httpapi

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"

	"github.com/i474232898/agroassist/internal/analysis"
	"github.com/i474232898/agroassist/internal/connectivity"
	"github.com/i474232898/agroassist/internal/weather"
)

var validate = validator.New()

// Checker probes backend reachability.
type Checker interface {
	Probe(ctx context.Context, baseURL string) connectivity.Status
	Diagnose(ctx context.Context, baseURL string) connectivity.DiagnosticReport
}

// WeatherService serves weather snapshots.
type WeatherService interface {
	FetchData(ctx context.Context, forceRefresh bool) (weather.Snapshot, error)
	Last() (weather.Snapshot, bool)
	ClearCache(ctx context.Context) error
}

// Analyzer submits images for diagnosis.
type Analyzer interface {
	Submit(ctx context.Context, ref analysis.ImageRef) (analysis.AnalysisResult, error)
}

// OutboxStats reports the state of the backend event outbox.
type OutboxStats interface {
	Pending() int
	Drains() int
	Dropped() int
}

// Deps are the services exposed over HTTP. Nil services leave their routes unregistered.
type Deps struct {
	BackendURL string
	Checker    Checker
	Weather    WeatherService
	Analyzer   Analyzer
	Outbox     OutboxStats
	Metrics    http.Handler
	Logger     zerolog.Logger
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "agroassist",
		})
	})
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	v1 := app.Group("/api/v1")

	if deps.Checker != nil {
		v1.Get("/connectivity", func(c *fiber.Ctx) error {
			return c.JSON(deps.Checker.Probe(c.UserContext(), deps.BackendURL))
		})
		v1.Get("/connectivity/diagnose", func(c *fiber.Ctx) error {
			return c.JSON(deps.Checker.Diagnose(c.UserContext(), deps.BackendURL))
		})
	}

	if deps.Weather != nil {
		registerWeather(v1, deps.Weather)
	}

	if deps.Analyzer != nil {
		v1.Post("/analyze", analyzeHandler(deps.Analyzer, deps.Logger))
	}

	if deps.Outbox != nil {
		v1.Get("/outbox", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"pending": deps.Outbox.Pending(),
				"drains":  deps.Outbox.Drains(),
				"dropped": deps.Outbox.Dropped(),
			})
		})
	}
}

// weatherQuery holds query parameters for the weather endpoint.
type weatherQuery struct {
	Refresh string `query:"refresh" validate:"omitempty,boolean"`
}

func registerWeather(r fiber.Router, svc WeatherService) {
	r.Get("/weather", func(c *fiber.Ctx) error {
		var q weatherQuery
		if err := c.QueryParser(&q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snap, err := svc.FetchData(c.UserContext(), c.QueryBool("refresh", false))
		if err != nil {
			var fe *weather.FetchError
			if !errors.As(err, &fe) || fe.Kind == weather.KindLocationDenied {
				return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
			}
			return c.JSON(fiber.Map{"snapshot": snap, "error": fetchErrorBody(fe)})
		}
		return c.JSON(fiber.Map{"snapshot": snap})
	})

	r.Get("/weather/last", func(c *fiber.Ctx) error {
		snap, ok := svc.Last()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no weather data yet")
		}
		return c.JSON(snap)
	})

	r.Delete("/weather/cache", func(c *fiber.Ctx) error {
		if err := svc.ClearCache(c.UserContext()); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/weather/spray", func(c *fiber.Ctx) error {
		snap, ok := svc.Last()
		if !ok || snap.Synthetic {
			var err error
			snap, err = svc.FetchData(c.UserContext(), false)
			if err != nil && !snap.Synthetic {
				return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
			}
		}
		if snap.Synthetic {
			return fiber.NewError(fiber.StatusServiceUnavailable, "no real weather data to score")
		}
		return c.JSON(fiber.Map{
			"location":  snap.Location,
			"fetchedAt": snap.FetchedAt,
			"score":     weather.ScoreCondition(snap.Current),
		})
	})
}

func fetchErrorBody(fe *weather.FetchError) fiber.Map {
	return fiber.Map{
		"kind":       fe.Kind,
		"statusCode": fe.StatusCode,
		"attempts":   fe.Attempts,
		"message":    fe.Error(),
	}
}

func analyzeHandler(a Analyzer, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "multipart field \"file\" is required")
		}

		dir, err := os.MkdirTemp("", "agroassist-upload-*")
		if err != nil {
			return err
		}
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove upload dir")
			}
		}()

		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) {
			name = "upload"
		}
		path := filepath.Join(dir, name)
		if err := c.SaveFile(fh, path); err != nil {
			return err
		}

		res, err := a.Submit(c.UserContext(), analysis.ImageRef{Path: path})
		if err != nil {
			var se *analysis.SubmissionError
			if !errors.As(err, &se) {
				return err
			}
			return c.Status(submissionStatus(se.Kind)).JSON(fiber.Map{
				"error":      true,
				"kind":       se.Kind,
				"message":    se.Message,
				"statusCode": se.StatusCode,
				"attempts":   se.Attempts,
			})
		}
		return c.JSON(res)
	}
}

func submissionStatus(kind analysis.ErrorKind) int {
	switch kind {
	case analysis.KindValidation:
		return fiber.StatusBadRequest
	case analysis.KindTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}
