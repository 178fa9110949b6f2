package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/i474232898/agroassist/internal/connectivity"
)

var validate = validator.New()

// DefaultMaxImageBytes caps images read into memory.
const DefaultMaxImageBytes = 15 << 20

// image is a validated local file read into memory.
type image struct {
	Name     string
	MimeType string
	Data     []byte
}

// metadata accompanies the base64 transport.
type metadata struct {
	RequestID   string    `json:"request_id" validate:"required,uuid4"`
	ImageName   string    `json:"image_name" validate:"required"`
	MimeType    string    `json:"mime_type" validate:"required"`
	SizeBytes   int64     `json:"size_bytes" validate:"gt=0"`
	Encoding    string    `json:"encoding" validate:"oneof=base64"`
	SubmittedAt time.Time `json:"submitted_at" validate:"required"`
}

// loadImage checks that ref names a non-empty regular file no larger than max
// and reads it. No network I/O happens here.
func loadImage(ref ImageRef, max int64) (image, error) {
	path := strings.TrimSpace(ref.Path)
	if path == "" {
		return image{}, errors.New("image path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return image{}, fmt.Errorf("image %s does not exist", path)
		}
		return image{}, fmt.Errorf("stat image: %w", err)
	}
	if !info.Mode().IsRegular() {
		return image{}, fmt.Errorf("image %s is not a regular file", path)
	}
	if info.Size() <= 0 {
		return image{}, fmt.Errorf("image %s is empty", path)
	}
	if max > 0 && info.Size() > max {
		return image{}, fmt.Errorf("image %s exceeds %d bytes", path, max)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return image{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return image{}, fmt.Errorf("image %s is empty", path)
	}
	return image{
		Name:     filepath.Base(path),
		MimeType: mimetype.Detect(data).String(),
		Data:     data,
	}, nil
}

// multipartRequest builds the primary transport request: the raw bytes in field "file".
func multipartRequest(ctx context.Context, endpoint string, img image) (*http.Request, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(img.Name)))
	header.Set("Content-Type", img.MimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

// base64Request builds the fallback transport request: form fields
// "image_data" (standard base64) and "metadata" (JSON string).
func base64Request(ctx context.Context, endpoint string, img image, meta metadata) (*http.Request, error) {
	if err := validate.Struct(meta); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	form := url.Values{}
	form.Set("image_data", base64.StdEncoding.EncodeToString(img.Data))
	form.Set("metadata", string(metaJSON))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// failure describes an unsuccessful attempt on one transport.
type failure struct {
	transport  Transport
	statusCode int
	message    string
	// transportLevel failures permit falling back to the next transport.
	transportLevel bool
	timeout        bool
	err            error
}

func (f *failure) attempt() TransportAttempt {
	msg := f.message
	if f.err != nil {
		msg = f.err.Error()
	}
	return TransportAttempt{
		Transport:  f.transport,
		StatusCode: f.statusCode,
		Error:      msg,
		Fallback:   f.transportLevel,
	}
}

// exchange performs req and classifies the outcome. A JSON error body from the
// backend is an application-level failure; connection errors, timeouts and
// non-JSON error pages are transport-level.
func exchange(client *http.Client, t Transport, req *http.Request) (map[string]any, *failure) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &failure{
			transport:      t,
			transportLevel: true,
			timeout:        connectivity.Classify(err) == connectivity.ReasonTimeout,
			err:            fmt.Errorf("%s request: %w", t, err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &failure{
			transport:      t,
			statusCode:     resp.StatusCode,
			transportLevel: true,
			timeout:        connectivity.Classify(err) == connectivity.ReasonTimeout,
			err:            fmt.Errorf("%s read body: %w", t, err),
		}
	}

	var payload map[string]any
	decodeErr := json.Unmarshal(body, &payload)
	if decodeErr != nil {
		payload = nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if payload == nil {
			return nil, &failure{
				transport:      t,
				statusCode:     resp.StatusCode,
				transportLevel: true,
				err:            fmt.Errorf("%s: status %d with non-JSON body", t, resp.StatusCode),
			}
		}
		msg := errorMessage(payload)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &failure{transport: t, statusCode: resp.StatusCode, message: msg}
	}

	if payload == nil {
		return nil, &failure{
			transport:  t,
			statusCode: resp.StatusCode,
			message:    "backend returned an unreadable analysis response",
			err:        fmt.Errorf("%s decode response: %w", t, decodeErr),
		}
	}
	return payload, nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
