package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// Transport names a way of encoding and sending the image.
type Transport string

const (
	TransportMultipart Transport = "multipart"
	TransportBase64    Transport = "base64"
)

// Backend endpoints, relative to the configured base URL.
const (
	MultipartPath = "/api/analyze-image/"
	Base64Path    = "/api/analyze-image-base64/"
)

// ImageRef points at a local image file.
type ImageRef struct {
	Path string `json:"path"`
}

// AnalysisResult is the normalized outcome of a successful submission.
// Text fields are never empty.
type AnalysisResult struct {
	Success          bool      `json:"success"`
	Diagnosis        string    `json:"diagnosis"`
	Symptoms         string    `json:"symptoms"`
	Treatment        string    `json:"treatment"`
	AudioRef         *string   `json:"audioRef"`
	AudioURL         string    `json:"audioUrl,omitempty"`
	ModelUsed        string    `json:"modelUsed"`
	ProcessingTimeMs float64   `json:"processingTimeMs"`
	Cached           bool      `json:"cached"`
	Transport        Transport `json:"transport"`
	RequestID        string    `json:"requestId"`
}

// ErrorKind classifies a failed submission.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNetwork    ErrorKind = "network"
	KindServer     ErrorKind = "server"
	KindTimeout    ErrorKind = "timeout"
)

// TransportAttempt records what happened on one transport.
type TransportAttempt struct {
	Transport  Transport `json:"transport"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error"`
	// Fallback is true when the failure was transport-level and allowed the next transport.
	Fallback bool `json:"fallback"`
}

// SubmissionError is the single terminal error returned by Pipeline.Submit.
type SubmissionError struct {
	Kind       ErrorKind          `json:"kind"`
	Message    string             `json:"message"`
	StatusCode int                `json:"statusCode,omitempty"`
	Attempts   []TransportAttempt `json:"attempts,omitempty"`
	Err        error              `json:"-"`
}

func (e *SubmissionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error: %s", e.Kind, e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a SubmissionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
