package weather

import (
	"errors"
	"fmt"
)

// ErrLocationDenied is returned by a Locator when the device position is unavailable.
var ErrLocationDenied = errors.New("location permission denied")

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	KindLocationDenied ErrorKind = "location-denied"
	KindNetwork        ErrorKind = "network"
	KindUpstream       ErrorKind = "upstream"
)

// FetchError is returned by Service.FetchData when no real data could be obtained.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("weather %s error (status %d, %d attempts): %v", e.Kind, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("weather %s error (%d attempts): %v", e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// UpstreamFailure is implemented by provider errors that carry a classification.
type UpstreamFailure interface {
	error
	// HTTPStatus is zero when no response was received.
	HTTPStatus() int
	AttemptCount() int
}

// toFetchError classifies a provider error. Failures that produced an HTTP
// status are upstream errors; everything else is a network error.
func toFetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	out := &FetchError{Kind: KindNetwork, Attempts: 1, Err: err}
	var uf UpstreamFailure
	if errors.As(err, &uf) {
		out.Attempts = uf.AttemptCount()
		if status := uf.HTTPStatus(); status != 0 {
			out.Kind = KindUpstream
			out.StatusCode = status
		}
	}
	return out
}
