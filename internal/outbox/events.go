package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventsPath is the backend endpoint receiving relayed events.
const EventsPath = "/api/events/"

// DefaultSendTimeout bounds a single event delivery.
const DefaultSendTimeout = 10 * time.Second

// Event is a notification forwarded to the backend.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent encodes payload into an Event with a fresh ID.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// HTTPSender posts events as JSON to {baseURL}/api/events/.
type HTTPSender struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
}

// NewHTTPSender builds a sender. A nil client uses a fresh http.Client. Each
// Send is bounded by DefaultSendTimeout whatever the client's own timeout.
func NewHTTPSender(client *http.Client, baseURL string) *HTTPSender {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{
		client:   client,
		endpoint: strings.TrimRight(baseURL, "/") + EventsPath,
		timeout:  DefaultSendTimeout,
	}
}

// WithTimeout overrides the per-send timeout. Non-positive values are ignored.
func (s *HTTPSender) WithTimeout(d time.Duration) *HTTPSender {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Send delivers one event. Any non-2xx response is an error.
func (s *HTTPSender) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ev.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("post event: status=%d body=%s", resp.StatusCode, string(payload))
	}
	return nil
}
