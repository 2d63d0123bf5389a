package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxAttempts    = 3
	defaultTimeout = 30 * time.Second
	maxBodyLog     = 512
)

var ErrDeliveryFailed = errors.New("webhook delivery failed")

// StatusError is a non-2xx answer from a subscriber callback.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("callback returned status %d: %s", e.Status, e.Body)
}

// Client posts trigger payloads to subscriber callback URLs, signed with the
// shared board secret.
type Client struct {
	httpClient *http.Client
	secret     string
}

func NewClient(secret string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		secret: secret,
	}
}

type trigger struct {
	Trigger struct {
		OutputFields any `json:"outputFields"`
	} `json:"trigger"`
}

// Deliver posts {trigger: {outputFields}} to url, making at most three
// attempts. The returned error wraps ErrDeliveryFailed and the last failure.
func (c *Client) Deliver(ctx context.Context, url string, outputFields any) error {
	var payload trigger
	payload.Trigger.OutputFields = outputFields
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = c.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, maxAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// IsUnavailable reports a 503 from the callback, which the board returns
// while it is busy and which is not worth logging.
func IsUnavailable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusServiceUnavailable
}
