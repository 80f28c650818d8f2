package presence

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nomercy/ranked-backend/internal/service"
)

// APIError non-success response from the presence service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("presence service returned %d: %s", e.Status, e.Body)
}

type statusResponse struct {
	Required  bool `json:"required"`
	Connected bool `json:"connected"`
}

// Client anti-cheat presence lookups over HTTP.
type Client struct {
	rest *resty.Client
}

type Option func(*resty.Client)

func WithAPIKey(key string) Option {
	return func(c *resty.Client) {
		if key != "" {
			c.SetHeader("X-API-Key", key)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) {
		if d > 0 {
			c.SetTimeout(d)
		}
	}
}

// WithRetries retries transport errors and 5xx responses.
func WithRetries(n int) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(n).
			SetRetryWaitTime(100 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(rest)
	}
	return &Client{rest: rest}
}

// CheckPresence asks whether playerID must run the anti-cheat client and
// whether it is connected. An unknown player is required but not connected.
func (c *Client) CheckPresence(ctx context.Context, playerID string) (service.PresenceResult, error) {
	var body statusResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/v1/presence/" + url.PathEscape(playerID))
	if err != nil {
		return service.PresenceResult{}, fmt.Errorf("failed to query presence: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return service.PresenceResult{Required: true}, nil
	case resp.IsError():
		return service.PresenceResult{}, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return service.PresenceResult{Required: body.Required, Connected: body.Connected}, nil
}
