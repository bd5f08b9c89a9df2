package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
)

// Client performs JSON requests against one provider API.
type Client struct {
	name            string
	baseURL         string
	http            *http.Client
	authorize       func(*http.Request)
	maxAttempts     uint
	initialInterval time.Duration
	observer        Observer
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetry sets the attempt budget and the first backoff interval.
func WithRetry(attempts uint, initial time.Duration) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if initial > 0 {
			c.initialInterval = initial
		}
	}
}

func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

func NewClient(name, baseURL string, authorize func(*http.Request), opts ...ClientOption) *Client {
	c := &Client{
		name:            name,
		baseURL:         strings.TrimRight(baseURL, "/"),
		http:            &http.Client{Timeout: DefaultTimeout},
		authorize:       authorize,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: 200 * time.Millisecond,
		observer:        nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string {
	return c.name
}

// Do sends payload (when non-nil) as JSON and decodes a 2xx body into dest
// (when non-nil). op names the call for logs and metrics. Transient failures
// are retried, so Do is only for idempotent requests.
func (c *Client) Do(ctx context.Context, op, method, path string, payload, dest interface{}) error {
	return c.do(ctx, op, method, path, payload, dest, c.maxAttempts)
}

// DoOnce is Do with a single attempt, for requests that create resources.
// A 5xx or timeout may still have created the resource upstream, so
// retrying is left to the caller.
func (c *Client) DoOnce(ctx context.Context, op, method, path string, payload, dest interface{}) error {
	return c.do(ctx, op, method, path, payload, dest, 1)
}

func (c *Client) do(ctx context.Context, op, method, path string, payload, dest interface{}, attempts uint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(ErrUnavailable, fmt.Errorf("%s %s: panic: %v", c.name, op, r))
		}
		c.observer.ObserveProviderCall(c.name, op, err)
	}()

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = 2 * time.Second

	operation := func() (struct{}, error) {
		attemptErr := c.once(ctx, method, path, body, dest)
		if attemptErr == nil {
			return struct{}{}, nil
		}
		var statusErr *StatusError
		if errors.As(attemptErr, &statusErr) && !statusErr.Transient() {
			return struct{}{}, backoff.Permanent(attemptErr)
		}
		if errors.Is(attemptErr, ErrMalformed) {
			return struct{}{}, backoff.Permanent(attemptErr)
		}
		return struct{}{}, attemptErr
	}

	notify := func(attemptErr error, wait time.Duration) {
		zerolog.Ctx(ctx).Warn().Err(attemptErr).
			Str("provider", c.name).
			Str("operation", op).
			Dur("retry_in", wait).
			Msg("provider request failed, retrying")
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return nil
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) || errors.Is(err, ErrMalformed) {
		return err
	}
	// network failures, timeouts and cancellation
	return errors.Join(ErrUnavailable, fmt.Errorf("%s %s: %w", c.name, op, err))
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Provider:   c.name,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return errors.Join(ErrMalformed, fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

// SetBearer installs a bearer token when one is configured.
func SetBearer(token string) func(*http.Request) {
	token = strings.TrimSpace(token)
	return func(req *http.Request) {
		if token == "" {
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// SetBasicAuth installs HTTP basic credentials.
func SetBasicAuth(user, pass string) func(*http.Request) {
	return func(req *http.Request) {
		if user == "" {
			return
		}
		req.SetBasicAuth(user, pass)
	}
}
