// Package train queries a TRAIN trust validator for the accreditation of
// a cheqd DID.
package train

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 5 << 20

// ErrValidator is returned when the validator answers with a non-2xx status.
var ErrValidator = errors.New("train: validator error")

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client talks to one validator endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	log      *slog.Logger
}

// New returns a client for the validator at endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is the resolve-cheqd request body.
type Request struct {
	DID            string `json:"did"`
	TrustFramework string `json:"trustFramework,omitempty"`
}

// ResolveAccreditation asks the validator whether id is accredited,
// optionally within trustFramework, and returns its JSON verdict as is.
func (c *Client) ResolveAccreditation(ctx context.Context, id, trustFramework string) (json.RawMessage, error) {
	body, err := json.Marshal(Request{DID: id, TrustFramework: trustFramework})
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(c.endpoint, "/") + "/resolve-cheqd"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build validator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "train.resolve.fail", slog.String("did", id), slog.String("err", err.Error()))
		return nil, fmt.Errorf("resolve accreditation of %s: %w", id, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read validator response: %w", err)
	}
	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrValidator, res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrValidator)
	}
	c.log.DebugContext(ctx, "train.resolve.ok",
		slog.String("did", id),
		slog.Int("status", res.StatusCode),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return raw, nil
}
