// Package ollama is a streaming client for the Ollama HTTP API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRequestTimeout bounds the non-streaming calls (model list, health probe).
	DefaultRequestTimeout = 10 * time.Second

	// maxLineSize caps one NDJSON line. Done lines carry the whole continuation
	// context and grow with the conversation.
	maxLineSize = 16 << 20
	// maxErrorBody caps how much of a non-success body is kept.
	maxErrorBody = 64 << 10

	// abandonAfter is how long a canceled stream waits for its consumer to take the
	// terminal event.
	abandonAfter = 500 * time.Millisecond

	idleConnsPerHost = 16
	idleConnTimeout  = 90 * time.Second
)

// Client talks to one Ollama server. It is safe for concurrent use.
type Client struct {
	host           string
	http           *http.Client
	ownsHTTP       bool
	requestTimeout time.Duration
	logger         *zap.Logger

	malformed atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient injects a caller-owned HTTP client. Close leaves its connections alone.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
			c.ownsHTTP = false
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestTimeout bounds ListModels and CheckConnection. Generate is bounded only
// by its context.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// NewClient creates a client for host, which must be an http:// or https:// URL.
// Without WithHTTPClient the client builds and owns a pooled transport that Close
// releases.
func NewClient(host string, opts ...Option) (*Client, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid ollama host %q: must start with http:// or https://", host)
	}

	c := &Client{
		host: host,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        idleConnsPerHost,
				MaxIdleConnsPerHost: idleConnsPerHost,
				IdleConnTimeout:     idleConnTimeout,
			},
		},
		ownsHTTP:       true,
		requestTimeout: DefaultRequestTimeout,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Host returns the base URL requests are sent to.
func (c *Client) Host() string {
	return c.host
}

// MalformedLines returns how many stream lines have been skipped because they were not
// valid JSON.
func (c *Client) MalformedLines() int64 {
	return c.malformed.Load()
}

// Close releases the pooled connections when the client owns them. Subsequent requests
// fail with ErrClosed. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.ownsHTTP {
			c.http.CloseIdleConnections()
		}
	})
	return nil
}

// Generate starts a streaming generation. Events are delivered on the returned channel
// as soon as each line is decoded; the channel is closed after the single terminal
// event. The caller must receive until the channel is closed or cancel ctx. Cancelling
// ctx aborts the request and surfaces as a Failure.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) <-chan StreamEvent {
	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		final := c.stream(ctx, req, events)
		if !deliver(ctx, events, final) {
			c.logger.Debug("Terminal event dropped, consumer stopped reading",
				zap.String("kind", final.Kind.String()))
		}
	}()
	return events
}

// deliver sends the terminal event. Once ctx is done the consumer gets a short grace
// period to take it before the event is dropped and the producer exits.
func deliver(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
	}

	grace := time.NewTimer(abandonAfter)
	defer grace.Stop()
	select {
	case events <- ev:
		return true
	case <-grace.C:
		return false
	}
}

// stream sends token events and returns the terminal event.
func (c *Client) stream(ctx context.Context, req GenerateRequest, events chan<- StreamEvent) StreamEvent {
	if c.closed.Load() {
		return Failure(&ConnectionError{Op: "generate", Err: ErrClosed})
	}

	payload, err := json.Marshal(generateBody{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Stream:  true,
		System:  req.System,
		Context: req.Context,
	})
	if err != nil {
		return Failure(fmt.Errorf("marshal generate request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return Failure(&ConnectionError{Op: "generate", Err: err})
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Failure(&ConnectionError{Op: "generate", Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Failure(&StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			n := c.malformed.Add(1)
			c.logger.Debug("Skipping stream line",
				zap.Error(fmt.Errorf("%w: %w", ErrMalformedLine, err)),
				zap.Int("bytes", len(line)),
				zap.Int64("malformed_total", n))
			continue
		}

		if chunk.Error != "" {
			return Failure(&StreamError{Message: chunk.Error})
		}
		if chunk.Response != "" {
			select {
			case events <- Token(chunk.Response):
			case <-ctx.Done():
				return Failure(&ConnectionError{Op: "read stream", Err: ctx.Err()})
			}
		}
		if chunk.Done {
			return Done(chunk.Context)
		}
	}

	if err := scanner.Err(); err != nil {
		return Failure(&ConnectionError{Op: "read stream", Err: err})
	}
	// The body ended without a done line; treat it as completion without context.
	c.logger.Debug("Stream ended without done marker", zap.String("model", req.Model))
	return Done(nil)
}

// ListModels returns the names of the locally available models. Any failure yields an
// empty list.
func (c *Client) ListModels(ctx context.Context) []string {
	models, err := c.listModels(ctx)
	if err != nil {
		c.logger.Debug("Listing models failed", zap.Error(err))
		return []string{}
	}
	return models
}

func (c *Client) listModels(ctx context.Context) ([]string, error) {
	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// CheckConnection reports whether the server answers its root endpoint with 200.
func (c *Client) CheckConnection(ctx context.Context) bool {
	resp, err := c.get(ctx, "/")
	if err != nil {
		c.logger.Debug("Connection check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	return resp.StatusCode == http.StatusOK
}

// get issues a bounded GET. The caller closes the body.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	if c.closed.Load() {
		return nil, &ConnectionError{Op: "GET " + path, Err: ErrClosed}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.host+path, nil)
	if err != nil {
		cancel()
		return nil, &ConnectionError{Op: "GET " + path, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, &ConnectionError{Op: "GET " + path, Err: err}
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the request context together with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
