package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hansl/specification/pkg/identity"
)

// ContentType is the media type of every request and response body.
const ContentType = "application/cbor"

const maxBodySize = 16 << 20

// Transport delivers a request as id and returns the server's response.
type Transport interface {
	Send(ctx context.Context, id identity.Identity, req *RequestMessage) (*ResponseMessage, error)
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("protocol: server returned %d: %s", e.Status, e.Body)
}

// HTTPTransport posts sealed envelopes to a single server URL.
type HTTPTransport struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) { t.client.Timeout = d }
}

// WithRateLimit caps outgoing requests. A zero limit disables limiting.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(t *HTTPTransport) {
		if r <= 0 {
			t.limiter = nil
			return
		}
		t.limiter = rate.NewLimiter(r, burst)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *HTTPTransport) { t.logger = l }
}

// NewHTTPTransport creates a transport for the server at url.
func NewHTTPTransport(url string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default().With("component", "transport"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Send seals req as id, posts it and opens the response envelope.
func (t *HTTPTransport) Send(ctx context.Context, id identity.Identity, req *RequestMessage) (*ResponseMessage, error) {
	payload, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	env, err := Seal(id, payload)
	if err != nil {
		return nil, err
	}
	body, err := env.Encode()
	if err != nil {
		return nil, err
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("protocol: rate limit: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("protocol: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", ContentType)
	httpReq.Header.Set("Accept", ContentType)

	start := time.Now()
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("protocol: send %s: %w", req.Method, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("protocol: read response: %w", err)
	}
	t.logger.DebugContext(ctx, "request sent",
		"method", req.Method,
		"status", httpResp.StatusCode,
		"bytes", len(raw),
		"duration", time.Since(start),
	)
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{Status: httpResp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}

	respEnv, err := OpenEnvelope(raw)
	if err != nil {
		return nil, err
	}
	resp, err := DecodeResponse(respEnv.Payload)
	if err != nil {
		return nil, err
	}
	if len(req.ID) > 0 && len(resp.ID) > 0 && !bytes.Equal(req.ID, resp.ID) {
		return nil, fmt.Errorf("protocol: response id %x does not match request id %x", resp.ID, req.ID)
	}
	return resp, nil
}
