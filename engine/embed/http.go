package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/densemark/densemark/pkg/fn"
)

// DefaultTimeout bounds a single embedding call.
const DefaultTimeout = 60 * time.Second

// probeText is embedded once at startup to surface misconfiguration
// (wrong extraction key, wrong dimensionality) before the run begins.
const probeText = "embedding service startup probe"

// Options configures the HTTP embedding client.
type Options struct {
	// Endpoint is the full URL of the vector endpoint.
	Endpoint string
	// VectorKey names the JSON field holding the vector. Empty means the
	// response body itself is the vector.
	VectorKey string
	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
	// Dims, when positive, is the expected vector length; a mismatch is
	// an error.
	Dims int
	// RetryOnTimeout is the number of extra attempts after a timeout.
	// Zero (the default) gives up after the first timeout.
	RetryOnTimeout int
	// RateLimit caps requests per second. Zero means unlimited.
	RateLimit float64
}

// Client calls an E5-style inference endpoint: POST {"text": ...} returns
// a JSON body carrying the vector under a configured key, or as the body
// itself. The extraction strategy is fixed at construction, never
// re-decided per call.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an HTTP embedding client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	c := &Client{
		opts: opts,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

type embedRequest struct {
	Text string `json:"text"`
}

// Embed applies the role prefix and requests a vector for the text.
// A timeout is reported as ErrTimeout, distinct from other transport
// failures; configured retries apply to timeouts only.
func (c *Client) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	attempts := 1 + c.opts.RetryOnTimeout
	r := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: attempts,
		InitialWait: time.Second,
		MaxWait:     10 * time.Second,
		Jitter:      true,
		RetryIf:     fn.RetryOn(ErrTimeout),
	}, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(c.embedOnce(ctx, role.Prefix()+text))
	})
	return r.Unwrap()
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.opts.Timeout)
		}
		return nil, fmt.Errorf("embed: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return c.extract(raw)
}

// extract pulls the vector out of the response body according to the
// configured strategy and validates it.
func (c *Client) extract(raw json.RawMessage) ([]float32, error) {
	if c.opts.VectorKey != "" {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: body is not an object", ErrNotVector)
		}
		inner, ok := fields[c.opts.VectorKey]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingKey, c.opts.VectorKey)
		}
		raw = inner
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotVector, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrNotVector)
	}
	if c.opts.Dims > 0 && len(vec) != c.opts.Dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), c.opts.Dims)
	}
	return vec, nil
}

// Probe embeds a fixed sentinel text through any backend. Call it once at
// startup: a failure here means the endpoint, extraction key, model, or
// dimensionality is misconfigured, and the run should abort instead of
// skipping every item.
func Probe(ctx context.Context, e Embedder) error {
	if _, err := e.Embed(ctx, probeText, RoleDocument); err != nil {
		return fmt.Errorf("embed: startup probe: %w", err)
	}
	return nil
}

// Probe embeds the startup sentinel through this client.
func (c *Client) Probe(ctx context.Context) error {
	return Probe(ctx, c)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
