package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentmesh/agentmesh/pkg/cache"
	"github.com/agentmesh/agentmesh/pkg/observability"
	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// Gateway routes generate requests across a priority-ordered endpoint list
// with health-checked failover, per-endpoint retry, and response caching.
type Gateway struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	requests  map[string]int64
	successes map[string]int64
	failures  map[string]int64

	client           *http.Client
	retry            RetryConfig
	failureThreshold int
	probeInterval    time.Duration

	cache    *cache.LRU
	cacheTTL time.Duration

	metrics *observability.Metrics
	logger  *slog.Logger
	rng     *rand.Rand

	// sleep is replaceable in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRetry sets the per-endpoint retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(g *Gateway) { g.retry = cfg }
}

// WithFailureThreshold sets how many consecutive probe or request failures
// mark an endpoint unhealthy.
func WithFailureThreshold(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.failureThreshold = n
		}
	}
}

// WithProbeInterval sets the background health probe interval.
func WithProbeInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.probeInterval = d
		}
	}
}

// WithCache attaches a response cache with the given TTL.
func WithCache(c *cache.LRU, ttl time.Duration) Option {
	return func(g *Gateway) {
		g.cache = c
		g.cacheTTL = ttl
	}
}

// WithMetrics attaches the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithHTTPClient replaces the HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// New creates a gateway over the given priority-ordered endpoints.
func New(endpoints []*Endpoint, opts ...Option) (*Gateway, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	for _, ep := range endpoints {
		if ep.URL == "" {
			return nil, fmt.Errorf("endpoint %q has no URL", ep.Name)
		}
		if ep.Timeout <= 0 {
			ep.Timeout = 60 * time.Second
		}
		ep.health = HealthUnknown
	}

	g := &Gateway{
		endpoints:        endpoints,
		requests:         make(map[string]int64),
		successes:        make(map[string]int64),
		failures:         make(map[string]int64),
		client:           &http.Client{},
		failureThreshold: 3,
		probeInterval:    30 * time.Second,
		logger:           slog.Default().With("component", "gateway"),
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:            sleepCtx,
	}
	g.retry.SetDefaults()
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate performs a non-streaming request, consulting the cache first and
// walking endpoints in priority order on failure.
func (g *Gateway) Generate(ctx context.Context, messages []protocol.Message, opts Options) (*Response, error) {
	tracer := observability.Tracer(observability.TracerGateway)
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, opts.Model),
			attribute.Bool("streaming", false),
		),
	)
	defer span.End()

	var key string
	if g.cache != nil && !opts.DisableCache {
		key = Fingerprint(messages, opts)
		if data, ok := g.cache.Get(key); ok {
			var resp Response
			if err := json.Unmarshal(data, &resp); err == nil {
				resp.Cached = true
				span.SetAttributes(attribute.Bool("cache_hit", true))
				g.metrics.Count("gateway_cache_hits", 1, nil)
				return &resp, nil
			}
			g.cache.Delete(key)
		}
		g.metrics.Count("gateway_cache_misses", 1, nil)
	}

	resp, err := g.dispatch(ctx, messages, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if key != "" {
		if data, err := json.Marshal(resp); err == nil {
			g.cache.SetWithTTL(key, data, g.cacheTTL)
		}
	}
	return resp, nil
}

// GenerateStreaming performs a streaming request. The cache is always
// bypassed. On a mid-stream failure the chunks already emitted stand and
// the final chunk carries the error.
func (g *Gateway) GenerateStreaming(ctx context.Context, messages []protocol.Message, opts Options) (<-chan StreamChunk, error) {
	opts.Stream = true

	var lastErr error
	for _, ep := range g.candidates() {
		body, err := g.openStream(ctx, ep, messages, opts)
		if err != nil {
			lastErr = err
			g.recordFailure(ep)
			continue
		}
		g.recordSuccess(ep)

		out := make(chan StreamChunk)
		go g.consumeStream(ctx, body, out)
		return out, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllEndpointsUnavailable, lastErr)
	}
	return nil, ErrAllEndpointsUnavailable
}

// dispatch walks candidate endpoints in order, applying the per-endpoint
// retry policy, and returns the first successful response.
func (g *Gateway) dispatch(ctx context.Context, messages []protocol.Message, opts Options) (*Response, error) {
	var lastErr error

	for _, ep := range g.candidates() {
		resp, err := g.callWithRetry(ctx, ep, messages, opts)
		if err == nil {
			g.recordSuccess(ep)
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.recordFailure(ep)
		lastErr = err
		g.logger.Warn("endpoint failed, trying next",
			"endpoint", ep.Name,
			"error", err)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllEndpointsUnavailable, lastErr)
	}
	return nil, ErrAllEndpointsUnavailable
}

// candidates returns healthy endpoints in priority order. If none are
// healthy every endpoint is returned anyway (degraded mode): a transiently
// wrong health cache must never block the system permanently.
func (g *Gateway) candidates() []*Endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()

	healthy := make([]*Endpoint, 0, len(g.endpoints))
	for _, ep := range g.endpoints {
		if ep.health != HealthUnhealthy {
			healthy = append(healthy, ep)
		}
	}
	if len(healthy) == 0 {
		g.logger.Warn("no healthy endpoints, entering degraded mode")
		return append([]*Endpoint(nil), g.endpoints...)
	}
	return healthy
}

// callWithRetry tries one endpoint up to MaxAttempts with exponential
// backoff. Timeouts, connection errors, and 5xx responses are retried; a
// 4xx is terminal for this endpoint and falls through to the next.
func (g *Gateway) callWithRetry(ctx context.Context, ep *Endpoint, messages []protocol.Message, opts Options) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		resp, err := g.callOnce(ctx, ep, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var epErr *endpointError
		if errors.As(err, &epErr) && !epErr.retriable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (g *Gateway) callOnce(ctx context.Context, ep *Endpoint, messages []protocol.Message, opts Options) (*Response, error) {
	g.mu.Lock()
	g.requests[ep.Name]++
	g.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	httpResp, err := g.post(reqCtx, ep, messages, opts)
	if err != nil {
		// Transport errors and timeouts are retriable.
		return nil, &endpointError{endpoint: ep.Name, retriable: true, err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &endpointError{endpoint: ep.Name, retriable: true, err: err}
	}

	if httpResp.StatusCode >= 500 {
		return nil, &endpointError{endpoint: ep.Name, status: httpResp.StatusCode, retriable: true,
			err: fmt.Errorf("server error")}
	}
	if httpResp.StatusCode >= 400 {
		return nil, &endpointError{endpoint: ep.Name, status: httpResp.StatusCode, retriable: false,
			err: fmt.Errorf("client error: %s", strings.TrimSpace(string(body)))}
	}

	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		// Malformed response counts as a failure: retry, then fail over.
		return nil, &endpointError{endpoint: ep.Name, retriable: true,
			err: fmt.Errorf("malformed response: %w", err)}
	}
	if wire.Error != nil {
		return nil, &endpointError{endpoint: ep.Name, retriable: false,
			err: fmt.Errorf("API error: %s", wire.Error.Message)}
	}
	if len(wire.Choices) == 0 {
		return nil, &endpointError{endpoint: ep.Name, retriable: true,
			err: fmt.Errorf("no choices in response")}
	}

	return &Response{
		Text:      wire.Choices[0].Message.Content,
		Tokens:    wire.Usage.TotalTokens,
		Reasoning: wire.Choices[0].Message.Reasoning,
		Endpoint:  ep.Name,
	}, nil
}

func (g *Gateway) post(ctx context.Context, ep *Endpoint, messages []protocol.Message, opts Options) (*http.Response, error) {
	model := opts.Model
	if model == "" {
		model = ep.Model
	}
	wireReq := chatRequest{
		Model:       model,
		Messages:    toWireMessages(messages),
		Temperature: opts.Temperature,
		Stop:        opts.Stop,
		Stream:      opts.Stream,
	}
	if opts.MaxTokens > 0 {
		wireReq.MaxTokens = &opts.MaxTokens
	}

	payload, err := json.Marshal(wireReq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(ep.URL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}
	return g.client.Do(req)
}

func (g *Gateway) openStream(ctx context.Context, ep *Endpoint, messages []protocol.Message, opts Options) (io.ReadCloser, error) {
	httpResp, err := g.post(ctx, ep, messages, opts)
	if err != nil {
		return nil, &endpointError{endpoint: ep.Name, retriable: true, err: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, &endpointError{endpoint: ep.Name, status: httpResp.StatusCode,
			retriable: httpResp.StatusCode >= 500,
			err:       fmt.Errorf("stream rejected: %s", strings.TrimSpace(string(body)))}
	}
	return httpResp.Body, nil
}

func (g *Gateway) consumeStream(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}

		var chunk streamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed keep-alive lines
		}
		if chunk.Error != nil {
			g.emit(ctx, out, StreamChunk{Err: fmt.Errorf("stream error: %s", chunk.Error.Message)})
			return
		}

		sc := StreamChunk{}
		if len(chunk.Choices) > 0 {
			sc.Text = chunk.Choices[0].Delta.Content
		}
		if chunk.Usage != nil {
			sc.Tokens = chunk.Usage.TotalTokens
		}
		if sc.Text == "" && sc.Tokens == 0 {
			continue
		}
		if !g.emit(ctx, out, sc) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		g.emit(ctx, out, StreamChunk{Err: fmt.Errorf("stream interrupted: %w", err)})
	}
}

func (g *Gateway) emit(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (g *Gateway) backoff(attempt int) time.Duration {
	base := math.Pow(g.retry.BackoffBase, float64(attempt))
	jitter := 1 + g.retry.JitterFraction*(2*g.rng.Float64()-1)
	return time.Duration(base * jitter * float64(time.Second))
}

func (g *Gateway) recordSuccess(ep *Endpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes[ep.Name]++
	ep.consecutiveFailures = 0
	ep.health = HealthHealthy
	ep.lastCheck = time.Now()
	g.metrics.Count("gateway_requests", 1, map[string]string{"endpoint": ep.Name, "outcome": "success"})
}

func (g *Gateway) recordFailure(ep *Endpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[ep.Name]++
	ep.consecutiveFailures++
	ep.lastCheck = time.Now()
	if ep.consecutiveFailures >= g.failureThreshold {
		ep.health = HealthUnhealthy
	}
	g.metrics.Count("gateway_requests", 1, map[string]string{"endpoint": ep.Name, "outcome": "failure"})
}

// Statuses returns a snapshot of every endpoint in priority order.
func (g *Gateway) Statuses() []Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Status, 0, len(g.endpoints))
	for _, ep := range g.endpoints {
		out = append(out, Status{
			Name:                ep.Name,
			URL:                 ep.URL,
			Health:              ep.health,
			LastCheck:           ep.lastCheck,
			ConsecutiveFailures: ep.consecutiveFailures,
			Requests:            g.requests[ep.Name],
			Successes:           g.successes[ep.Name],
			Failures:            g.failures[ep.Name],
		})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
