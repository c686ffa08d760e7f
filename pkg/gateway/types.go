// Package gateway is the LLM gateway: a dual-endpoint client with health
// checked failover, per-endpoint retry, and response caching. Endpoints
// speak the OpenAI-compatible chat completions wire format, which is what
// self-hosted inference servers expose.
package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// ErrAllEndpointsUnavailable is returned only after every endpoint has
// exhausted its retries.
var ErrAllEndpointsUnavailable = errors.New("all LLM endpoints unavailable")

var errServerUnavailable = errors.New("server unavailable")

// Health is the probe-derived status of an endpoint.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// Endpoint is one LLM network address with its health bookkeeping. Health
// fields are guarded by the gateway's mutex.
type Endpoint struct {
	URL     string
	Name    string
	Model   string
	APIKey  string
	Timeout time.Duration

	health              Health
	lastCheck           time.Time
	consecutiveFailures int
}

// Status is a read-only snapshot of an endpoint's health and counters.
type Status struct {
	Name                string    `json:"name"`
	URL                 string    `json:"url"`
	Health              Health    `json:"health"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Requests            int64     `json:"requests"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
}

// Options are the recognized per-request generation options.
type Options struct {
	Temperature  *float64
	MaxTokens    int
	Model        string // overrides the endpoint default
	Stop         []string
	Stream       bool
	DisableCache bool
}

// Response is the outcome of a successful generate call.
type Response struct {
	Text      string `json:"text"`
	Tokens    int    `json:"tokens"`
	Reasoning string `json:"reasoning,omitempty"` // think-variant models expose this
	Endpoint  string `json:"endpoint,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
}

// StreamChunk is one element of a streaming response. A chunk with Err set
// is the terminal marker: chunks already emitted remain valid.
type StreamChunk struct {
	Text   string
	Tokens int
	Err    error
}

// Message aliases the protocol conversation message for caller convenience.
type Message = protocol.Message

// RetryConfig bounds per-endpoint retry behavior.
type RetryConfig struct {
	// MaxAttempts is the number of tries per endpoint, including the first.
	MaxAttempts int

	// BackoffBase is b in the b^attempt seconds backoff schedule.
	BackoffBase float64

	// JitterFraction scales the random jitter applied to each delay.
	JitterFraction float64
}

// SetDefaults fills unset fields.
func (c *RetryConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2.0
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
}

// endpointError classifies a failed attempt against one endpoint.
type endpointError struct {
	endpoint  string
	status    int // 0 for transport errors
	retriable bool
	err       error
}

func (e *endpointError) Error() string {
	if e.status > 0 {
		return fmt.Sprintf("endpoint %s: HTTP %d: %v", e.endpoint, e.status, e.err)
	}
	return fmt.Sprintf("endpoint %s: %v", e.endpoint, e.err)
}

func (e *endpointError) Unwrap() error { return e.err }
