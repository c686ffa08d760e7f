// Package router classifies task intent: which domain a task belongs to,
// how complex it is, and whether it warrants sub-agent decomposition. The
// primary path is one LLM call returning a JSON object; a deterministic
// keyword heuristic covers low-confidence results and LLM failures.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/agentmesh/agentmesh/pkg/gateway"
	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// IntentClassification is the router's verdict for one prompt.
type IntentClassification struct {
	Domain            protocol.Domain     `json:"domain" jsonschema:"enum=coding,enum=research,enum=data,enum=general"`
	Confidence        float64             `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Complexity        protocol.Complexity `json:"complexity" jsonschema:"enum=simple,enum=moderate,enum=complex,enum=critical"`
	RequiresSubAgents bool                `json:"requires_sub_agents"`
	Reasoning         string              `json:"reasoning"`
}

// LLM is the generate contract the router needs from the gateway.
type LLM interface {
	Generate(ctx context.Context, messages []protocol.Message, opts gateway.Options) (*gateway.Response, error)
}

// Router classifies prompts into domains.
type Router struct {
	llm       LLM
	threshold float64
	logger    *slog.Logger

	mu           sync.Mutex
	distribution map[protocol.Domain]int64
}

// Option configures a Router.
type Option func(*Router)

// WithThreshold sets the minimum LLM confidence accepted before the
// heuristic takes over.
func WithThreshold(t float64) Option {
	return func(r *Router) {
		if t > 0 && t <= 1 {
			r.threshold = t
		}
	}
}

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a router over the given LLM.
func New(llm LLM, opts ...Option) *Router {
	r := &Router{
		llm:          llm,
		threshold:    0.6,
		logger:       slog.Default().With("component", "router"),
		distribution: make(map[protocol.Domain]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// classificationSchema is rendered once; reflection output is stable.
var classificationSchema = func() string {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&IntentClassification{})
	data, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return string(data)
}()

const classifyInstruction = `Classify the user task below. Respond with a single JSON object and nothing else, matching this schema:

%s

Domains: coding (writing, fixing, or refactoring code), research (finding and synthesizing information), data (cleaning, transforming, or analyzing datasets), general (anything else).
Set requires_sub_agents to true only when the task clearly decomposes into independent subtasks.

Task: %s`

// Classify returns the intent classification for a prompt. The LLM result
// is used when its confidence clears the threshold; otherwise, and on any
// LLM failure, the keyword heuristic decides.
func (r *Router) Classify(ctx context.Context, prompt string) (*IntentClassification, error) {
	result, err := r.classifyLLM(ctx, prompt)
	if err != nil {
		r.logger.Warn("LLM classification failed, using heuristic", "error", err)
		result = classifyHeuristic(prompt)
	} else if result.Confidence < r.threshold {
		r.logger.Debug("LLM confidence below threshold, using heuristic",
			"confidence", result.Confidence,
			"threshold", r.threshold)
		result = classifyHeuristic(prompt)
	}

	r.mu.Lock()
	r.distribution[result.Domain]++
	r.mu.Unlock()

	return result, nil
}

func (r *Router) classifyLLM(ctx context.Context, prompt string) (*IntentClassification, error) {
	messages := []protocol.Message{{
		Role:    protocol.RoleUser,
		Content: fmt.Sprintf(classifyInstruction, classificationSchema, prompt),
	}}

	resp, err := r.llm.Generate(ctx, messages, gateway.Options{MaxTokens: 512})
	if err != nil {
		return nil, err
	}

	var result IntentClassification
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &result); err != nil {
		return nil, fmt.Errorf("unparseable classification: %w", err)
	}
	if !validDomain(result.Domain) {
		return nil, fmt.Errorf("unknown domain %q", result.Domain)
	}
	if !validComplexity(result.Complexity) {
		result.Complexity = protocol.ComplexityModerate
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}

// Distribution returns a copy of the per-domain classification counts.
func (r *Router) Distribution() map[protocol.Domain]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[protocol.Domain]int64, len(r.distribution))
	for k, v := range r.distribution {
		out[k] = v
	}
	return out
}

// extractJSON strips markdown code fences and surrounding prose, returning
// the first top-level JSON object in the text.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}

func validDomain(d protocol.Domain) bool {
	for _, known := range protocol.Domains() {
		if d == known {
			return true
		}
	}
	return false
}

func validComplexity(c protocol.Complexity) bool {
	switch c {
	case protocol.ComplexitySimple, protocol.ComplexityModerate,
		protocol.ComplexityComplex, protocol.ComplexityCritical:
		return true
	}
	return false
}
