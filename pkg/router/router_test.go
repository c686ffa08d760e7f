package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/gateway"
	"github.com/agentmesh/agentmesh/pkg/protocol"
)

type fakeLLM struct {
	text  string
	err   error
	calls int
}

func (f *fakeLLM) Generate(ctx context.Context, messages []protocol.Message, opts gateway.Options) (*gateway.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Response{Text: f.text}, nil
}

func TestClassifyAcceptsConfidentLLMResult(t *testing.T) {
	llm := &fakeLLM{text: `{"domain":"coding","confidence":0.92,"complexity":"moderate","requires_sub_agents":false,"reasoning":"mentions a bug fix"}`}
	r := New(llm)

	result, err := r.Classify(context.Background(), "fix the bug in parser.go")
	require.NoError(t, err)
	assert.Equal(t, protocol.DomainCoding, result.Domain)
	assert.Equal(t, 0.92, result.Confidence)
	assert.Equal(t, protocol.ComplexityModerate, result.Complexity)
	assert.Equal(t, 1, llm.calls)
}

func TestClassifyStripsCodeFences(t *testing.T) {
	llm := &fakeLLM{text: "```json\n{\"domain\":\"research\",\"confidence\":0.8,\"complexity\":\"simple\"}\n```"}
	r := New(llm)

	result, err := r.Classify(context.Background(), "what is raft consensus")
	require.NoError(t, err)
	assert.Equal(t, protocol.DomainResearch, result.Domain)
}

func TestClassifyLowConfidenceFallsBackToHeuristic(t *testing.T) {
	llm := &fakeLLM{text: `{"domain":"research","confidence":0.2,"complexity":"simple"}`}
	r := New(llm, WithThreshold(0.6))

	result, err := r.Classify(context.Background(), "refactor the code and fix the bug")
	require.NoError(t, err)
	assert.Equal(t, protocol.DomainCoding, result.Domain)
	assert.Equal(t, heuristicConfidence, result.Confidence)
	assert.Equal(t, "keyword heuristic", result.Reasoning)
}

func TestClassifyLLMFailureUsesHeuristic(t *testing.T) {
	llm := &fakeLLM{err: errors.New("all endpoints down")}
	r := New(llm)

	result, err := r.Classify(context.Background(), "clean the csv dataset and compute statistics")
	require.NoError(t, err)
	assert.Equal(t, protocol.DomainData, result.Domain)
	assert.Equal(t, heuristicConfidence, result.Confidence)
}

func TestClassifyMalformedJSONUsesHeuristic(t *testing.T) {
	llm := &fakeLLM{text: "sorry, I can't help with that"}
	r := New(llm)

	result, err := r.Classify(context.Background(), "implement a parser function")
	require.NoError(t, err)
	assert.Equal(t, protocol.DomainCoding, result.Domain)
}

func TestClassifyUnknownDomainRejected(t *testing.T) {
	llm := &fakeLLM{text: `{"domain":"cooking","confidence":0.99,"complexity":"simple"}`}
	r := New(llm)

	result, err := r.Classify(context.Background(), "boil an egg")
	require.NoError(t, err)
	assert.Equal(t, protocol.DomainGeneral, result.Domain)
	assert.Equal(t, heuristicConfidence, result.Confidence)
}

func TestHeuristicKoreanKeywords(t *testing.T) {
	tests := []struct {
		prompt string
		want   protocol.Domain
	}{
		{"코드에서 버그를 고쳐줘", protocol.DomainCoding},
		{"이 주제에 대해 조사하고 요약해줘", protocol.DomainResearch},
		{"데이터를 정제하고 통계를 내줘", protocol.DomainData},
		{"안녕하세요", protocol.DomainGeneral},
	}
	for _, tt := range tests {
		got := classifyHeuristic(tt.prompt)
		assert.Equal(t, tt.want, got.Domain, "prompt %q", tt.prompt)
	}
}

func TestHeuristicComplexity(t *testing.T) {
	got := classifyHeuristic("migrate the entire project to the new api")
	assert.Equal(t, protocol.ComplexityComplex, got.Complexity)
	assert.True(t, got.RequiresSubAgents)

	got = classifyHeuristic("fix a typo")
	assert.Equal(t, protocol.ComplexitySimple, got.Complexity)
	assert.False(t, got.RequiresSubAgents)
}

func TestDistributionCounter(t *testing.T) {
	llm := &fakeLLM{text: `{"domain":"coding","confidence":0.9,"complexity":"simple"}`}
	r := New(llm)

	for i := 0; i < 3; i++ {
		_, err := r.Classify(context.Background(), "write code")
		require.NoError(t, err)
	}

	dist := r.Distribution()
	assert.Equal(t, int64(3), dist[protocol.DomainCoding])
	assert.Zero(t, dist[protocol.DomainData])
}

func TestSchemaRendered(t *testing.T) {
	assert.Contains(t, classificationSchema, "requires_sub_agents")
	assert.Contains(t, classificationSchema, "confidence")
}
