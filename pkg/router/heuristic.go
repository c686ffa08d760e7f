package router

import (
	"strings"

	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// heuristicConfidence marks classifications produced without the LLM.
const heuristicConfidence = 0.5

// domainKeywords holds the per-domain vocabularies, English and Korean.
// Matching is substring-based on the lowercased prompt; Korean has no case.
var domainKeywords = map[protocol.Domain][]string{
	protocol.DomainCoding: {
		"code", "function", "bug", "compile", "refactor", "implement",
		"test", "debug", "class", "api", "library", "script", "error",
		"코드", "함수", "버그", "구현", "리팩토링", "테스트", "디버그", "오류", "개발",
	},
	protocol.DomainResearch: {
		"research", "find", "search", "investigate", "compare", "summarize",
		"explain", "what is", "how does", "documentation", "paper",
		"조사", "검색", "찾아", "비교", "요약", "설명", "문서", "알려",
	},
	protocol.DomainData: {
		"data", "csv", "dataset", "analyze", "statistics", "chart",
		"clean", "transform", "aggregate", "column", "spreadsheet",
		"데이터", "분석", "통계", "차트", "정제", "변환", "집계",
	},
}

// complexKeywords suggest a task that decomposes into subtasks.
var complexKeywords = []string{
	"all files", "entire", "whole project", "every", "multiple",
	"end to end", "migrate", "redesign",
	"전체", "모든", "마이그레이션", "재설계",
}

// classifyHeuristic is the deterministic fallback: count keyword hits per
// domain and pick the densest one, defaulting to general.
func classifyHeuristic(prompt string) *IntentClassification {
	lowered := strings.ToLower(prompt)

	best := protocol.DomainGeneral
	bestScore := 0
	for _, domain := range protocol.Domains() {
		score := 0
		for _, kw := range domainKeywords[domain] {
			if strings.Contains(lowered, kw) {
				score++
			}
		}
		if score > bestScore {
			best = domain
			bestScore = score
		}
	}

	complexity := estimateComplexity(lowered)
	return &IntentClassification{
		Domain:            best,
		Confidence:        heuristicConfidence,
		Complexity:        complexity,
		RequiresSubAgents: complexity == protocol.ComplexityComplex || complexity == protocol.ComplexityCritical,
		Reasoning:         "keyword heuristic",
	}
}

func estimateComplexity(lowered string) protocol.Complexity {
	for _, kw := range complexKeywords {
		if strings.Contains(lowered, kw) {
			return protocol.ComplexityComplex
		}
	}
	if len(lowered) > 200 || strings.Count(lowered, ".") > 2 {
		return protocol.ComplexityModerate
	}
	return protocol.ComplexitySimple
}
