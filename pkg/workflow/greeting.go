package workflow

import (
	"strings"
)

// greetingMaxLen bounds the inputs eligible for the greeting fast path.
const greetingMaxLen = 20

// greetingTokens is the language-neutral set of trivial inputs that skip
// the whole machine: greetings, casual thanks, acknowledgements. Matched
// as whole tokens on the normalized input.
var greetingTokens = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {}, "hiya": {},
	"thanks": {}, "thank you": {}, "thx": {}, "ty": {},
	"ok": {}, "okay": {}, "bye": {}, "goodbye": {},
	"good morning": {}, "good evening": {},
	"안녕": {}, "안녕하세요": {}, "반가워": {}, "고마워": {}, "감사합니다": {},
}

// greetingReply is the canned assistant reply for the fast path.
const greetingReply = "Hello! I'm ready to help. Describe a task and I'll plan and execute it."

// IsGreeting reports whether the input qualifies for the short-circuit.
// The facade also consults it to skip intent classification for inputs
// the plan node would answer immediately anyway.
func IsGreeting(input string) bool {
	return isGreeting(input)
}

func isGreeting(input string) bool {
	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.TrimRight(normalized, "!.?~ ")
	if normalized == "" || len([]rune(normalized)) > greetingMaxLen {
		return false
	}
	if _, ok := greetingTokens[normalized]; ok {
		return true
	}
	// Single-token inputs like "hello," still count.
	fields := strings.Fields(normalized)
	if len(fields) == 1 {
		_, ok := greetingTokens[strings.Trim(fields[0], ",")]
		return ok
	}
	return false
}
