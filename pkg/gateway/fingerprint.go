package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// cacheKeyPayload is the canonical shape hashed for the response cache.
// Field order is fixed by the struct; only the options that change the
// model output participate in the key.
type cacheKeyPayload struct {
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Model       string        `json:"model"`
}

// Fingerprint returns the SHA-256 cache key for a generate request.
func Fingerprint(messages []protocol.Message, opts Options) string {
	payload := cacheKeyPayload{
		Messages:    toWireMessages(messages),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Model:       opts.Model,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
