package router

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	gateway "github.com/lkgate/lkgate/internal"
)

const respKeyPrefix = "lkg:resp:"

// Canonical fingerprint payload. Struct fields marshal in declaration order,
// so keeping them alphabetical gives sorted keys without a custom encoder.
type fingerprintPayload struct {
	MaxTokens   *int                 `json:"max_tokens"`
	Messages    []fingerprintMessage `json:"messages"`
	Model       string               `json:"model"`
	OrgID       string               `json:"org_id"`
	Temperature float64              `json:"temperature"`
	UserID      string               `json:"user_id"`
}

type fingerprintMessage struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// Fingerprint derives the response cache key for a request. Only the fields
// that change the completion participate; metadata and request IDs do not.
func Fingerprint(req *gateway.CompletionRequest, userID, orgID string) string {
	msgs := make([]fingerprintMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = fingerprintMessage{Content: m.Content, Role: m.Role}
	}
	payload, _ := json.Marshal(fingerprintPayload{
		MaxTokens:   req.MaxTokens,
		Messages:    msgs,
		Model:       req.Model,
		OrgID:       orgID,
		Temperature: req.Temperature,
		UserID:      userID,
	})
	sum := sha256.Sum256(payload)
	return respKeyPrefix + hex.EncodeToString(sum[:])
}
