package ai

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/sermonforge/server/internal/quota"
)

// Canonical conversation roles expected by the provider. Whatever labels a
// caller used ("assistant", "system", "bot", ...) are collapsed onto these
// two before fingerprinting and before the provider call, so label variance
// never splits the cache.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one turn of a conversation.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// GenerationOptions are the parameters that affect provider output and
// therefore participate in the fingerprint.
type GenerationOptions struct {
	Temperature     float64
	MaxOutputTokens int
	Language        string
}

// NormalizeRole maps an arbitrary role label onto RoleUser or RoleModel.
func NormalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "model", "assistant", "system", "ai", "bot":
		return RoleModel
	default:
		return RoleUser
	}
}

// Fingerprint derives the cache key for a logical request: a SHA-256 digest
// over the capability, the generation options, and every turn of the
// normalized conversation, in order. Identical fingerprints are treated as
// cache-equivalent, so every field that can change provider output must be
// hashed here.
//
// Fields are length-prefixed so no concatenation of different inputs can
// collide on delimiter placement.
func Fingerprint(capability quota.Capability, conversation []Message, opts GenerationOptions) string {
	h := sha256.New()

	writeField := func(s string) {
		fmt.Fprintf(h, "%d:", len(s))
		h.Write([]byte(s))
	}

	writeField(string(capability))
	writeField(strconv.FormatFloat(opts.Temperature, 'g', -1, 64))
	writeField(strconv.Itoa(opts.MaxOutputTokens))
	writeField(opts.Language)

	for _, msg := range conversation {
		writeField(msg.Role)
		writeField(msg.Text)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// BuildConversation assembles the ordered turn sequence the provider sees:
// the prior history with roles normalized, then the new prompt as the final
// user turn. Prompt whitespace is trimmed so formatting noise does not
// defeat deduplication.
func BuildConversation(history []Message, prompt string) []Message {
	conversation := make([]Message, 0, len(history)+1)
	for _, msg := range history {
		conversation = append(conversation, Message{
			Role: NormalizeRole(msg.Role),
			Text: msg.Text,
		})
	}
	conversation = append(conversation, Message{
		Role: RoleUser,
		Text: strings.TrimSpace(prompt),
	})
	return conversation
}
