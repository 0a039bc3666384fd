// Package policy decides what is worth persisting, classifies records,
// redacts sensitive text, and computes dedup keys.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/kyujaq/hearth/internal/model"
)

// Role tags which side of a turn a text belongs to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Engine applies the persistence policy. Zero thresholds fall back to
// defaults.
type Engine struct {
	// EphemeralMaxChars is the assistant-reply length under which a record
	// is tagged ephemeral.
	EphemeralMaxChars int
	// MinAssistantChars is the length under which an assistant reply is not
	// saved at all.
	MinAssistantChars int
}

// NewEngine returns an Engine with the given thresholds.
func NewEngine(ephemeralMaxChars, minAssistantChars int) *Engine {
	if ephemeralMaxChars <= 0 {
		ephemeralMaxChars = 160
	}
	if minAssistantChars <= 0 {
		minAssistantChars = 20
	}
	return &Engine{EphemeralMaxChars: ephemeralMaxChars, MinAssistantChars: minAssistantChars}
}

var (
	directiveRe = regexp.MustCompile(`(?i)\b(remember|save|note)\s+(this|that|it)\b`)

	// Low-information assistant replies: bare acknowledgments and filler.
	lowInfoRe = regexp.MustCompile(`(?i)^(ok(ay)?|sure|thanks?( you)?|got it|done|no problem|you're welcome|yes|no|alright|sounds good)[.!]?$`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// HasSaveDirective reports whether text contains an explicit "remember/save
// this" instruction, which forces persistence.
func HasSaveDirective(text string) bool {
	return directiveRe.MatchString(text)
}

// WorthSaving decides whether one side of a completed turn should be
// persisted. autosave is the runtime-tunable global switch.
func (e *Engine) WorthSaving(role Role, text string, autosave bool) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if HasSaveDirective(trimmed) {
		return true
	}
	switch role {
	case RoleUser:
		return autosave
	case RoleAssistant:
		if len(trimmed) < e.MinAssistantChars {
			return false
		}
		return !lowInfoRe.MatchString(trimmed)
	}
	return false
}

// Classify assigns a kind and retention tier. User input is always durable
// conversational history; short assistant replies are ephemeral candidates
// for pruning; an explicit save directive promotes either side to a
// long-lived note.
func (e *Engine) Classify(role Role, text string) (model.Kind, model.Tier) {
	if HasSaveDirective(text) {
		return model.KindNote, model.TierLong
	}
	if role == RoleAssistant && len(strings.TrimSpace(text)) < e.EphemeralMaxChars {
		return model.KindChatEphemeral, model.TierShort
	}
	return model.KindChatTurn, model.TierMedium
}

// Normalize lowercases, trims, and collapses whitespace. The result is the
// canonical form fed to DedupHash.
func Normalize(text string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(strings.ToLower(text)), " ")
}

// DedupHash computes the fixed-length digest of normalized text used as the
// store's uniqueness key.
func DedupHash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
