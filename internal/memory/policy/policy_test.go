package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyujaq/hearth/internal/model"
)

func TestWorthSaving(t *testing.T) {
	e := NewEngine(160, 20)

	tests := []struct {
		name     string
		role     Role
		text     string
		autosave bool
		want     bool
	}{
		{"user with autosave", RoleUser, "the wifi password is on the fridge", true, true},
		{"user autosave disabled", RoleUser, "the wifi password is on the fridge", false, false},
		{"user directive overrides disabled autosave", RoleUser, "remember this: bin day is Tuesday", false, true},
		{"assistant too short", RoleAssistant, "42.", true, false},
		{"assistant acknowledgment", RoleAssistant, "Sure, sounds good", true, false},
		{"assistant substantive", RoleAssistant, "The thermostat schedule was moved to 06:30 on weekdays as you asked.", true, true},
		{"assistant short but directive", RoleAssistant, "save this: gate code 4821", true, true},
		{"empty text", RoleUser, "   ", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.WorthSaving(tt.role, tt.text, tt.autosave))
		})
	}
}

func TestClassify(t *testing.T) {
	e := NewEngine(160, 20)

	kind, tier := e.Classify(RoleUser, "what time is the meeting?")
	assert.Equal(t, model.KindChatTurn, kind)
	assert.Equal(t, model.TierMedium, tier)

	kind, tier = e.Classify(RoleAssistant, "It is at 3pm.")
	assert.Equal(t, model.KindChatEphemeral, kind)
	assert.Equal(t, model.TierShort, tier)

	long := strings.Repeat("The plan has several steps. ", 10)
	kind, tier = e.Classify(RoleAssistant, long)
	assert.Equal(t, model.KindChatTurn, kind)
	assert.Equal(t, model.TierMedium, tier)

	kind, tier = e.Classify(RoleAssistant, "Remember this: the spare key is under the mat")
	assert.Equal(t, model.KindNote, kind)
	assert.Equal(t, model.TierLong, tier)
}

func TestDedupHashNormalization(t *testing.T) {
	a := DedupHash("  Hello   World  ")
	b := DedupHash("hello world")
	require.Equal(t, a, b)
	require.Len(t, a, 64)

	c := DedupHash("hello worlds")
	require.NotEqual(t, a, c)
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mail me at jo.doe+x@example.co.uk please", "mail me at [redacted-email] please"},
		{"card 4111 1111 1111 1111 exp 12/27", "card [redacted-card] exp 12/27"},
		{"ssn is 123-45-6789", "ssn is [redacted-ssn]"},
		{"call 555-867-5309 tonight", "call [redacted-phone] tonight"},
		{"call (555) 867-5309 tonight", "call [redacted-phone] tonight"},
		{"nothing sensitive here", "nothing sensitive here"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Redact(tt.in), "input: %s", tt.in)
	}
}
