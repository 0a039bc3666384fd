package logger

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// capture runs f with os.Stdout redirected and returns everything written.
func capture(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	f()

	_ = w.Close()
	b, _ := io.ReadAll(r)
	_ = r.Close()
	return string(b)
}

func TestErrorEventCarriesServiceAndStack(t *testing.T) {
	out := capture(t, func() {
		log := New("orchestrator")
		log.Error().Stack().Err(errors.New("boom")).Msg("turn failed")
	})

	var line string
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
		}
	}
	require.NotEmpty(t, line)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &payload), "log line is not JSON: %s", line)
	require.Equal(t, "orchestrator", payload["service"])
	require.Equal(t, "error", payload["level"])
	require.Contains(t, payload, "stack")
}
