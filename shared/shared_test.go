package shared

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufHook struct {
	b      strings.Builder
	closed bool
}

func (h *bufHook) WriteString(s string) (int, error) { return h.b.WriteString(s) }
func (h *bufHook) Close() error                      { h.closed = true; return nil }

func TestPrinter_IndentsEveryLine(t *testing.T) {
	hook := &bufHook{}
	p, err := NewPrinter("│  ", hook)
	require.NoError(t, err)

	require.NoError(t, p.Writeln("addr: :8080\nllm:\n  provider: anthropic", 1))
	require.NoError(t, p.Write("done", 0))
	require.NoError(t, p.Close())

	assert.Equal(t, "│  addr: :8080\n│  llm:\n│    provider: anthropic\ndone", hook.b.String())
	assert.True(t, hook.closed)
}

func TestNewPrinter_RejectsMissingHooks(t *testing.T) {
	_, err := NewPrinter("  ")
	assert.Error(t, err)

	_, err = NewPrinter("  ", nil)
	assert.Error(t, err)
}

func TestGetenv(t *testing.T) {
	t.Setenv("VOICE_RELAY_TEST_INT", "42")
	t.Setenv("VOICE_RELAY_TEST_BAD", "forty-two")
	t.Setenv("VOICE_RELAY_TEST_DUR", "90s")
	t.Setenv("VOICE_RELAY_TEST_BLANK", "   ")

	tests := []struct {
		name     string
		run      func() (any, error)
		expected any
		wantErr  bool
	}{
		{
			name:     "int set",
			run:      func() (any, error) { return Getenv(GetenvInt, "VOICE_RELAY_TEST_INT", false, 7) },
			expected: 42,
		},
		{
			name:    "int malformed",
			run:     func() (any, error) { return Getenv(GetenvInt, "VOICE_RELAY_TEST_BAD", false, 7) },
			wantErr: true,
		},
		{
			name:     "duration set",
			run:      func() (any, error) { return Getenv(GetenvDuration, "VOICE_RELAY_TEST_DUR", false, time.Second) },
			expected: 90 * time.Second,
		},
		{
			name:     "blank falls back to default",
			run:      func() (any, error) { return Getenv(GetenvString, "VOICE_RELAY_TEST_BLANK", false, "fallback") },
			expected: "fallback",
		},
		{
			name:    "required but unset",
			run:     func() (any, error) { return Getenv(GetenvString, "VOICE_RELAY_TEST_UNSET", true, "") },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.run()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestNopLogger_ToleratesNilError(t *testing.T) {
	l := NewNopLogger().With()
	l.Error("nothing happened", nil)
	l.Error("something happened", errors.New("boom"))
	l.Warn("warn")
	assert.NoError(t, Sync(l))
}
