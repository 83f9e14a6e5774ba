package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONEnabled(t *testing.T) {
	l := New(false)
	if l.JSONEnabled() {
		t.Fatal("expected false")
	}
	l = New(true)
	if !l.JSONEnabled() {
		t.Fatal("expected true")
	}
}

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, true)
	l.Info("migrate.success", map[string]any{"migration_id": "a", "version": 1})

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, "migrate.success", payload["msg"])
	assert.Equal(t, "info", payload["level"])
	assert.Equal(t, "a", payload["migration_id"])
	assert.Contains(t, payload, "ts")
}

func TestDebugHiddenUntilVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, false)
	l.Debug("quiet", nil)
	assert.Empty(t, buf.String())

	l.SetVerbose(true)
	l.Debug("loud", nil)
	assert.True(t, strings.Contains(buf.String(), "loud"))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("nothing", map[string]any{"k": "v"})
}
