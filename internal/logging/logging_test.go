package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonTTYOutputsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", &buf)
	logger.Info().Str("foo", "bar").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "bar", entry["foo"])
	assert.Equal(t, "hello", entry["message"])
}

func TestLevelFiltersLowerSeverity(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", &buf)
	logger.Info().Msg("suppressed")
	logger.Warn().Msg("kept")

	assert.NotContains(t, buf.String(), "suppressed")
	assert.Contains(t, buf.String(), "kept")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New("bogus", &buf)
	logger.Info().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	base := New("info", &buf)
	child := Component(base, "store")
	child.Info().Msg("x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "store", entry["component"])
}
