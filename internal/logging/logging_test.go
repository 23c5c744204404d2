package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiles-app/akiles/internal/config"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	log.Info().Msg("hidden")
	log.Warn().Str("op", "1-2").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "1-2", line["op"])
	assert.Equal(t, "shown", line["message"])
}

func TestLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(config.LogConfig{Level: "loud"}, &buf)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}
