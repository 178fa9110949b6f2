package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/agroassist/internal/config"
)

func TestSetupJSONLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := setup(config.LoggingConfig{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "test").Msg("visible")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	require.Equal(t, "visible", entry["message"])
	require.Equal(t, "agroassist", entry["service"])
	require.Equal(t, "test", entry["component"])
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	_, err := setup(config.LoggingConfig{Level: "chatty"}, &bytes.Buffer{})
	require.Error(t, err)
}
