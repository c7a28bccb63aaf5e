package infra

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelFollowsEnvironment(t *testing.T) {
	var buf bytes.Buffer
	prod := newLogger(&buf, "production", "")
	prod.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	worker := Component(prod, "worker")
	worker.Info().Msg("claimed")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "visualbatch", line["service"])
	assert.Equal(t, "worker", line["component"])
	assert.Equal(t, "claimed", line["message"])
}

func TestLoggerLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	dev := newLogger(&buf, "development", "warn")
	dev.Info().Msg("quiet")
	assert.Empty(t, buf.String())

	buf.Reset()
	kept := newLogger(&buf, "production", "not-a-level")
	kept.Info().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}
