package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/pollcache/internal/config"
)

func TestBuildJSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := build(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	log.Info().Msg("dropped")
	log.Warn().Str("source", "gme").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "gme", line["source"])
	assert.Equal(t, "kept", line["message"])
	assert.Contains(t, line, "time")
}

func TestBuildBadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := build(config.LogConfig{Level: "chatty"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestBuildConsole(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := build(config.LogConfig{Level: "debug", Format: "console"}, &buf)
	require.NoError(t, err)

	log.Debug().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestBuildFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pollcache.log")
	var buf bytes.Buffer
	log, closer, err := build(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1}, &buf)
	require.NoError(t, err)

	log.Info().Msg("to both")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "to both")
	assert.Contains(t, buf.String(), "to both")
}
