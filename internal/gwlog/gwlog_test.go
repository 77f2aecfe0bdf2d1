package gwlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf})
	require.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewParsesExplicitLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "debug", Writer: &buf})
	require.Equal(t, zerolog.DebugLevel, log.GetLevel())
}

func TestNewFallsBackOnInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "not-a-level", Writer: &buf})
	require.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf})
	log.Info().Str("foo", "bar").Msg("hello")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "hello", decoded["message"])
	require.Equal(t, "bar", decoded["foo"])
	require.Contains(t, decoded, "time")
}

func TestNewDefaultsToStderrWhenNoWriter(t *testing.T) {
	log := New(Options{})
	require.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestComponentTagsSubsystem(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Writer: &buf})
	child := Component(base, "rd")
	child.Info().Msg("started")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "rd", decoded["component"])
}
