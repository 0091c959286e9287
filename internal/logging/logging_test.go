package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesConsoleAndFile(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "run.log")
	runID, closer := Setup(Options{File: path, Level: "debug", Console: &console})
	require.Len(t, runID, 12)

	log.Info().Str("profile", "ann@example.com").Msg("profile started")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "profile started")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run":"`+runID+`"`)
	assert.Contains(t, string(data), `"profile":"ann@example.com"`)
}

func TestSetupDefaultsUnknownLevel(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var console bytes.Buffer
	_, closer := Setup(Options{Level: "loud", Console: &console})
	defer closer.Close()
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	log.Debug().Msg("hidden")
	assert.NotContains(t, console.String(), "hidden")
}

func TestNewRunIDUnique(t *testing.T) {
	assert.NotEqual(t, NewRunID(), NewRunID())
}
