package logger

import (
	"os"
	"path/filepath"
	"testing"

	"device-analytics/internal/config"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesToLogFile(t *testing.T) {
	prev := zlog.Logger
	prevLevel := zerolog.GlobalLevel()
	defer func() {
		zlog.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	path := filepath.Join(t.TempDir(), "diag", "analytics.log")
	closer := Init(config.Config{
		ServiceName: "test",
		InstanceID:  "i-1",
		LogLevel:    "debug",
		LogFile:     path,
	})

	zlog.Info().Str("k", "v").Msg("hello")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"hello"`)
	assert.Contains(t, string(b), `"service":"test"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	prev := zlog.Logger
	prevLevel := zerolog.GlobalLevel()
	defer func() {
		zlog.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	closer := Init(config.Config{LogLevel: "loud"})
	defer closer.Close()

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
