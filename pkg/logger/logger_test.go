package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/logger"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	log := logger.New(logger.Config{Level: "info", Format: "json", Service: "test"})
	require.NotNil(t, log)
	assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
}

func TestNew_DebugLevel(t *testing.T) {
	t.Parallel()

	log := logger.New(logger.Config{Level: "debug", Format: "text"})
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))
}

func TestNew_UnknownLevelFallsBack(t *testing.T) {
	t.Parallel()

	log := logger.New(logger.Config{Level: "verbose"})
	assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
}
