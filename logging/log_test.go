package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/orepool/operator/logging"
)

func TestLoggerFromContext(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := logging.NewContext(context.Background(), logger)
	require.Same(t, logger, logging.FromContext(ctx))

	// falls back to a default logger
	require.NotNil(t, logging.FromContext(context.Background()))
}

func TestLoggerWritesRotatedFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "operator.log")
	logger := logging.New(zap.InfoLevel, logging.Rotation{Filename: filename, MaxSizeMB: 1, MaxBackups: 2}, true)
	logger.Error("settlement failed", logging.Alert())
	_ = logger.Sync()

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	require.Contains(t, string(data), "settlement failed")
	require.Contains(t, string(data), `"alert":true`)
}
