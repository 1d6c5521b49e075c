package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestComponentAndCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "text")

	ctx := WithCorrelationID(context.Background(), "corr-1")
	FromContext(ctx, Component(logger, "sync")).Info("hello")

	out := buf.String()
	require.Contains(t, out, "component=sync")
	require.Contains(t, out, "correlation_id=corr-1")
}

func TestComponent_NilDiscards(t *testing.T) {
	logger := Component(nil, "quota")
	require.NotNil(t, logger)
	logger.Error("dropped")
}

func TestFileWriter_TruncatesToTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tally.log")
	w, err := openFile(path, 64, 32)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte(strings.Repeat("a", 60)))
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Repeat("b", 20)))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 32)
	require.True(t, strings.HasSuffix(string(data), strings.Repeat("b", 20)))
}
