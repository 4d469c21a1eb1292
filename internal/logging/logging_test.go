package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestContextLogger(t *testing.T) {
	assert.Equal(t, zerolog.Disabled, FromContext(context.Background()).GetLevel())

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), WithUser(logger, "u1"))

	ctxLog := FromContext(ctx)
	ctxLog.Info().Msg("hello")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "u1", lines[0]["user_id"])
}

func TestLogSyncLevels(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogSync(logger, "u1", "holdings", 1500*time.Millisecond, nil)
	LogSync(logger, "u1", "prices", time.Second, errors.New("session expired"))
	LogAPICall(WithOperation(logger, "ltp"), "POST", "/quote", time.Millisecond, nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "holdings", lines[0]["kind"])
	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "session expired", lines[1]["error"])
	assert.Equal(t, "debug", lines[2]["level"])
	assert.Equal(t, "ltp", lines[2]["operation"])
	assert.Equal(t, "api_call", lines[2]["event"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud"))
}

func TestFileLoggerCreatesDirectory(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	path := filepath.Join(t.TempDir(), "logs", "brokerdash.log")
	logger := NewLoggerWithConfig(LogConfig{Level: "info", File: true, FilePath: path, MaxSize: 1})
	symLog := WithSymbol(logger, "INFY")
	symLog.Info().Msg("written")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"symbol":"INFY"`)
}
