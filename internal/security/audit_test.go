package security

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditWriter(&buf)
	al.now = func() time.Time { return time.Date(2024, 6, 3, 4, 30, 0, 0, time.UTC) }

	ctx := WithAuditMeta(context.Background(), AuditMeta{RequestID: "req-1", IPAddress: "10.0.0.1"})
	require.NoError(t, al.Record(ctx, AuditEvent{
		EventType: AuditOrderPlaced,
		UserID:    "user-1",
		Symbol:    "INFY",
		Details:   map[string]interface{}{"quantity": 10, "access_token": "abcdefghijkl"},
	}, nil))
	require.NoError(t, al.Record(ctx, AuditEvent{EventType: AuditLogin, UserID: "user-1"},
		errors.New("broker said password=topsecret123")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first AuditEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, AuditOrderPlaced, first.EventType)
	assert.True(t, first.Success)
	assert.Equal(t, "req-1", first.RequestID)
	assert.Equal(t, "10.0.0.1", first.IPAddress)
	assert.Equal(t, "abcd****ijkl", first.Details["access_token"])
	assert.True(t, first.Timestamp.Equal(time.Date(2024, 6, 3, 4, 30, 0, 0, time.UTC)))

	var second AuditEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.False(t, second.Success)
	assert.NotContains(t, second.ErrorMsg, "topsecret123")
}

func TestNilAuditLoggerDiscards(t *testing.T) {
	var al *AuditLogger
	assert.NoError(t, al.Record(context.Background(), AuditEvent{EventType: AuditLogin}, nil))
	assert.NoError(t, al.Close())
}

func TestNewAuditLoggerCreatesDirectory(t *testing.T) {
	cfg := DefaultAuditConfig()
	cfg.LogDir = t.TempDir() + "/audit"

	al, err := NewAuditLogger(cfg)
	require.NoError(t, err)
	require.NoError(t, al.Log(context.Background(), AuditEvent{EventType: AuditRegister}))
	assert.NoError(t, al.Close())
}
