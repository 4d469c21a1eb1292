package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	// Account events
	AuditRegister    AuditEventType = "REGISTER"
	AuditLogin       AuditEventType = "LOGIN"
	AuditBrokerLink  AuditEventType = "BROKER_LINK"
	AuditTokenAccess AuditEventType = "TOKEN_ACCESS"

	// Trading events
	AuditOrderPlaced    AuditEventType = "ORDER_PLACED"
	AuditOrderModified  AuditEventType = "ORDER_MODIFIED"
	AuditOrderCancelled AuditEventType = "ORDER_CANCELLED"

	// Portfolio events
	AuditPortfolioSync  AuditEventType = "PORTFOLIO_SYNC"
	AuditHoldingChanged AuditEventType = "HOLDING_CHANGED"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	UserID    string                 `json:"user_id,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	OrderID   string                 `json:"order_id,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

type auditMetaKey struct{}

// AuditMeta carries request metadata that is stamped on every event logged
// with the context.
type AuditMeta struct {
	RequestID string
	IPAddress string
}

// WithAuditMeta attaches request metadata to ctx.
func WithAuditMeta(ctx context.Context, meta AuditMeta) context.Context {
	return context.WithValue(ctx, auditMetaKey{}, meta)
}

// AuditLogger writes one JSON line per event. It is safe for concurrent use.
// A nil *AuditLogger discards events.
type AuditLogger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// AuditConfig holds audit logger configuration.
type AuditConfig struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultAuditConfig returns the default audit configuration.
func DefaultAuditConfig() AuditConfig {
	home, _ := os.UserHomeDir()
	return AuditConfig{
		LogDir:     filepath.Join(home, ".config", "brokerdash", "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365, // Keep audit logs for 1 year
		Compress:   true,
	}
}

// NewAuditLogger creates an audit logger writing to a rotating file in cfg.LogDir.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	// Ensure audit directory exists with restricted permissions
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return NewAuditWriter(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}), nil
}

// NewAuditWriter creates an audit logger writing to w.
func NewAuditWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{w: w, now: time.Now}
}

// Log writes an audit event. Free-text fields are masked before writing.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if al == nil {
		return nil
	}

	event.Timestamp = al.now().UTC()
	if meta, ok := ctx.Value(auditMetaKey{}).(AuditMeta); ok {
		if event.RequestID == "" {
			event.RequestID = meta.RequestID
		}
		if event.IPAddress == "" {
			event.IPAddress = meta.IPAddress
		}
	}
	event.ErrorMsg = MaskSecrets(event.ErrorMsg)
	if event.Details != nil {
		event.Details = MaskFields(event.Details)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	if _, err := al.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// Record logs an event whose outcome is err (nil means success).
func (al *AuditLogger) Record(ctx context.Context, event AuditEvent, err error) error {
	event.Success = err == nil
	if err != nil {
		event.ErrorMsg = err.Error()
	}
	return al.Log(ctx, event)
}

// Close closes the underlying writer when it is closable.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	if c, ok := al.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
