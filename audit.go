package authcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event kinds emitted by the engine.
const (
	auditEventLoginSuccess     = "login.success"
	auditEventLoginFailure     = "login.failure"
	auditEventLoginLocked      = "login.locked"
	auditEventMFARequired      = "mfa.required"
	auditEventMFASuccess       = "mfa.success"
	auditEventMFAFailure       = "mfa.failure"
	auditEventMFALocked        = "mfa.locked"
	auditEventMFAEnrolled      = "mfa.enrolled"
	auditEventMFADisabled      = "mfa.disabled"
	auditEventBackupCodeUsed   = "mfa.backup_code_used"
	auditEventBackupCodesReset = "mfa.backup_codes_regenerated"
	auditEventTrustedDevice    = "mfa.trusted_device"
	auditEventRefreshSuccess   = "refresh.success"
	auditEventRefreshFailure   = "refresh.failure"
	auditEventRefreshReuse     = "refresh.reuse_detected"
	auditEventLogout           = "logout"
	auditEventForceLogout      = "session.force_logout"
	auditEventPasswordChanged  = "password.changed"
	auditEventPasswordRejected = "password.rejected"
	auditEventAdminReset       = "password.admin_reset"
)

// AuditEvent is the structured security record emitted for every
// authentication outcome.
type AuditEvent struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Kind       string            `json:"kind"`
	AccountID  string            `json:"account_id,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	Success    bool              `json:"success"`
	SourceAddr string            `json:"source_addr,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the engine's dispatcher. Emit must
// not panic into the caller; slow sinks only ever delay the dispatcher
// goroutine, never a login.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

// Emit implements [AuditSink].
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink buffers events on a channel for consumption elsewhere.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

// Emit implements [AuditSink].
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receive side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON-encoded event per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

// Emit implements [AuditSink].
func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
