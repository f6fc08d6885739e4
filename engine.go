package authcore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/depotline/authcore/password"
	"github.com/depotline/authcore/token"
)

// Engine is the authentication core: login orchestration, token lifecycle,
// and MFA. Construct it through [Builder.Build]; afterwards all methods are
// safe for concurrent use. No mutable state lives in the Engine itself —
// everything durable is behind the [CredentialStore].
type Engine struct {
	config         Config
	store          CredentialStore
	settingsSource SettingsSource
	hasher         *password.Argon2
	tokens         *token.Manager
	totp           *totpManager
	audit          *auditDispatcher
	metrics        *Metrics
	notifier       Notifier
	sender         MessageSender
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counter values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// VerifyAccess checks signature and expiry of an access token and returns
// its claims. Middleware built on top of the engine uses this; no store
// round-trip is involved.
func (e *Engine) VerifyAccess(tokenStr string) (*token.AccessClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	return e.tokens.VerifyAccess(tokenStr)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) loadSettings(ctx context.Context) (Settings, error) {
	settings, err := e.settingsSource.Load(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: settings load: %v", ErrStoreUnavailable, err)
	}
	return settings.normalized(), nil
}

func (e *Engine) emitAudit(
	ctx context.Context,
	kind string,
	success bool,
	accountID string,
	identifier string,
	cause error,
	meta func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Kind:       kind,
		AccountID:  accountID,
		Identifier: identifier,
		Success:    success,
		SourceAddr: sourceAddrFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if meta != nil {
		event.Metadata = meta()
	}

	e.audit.Emit(ctx, event)
}

// forceLogout notifies the realtime collaborator that any existing session
// for this identity must end. Best-effort: runs on its own goroutine,
// recovers panics, and never delays or fails the calling operation.
func (e *Engine) forceLogout(ctx context.Context, account AccountRecord, reason string) {
	if e == nil || e.notifier == nil {
		return
	}
	key := identityKey(account)
	e.metricInc(MetricForceLogout)
	e.emitAudit(ctx, auditEventForceLogout, true, account.AccountID, account.Identifier, nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("authcore: force-logout notifier panicked: %v", r)
			}
		}()
		e.notifier.ForceLogout(key, reason)
	}()
}

// sendMessage delivers a user-facing message asynchronously. Failures are
// logged and never propagated into the calling operation.
func (e *Engine) sendMessage(destination string, template MessageTemplate, data map[string]string) {
	if e == nil || e.sender == nil || destination == "" {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("authcore: message sender panicked: %v", r)
			}
		}()
		if err := e.sender.Send(destination, template, data); err != nil {
			log.Printf("authcore: message send failed: %v", err)
		}
	}()
}

// identityKey is the stable key handed to the realtime notifier. Driver
// identities are keyed by canonical plate, standard users by username.
func identityKey(account AccountRecord) string {
	switch account.Kind {
	case KindDriver:
		return "driver:" + account.Identifier
	default:
		return "user:" + account.Identifier
	}
}

// gateCheck applies the administrative and abuse gates, in the order the
// login state machine requires: ban first, then deactivation, then
// lockout.
func gateCheck(account AccountRecord, now time.Time) error {
	if account.Banned {
		return &BannedError{Reason: account.BanReason}
	}
	if !account.Active {
		return ErrAccountDeactivated
	}
	if account.LockedUntil.After(now) {
		return &LockedError{Until: account.LockedUntil}
	}
	return nil
}
