package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/depotline/authcore/internal"
)

// VerifyMFA completes a login parked by the MFA gate. sessionToken is the
// opaque value returned in [LoginResult.MFASession]; code is the submitted
// second factor. method may be empty, in which case TOTP, then backup
// codes, then a delivered code are tried in order. trustDeviceID, when
// non-empty and verification succeeds, registers that device for future
// MFA bypass.
//
// The pending session is consumed only by a successful verification, so a
// mistyped code does not force the user back to the password step. A
// consumed, missing, or expired session fails with [ErrInvalidSession].
func (e *Engine) VerifyMFA(ctx context.Context, accountID, sessionToken, code string, method MFAMethod, trustDeviceID string) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	settings, err := e.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, storeErr(err)
	}
	if account.Deleted {
		return nil, ErrInvalidSession
	}

	// The account may have been banned, deactivated, or locked between the
	// password step and now; the gates win over a valid session.
	if gateErr := gateCheck(account, now); gateErr != nil {
		e.emitAudit(ctx, auditEventMFAFailure, false, account.AccountID, account.Identifier, gateErr, nil)
		return nil, gateErr
	}

	fingerprint := internal.EncodeFingerprint(internal.Fingerprint(sessionToken))
	if !pendingSessionValid(account, fingerprint, now) {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, account.AccountID, account.Identifier, ErrInvalidSession, nil)
		return nil, ErrInvalidSession
	}

	profile, err := e.store.GetMFAProfile(ctx, account.AccountID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !profile.Enabled {
		return nil, ErrMFANotEnrolled
	}

	methodUsed, verr := e.verifyMFACode(ctx, account, &profile, code, method, now)
	if verr != nil {
		return nil, verr
	}

	// Exactly-once consumption. Losing the race means another request
	// already completed this session; treat this one as replayed.
	consumed, cerr := e.store.ConsumePendingMFA(ctx, account.AccountID, fingerprint)
	if cerr != nil {
		return nil, storeErr(cerr)
	}
	if !consumed {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, account.AccountID, account.Identifier, ErrInvalidSession, nil)
		return nil, ErrInvalidSession
	}

	if trustDeviceID != "" {
		e.registerTrustedDevice(ctx, account.AccountID, trustDeviceID, now)
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, account.AccountID, account.Identifier, nil, func() map[string]string {
		return map[string]string{"method": string(methodUsed)}
	})

	mustChange := account.MustChangeCredential
	if mustChange && e.staleMustChange(account, now) {
		// Same clearing as the password step; the flag may have gone
		// stale while the session was parked.
		if cerr := e.store.ClearMustChange(ctx, account.AccountID); cerr != nil {
			return nil, storeErr(cerr)
		}
		mustChange = false
	}
	return e.finishLogin(ctx, settings, account, mustChange, auditEventLoginSuccess)
}

// pendingSessionValid compares the submitted fingerprint against the
// stored pending-MFA state without consuming it.
func pendingSessionValid(account AccountRecord, fingerprint string, now time.Time) bool {
	if account.PendingMFAFingerprint == "" || account.PendingMFAExpiresAt.Before(now) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(account.PendingMFAFingerprint), []byte(fingerprint)) == 1
}

// registerTrustedDevice records an MFA bypass grant. The profile is
// re-read first so the save cannot resurrect a backup code the
// verification just consumed. Best-effort: a lost grant only means the
// user is challenged again next login.
func (e *Engine) registerTrustedDevice(ctx context.Context, accountID, deviceID string, now time.Time) {
	profile, err := e.store.GetMFAProfile(ctx, accountID)
	if err != nil {
		return
	}
	kept := profile.TrustedDevices[:0]
	for _, device := range profile.TrustedDevices {
		if device.ExpiresAt.Before(now) || device.DeviceID == deviceID {
			continue
		}
		kept = append(kept, device)
	}
	profile.TrustedDevices = append(kept, TrustedDevice{
		DeviceID:   deviceID,
		AddedAt:    now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(e.config.MFA.TrustedDeviceTTL),
	})
	if err := e.store.SaveMFAProfile(ctx, profile); err == nil {
		e.emitAudit(ctx, auditEventTrustedDevice, true, profile.AccountID, "", nil, func() map[string]string {
			return map[string]string{"device_id": deviceID}
		})
	}
}
