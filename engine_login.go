package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/depotline/authcore/internal"
	"github.com/depotline/authcore/token"
	"github.com/google/uuid"
)

// Login authenticates an identifier/secret pair and either issues a token
// pair or parks the attempt on a pending MFA session. Identifiers shaped
// like vehicle plates resolve driver accounts; everything else resolves
// standard users by username. deviceID is optional and only consulted for
// the trusted-device MFA bypass.
//
// Failures surface as [ErrInvalidCredentials], [ErrAccountBanned],
// [ErrAccountDeactivated], or [ErrAccountLocked]; store trouble as
// [ErrStoreUnavailable].
func (e *Engine) Login(ctx context.Context, identifier, secret, deviceID string) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	settings, err := e.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	// Classify and resolve. A plate-shaped identifier is a driver login;
	// both "T991 EFN" and "T991-EFN" resolve the same account.
	kind := KindStandardUser
	lookup := identifier
	if plate, ok := NormalizePlate(identifier); ok {
		kind = KindDriver
		lookup = plate
	}

	account, err := e.store.FindByIdentifier(ctx, kind, lookup)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", lookup, ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}
	if account.Deleted {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, lookup, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	// Administrative gates run before the secret is checked, so a banned
	// or deactivated account learns its status regardless of the secret.
	if gateErr := gateCheck(account, now); gateErr != nil {
		if errors.Is(gateErr, ErrAccountLocked) {
			e.metricInc(MetricLoginLocked)
			e.emitAudit(ctx, auditEventLoginLocked, false, account.AccountID, lookup, gateErr, nil)
		} else {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, lookup, gateErr, nil)
		}
		return nil, gateErr
	}

	ok, verr := e.hasher.Verify(secret, account.CredentialHash)
	if verr != nil || !ok {
		locked, until, rerr := e.store.RecordLoginFailure(ctx, account.AccountID, settings.MaxLoginAttempts, settings.lockoutDuration())
		if rerr != nil {
			return nil, storeErr(rerr)
		}
		e.metricInc(MetricLoginFailure)
		if locked {
			e.metricInc(MetricLoginLocked)
			e.emitAudit(ctx, auditEventLoginLocked, false, account.AccountID, lookup, ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"locked_until": until.Format(time.RFC3339)}
			})
			return nil, &lockoutTriggeredError{Until: until}
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, lookup, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	// Secret verified. Reset abuse state and settle the must-change flag
	// before any token leaves the engine.
	if account.FailedAttempts > 0 || !account.LockedUntil.IsZero() {
		if cerr := e.store.ClearLoginFailures(ctx, account.AccountID); cerr != nil {
			return nil, storeErr(cerr)
		}
	}

	mustChange := account.MustChangeCredential
	if mustChange && e.staleMustChange(account, now) {
		// Leftover flag from an old admin reset the user already worked
		// through; clear it rather than trapping them in the change flow.
		if cerr := e.store.ClearMustChange(ctx, account.AccountID); cerr != nil {
			return nil, storeErr(cerr)
		}
		mustChange = false
	}

	if e.config.Password.UpgradeOnLogin {
		e.maybeUpgradeHash(ctx, account, secret)
	}

	// MFA gate. Drivers are PIN-only identities and never challenged.
	if account.Kind == KindStandardUser {
		profile, perr := e.store.GetMFAProfile(ctx, account.AccountID)
		if perr != nil {
			return nil, storeErr(perr)
		}
		if profile.Enabled {
			if deviceID != "" && e.trustedDeviceBypass(ctx, &profile, deviceID, now) {
				e.metricInc(MetricTrustedDeviceBypass)
			} else {
				return e.beginMFAChallenge(ctx, settings, account, &profile, mustChange, now)
			}
		}
	}

	return e.finishLogin(ctx, settings, account, mustChange, auditEventLoginSuccess)
}

// staleMustChange decides whether a mustChangeCredential flag is live or a
// leftover. Legacy records with no timestamp are always stale; timestamped
// flags are live inside the configured grace window.
func (e *Engine) staleMustChange(account AccountRecord, now time.Time) bool {
	if account.MustChangeSetAt.IsZero() {
		return true
	}
	return now.Sub(account.MustChangeSetAt) > e.config.Password.MustChangeGraceWindow
}

// maybeUpgradeHash rewrites the stored hash when its Argon2 parameters lag
// the current configuration. Best-effort: the plaintext is in hand only
// during login, so a failed rewrite just waits for the next one.
func (e *Engine) maybeUpgradeHash(ctx context.Context, account AccountRecord, secret string) {
	needs, err := e.hasher.NeedsUpgrade(account.CredentialHash)
	if err != nil || !needs {
		return
	}
	rehashed, err := e.hasher.Hash(secret)
	if err != nil {
		return
	}
	_ = e.store.UpdateCredentialHash(ctx, account.AccountID, rehashed)
}

// trustedDeviceBypass reports whether deviceID is a live trusted device,
// touching its last-used time and pruning expired entries on the way.
func (e *Engine) trustedDeviceBypass(ctx context.Context, profile *MFAProfile, deviceID string, now time.Time) bool {
	matched := false
	kept := profile.TrustedDevices[:0]
	for _, device := range profile.TrustedDevices {
		if device.ExpiresAt.Before(now) {
			continue
		}
		if device.DeviceID == deviceID {
			device.LastUsedAt = now
			matched = true
		}
		kept = append(kept, device)
	}
	if !matched {
		return false
	}
	profile.TrustedDevices = kept
	if err := e.store.SaveMFAProfile(ctx, *profile); err != nil {
		// The bypass decision stands; only the bookkeeping is lost.
		return true
	}
	return true
}

// beginMFAChallenge parks a password-verified login on a pending session
// and, for delivered-code profiles, sends the one-time code out of band.
func (e *Engine) beginMFAChallenge(
	ctx context.Context,
	settings Settings,
	account AccountRecord,
	profile *MFAProfile,
	mustChange bool,
	now time.Time,
) (*LoginResult, error) {
	sessionToken, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, storeErr(err)
	}
	fingerprint := internal.EncodeFingerprint(internal.Fingerprint(sessionToken))
	ttl := settings.pendingMFATTL(e.config.MFA.PendingSessionTTL)
	if serr := e.store.SetPendingMFA(ctx, account.AccountID, fingerprint, now.Add(ttl)); serr != nil {
		return nil, storeErr(serr)
	}

	if profile.Destination != "" && (profile.PreferredMethod == MethodSMS || profile.PreferredMethod == MethodEmail) {
		e.issueDeliveredOTP(ctx, profile, now)
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, account.AccountID, account.Identifier, nil, func() map[string]string {
		return map[string]string{"ttl_seconds": strconv.Itoa(int(ttl.Seconds()))}
	})

	return &LoginResult{
		MFARequired:          true,
		MFASession:           sessionToken,
		MFAMethods:           profile.EnabledMethods(),
		MustChangeCredential: mustChange,
	}, nil
}

// issueDeliveredOTP mints an sms/email code, stores its hash on the
// profile, and hands the plaintext to the message sender. Failures here
// never block the challenge: the user still has TOTP or backup codes.
func (e *Engine) issueDeliveredOTP(ctx context.Context, profile *MFAProfile, now time.Time) {
	code, err := internal.NewOTP(e.config.MFA.DeliveredOTPDigits)
	if err != nil {
		return
	}
	profile.DeliveredOTPHash = internal.EncodeFingerprint(internal.Fingerprint(code))
	profile.DeliveredOTPExpiresAt = now.Add(e.config.MFA.DeliveredOTPTTL)
	if err := e.store.SaveMFAProfile(ctx, *profile); err != nil {
		return
	}
	e.sendMessage(profile.Destination, TemplateLoginOTP, map[string]string{
		"code":    code,
		"expires": strconv.Itoa(int(e.config.MFA.DeliveredOTPTTL.Minutes())),
	})
}

// finishLogin performs the terminal steps shared by password-only logins
// and completed MFA verifications: single-session enforcement, token
// issuance, fingerprint anchoring, last-login bookkeeping.
func (e *Engine) finishLogin(
	ctx context.Context,
	settings Settings,
	account AccountRecord,
	mustChange bool,
	auditKind string,
) (*LoginResult, error) {
	if !settings.AllowMultipleSessions {
		e.forceLogout(ctx, account, "new_login")
	}

	pair, err := e.tokens.IssuePair(token.Payload{
		AccountID:   account.AccountID,
		DisplayName: account.DisplayName,
		Role:        account.Role,
	}, uuid.NewString(), settings.accessTTL(), settings.refreshTTL())
	if err != nil {
		return nil, storeErr(err)
	}

	fingerprint := token.EncodeFingerprint(token.Fingerprint(pair.RefreshToken))
	if serr := e.store.SetRefreshFingerprint(ctx, account.AccountID, fingerprint); serr != nil {
		return nil, storeErr(serr)
	}
	if uerr := e.store.UpdateLastLogin(ctx, account.AccountID, time.Now()); uerr != nil {
		return nil, storeErr(uerr)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditKind, true, account.AccountID, account.Identifier, nil, nil)

	return &LoginResult{
		AccessToken:          pair.AccessToken,
		RefreshToken:         pair.RefreshToken,
		MustChangeCredential: mustChange,
	}, nil
}
