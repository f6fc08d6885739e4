package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/depotline/authcore/internal"
)

// EnrollTOTP begins authenticator enrollment for a standard-user account.
// The generated seed stays pending and inert until a code minted from it
// is confirmed through [Engine.ConfirmTOTPEnrollment]. Re-enrolling while
// a confirmed seed exists replaces only the pending seed; the active one
// keeps working until confirmation.
func (e *Engine) EnrollTOTP(ctx context.Context, accountID string) (*TOTPEnrollment, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, storeErr(err)
	}
	if account.Deleted {
		return nil, ErrAccountNotFound
	}
	if account.Kind != KindStandardUser {
		return nil, ErrMFANotEnrolled
	}

	secret, uri, err := e.totp.GenerateSecret(account.Identifier)
	if err != nil {
		return nil, storeErr(err)
	}

	profile, err := e.store.GetMFAProfile(ctx, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	profile.AccountID = accountID
	profile.PendingTOTPSecret = secret
	if err := e.store.SaveMFAProfile(ctx, profile); err != nil {
		return nil, storeErr(err)
	}

	return &TOTPEnrollment{SecretBase32: secret, URI: uri}, nil
}

// ConfirmTOTPEnrollment promotes a pending seed after the user proves
// possession of it. On success MFA is enabled, TOTP becomes the preferred
// method, and a fresh set of backup codes is generated and returned in
// plaintext. This is the only time the plaintext codes exist; only their
// hashes are stored.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	now := time.Now()

	profile, err := e.store.GetMFAProfile(ctx, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	if profile.PendingTOTPSecret == "" {
		return nil, ErrMFANotEnrolled
	}
	if !e.totp.VerifyCode(profile.PendingTOTPSecret, code, now) {
		e.metricInc(MetricMFAFailure)
		return nil, ErrInvalidMFACode
	}

	profile.AccountID = accountID
	profile.TOTPSecret = profile.PendingTOTPSecret
	profile.PendingTOTPSecret = ""
	profile.TOTPVerified = true
	profile.Enabled = true
	if profile.PreferredMethod == "" {
		profile.PreferredMethod = MethodTOTP
	}
	profile.LastVerifiedAt = now

	plaintext, records, err := e.newBackupCodes(accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	profile.BackupCodes = records

	if err := e.store.SaveMFAProfile(ctx, profile); err != nil {
		return nil, storeErr(err)
	}

	e.emitAudit(ctx, auditEventMFAEnrolled, true, accountID, "", nil, nil)
	return plaintext, nil
}

// RegenerateBackupCodes invalidates every unused backup code and issues a
// fresh set, returned in plaintext exactly once. A current TOTP code is
// required so a stolen session alone cannot mint recovery codes.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, totpCode string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	profile, err := e.store.GetMFAProfile(ctx, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !profile.Enabled || !profile.HasTOTP() {
		return nil, ErrMFANotEnrolled
	}
	if !e.totp.VerifyCode(profile.TOTPSecret, totpCode, time.Now()) {
		e.metricInc(MetricMFAFailure)
		return nil, ErrInvalidMFACode
	}

	plaintext, records, err := e.newBackupCodes(accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	profile.BackupCodes = records
	if err := e.store.SaveMFAProfile(ctx, profile); err != nil {
		return nil, storeErr(err)
	}

	e.emitAudit(ctx, auditEventBackupCodesReset, true, accountID, "", nil, nil)
	return plaintext, nil
}

// DisableMFA turns the second factor off after a final proof of
// possession. Any current factor works, including a backup code; the
// profile's seed, codes, and trusted devices are all discarded.
func (e *Engine) DisableMFA(ctx context.Context, accountID, code string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	now := time.Now()

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return storeErr(err)
	}

	profile, err := e.store.GetMFAProfile(ctx, accountID)
	if err != nil {
		return storeErr(err)
	}
	if !profile.Enabled {
		return ErrMFANotEnrolled
	}

	if _, verr := e.verifyMFACode(ctx, account, &profile, code, "", now); verr != nil {
		return verr
	}

	profile = MFAProfile{AccountID: accountID}
	if err := e.store.SaveMFAProfile(ctx, profile); err != nil {
		return storeErr(err)
	}

	e.emitAudit(ctx, auditEventMFADisabled, true, accountID, account.Identifier, nil, nil)
	return nil
}

// UpdateMFADelivery sets or clears the delivered-code channel (sms or
// email) and its destination. Passing an empty method clears delivery and
// falls back to TOTP as the preferred method.
func (e *Engine) UpdateMFADelivery(ctx context.Context, accountID string, method MFAMethod, destination string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	switch method {
	case MethodSMS, MethodEmail:
		if destination == "" {
			return errors.New("delivery destination required")
		}
	case "":
	default:
		return errors.New("unsupported delivery method")
	}

	profile, err := e.store.GetMFAProfile(ctx, accountID)
	if err != nil {
		return storeErr(err)
	}
	if !profile.Enabled {
		return ErrMFANotEnrolled
	}

	if method == "" {
		profile.PreferredMethod = MethodTOTP
		profile.Destination = ""
	} else {
		profile.PreferredMethod = method
		profile.Destination = destination
	}
	profile.DeliveredOTPHash = ""
	profile.DeliveredOTPExpiresAt = time.Time{}

	return storeErr(e.store.SaveMFAProfile(ctx, profile))
}

// RemoveTrustedDevice drops one MFA-bypass grant. Removing an unknown
// device is not an error.
func (e *Engine) RemoveTrustedDevice(ctx context.Context, accountID, deviceID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	profile, err := e.store.GetMFAProfile(ctx, accountID)
	if err != nil {
		return storeErr(err)
	}
	kept := profile.TrustedDevices[:0]
	for _, device := range profile.TrustedDevices {
		if device.DeviceID == deviceID {
			continue
		}
		kept = append(kept, device)
	}
	profile.TrustedDevices = kept
	return storeErr(e.store.SaveMFAProfile(ctx, profile))
}

// verifyMFACode checks one submitted second factor against the profile,
// honoring the independent MFA lockout. With an empty method, TOTP is
// tried first, then backup codes, then a delivered code. Every failure
// feeds the MFA failure counter; hitting the threshold returns the
// lockout error directly.
func (e *Engine) verifyMFACode(
	ctx context.Context,
	account AccountRecord,
	profile *MFAProfile,
	code string,
	method MFAMethod,
	now time.Time,
) (MFAMethod, error) {
	until, err := e.store.MFALockedUntil(ctx, account.AccountID)
	if err != nil {
		return "", storeErr(err)
	}
	if until.After(now) {
		e.metricInc(MetricMFALocked)
		e.emitAudit(ctx, auditEventMFALocked, false, account.AccountID, account.Identifier, ErrMFALocked, nil)
		return "", &MFALockedError{Until: until}
	}

	var used MFAMethod

	if (method == "" || method == MethodTOTP) && profile.HasTOTP() {
		if e.totp.VerifyCode(profile.TOTPSecret, code, now) {
			used = MethodTOTP
		}
	}

	if used == "" && (method == "" || method == MethodBackup) && len(profile.BackupCodes) > 0 {
		hash := internal.BackupCodeHash(account.AccountID, internal.CanonicalizeBackupCode(code))
		consumed, cerr := e.store.ConsumeBackupCode(ctx, account.AccountID, hash)
		if cerr != nil {
			return "", storeErr(cerr)
		}
		if consumed {
			used = MethodBackup
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, account.AccountID, account.Identifier, nil, nil)
		}
	}

	if used == "" && (method == "" || method == MethodSMS || method == MethodEmail) {
		if e.deliveredOTPMatches(profile, code, now) {
			used = profile.PreferredMethod
			profile.DeliveredOTPHash = ""
			profile.DeliveredOTPExpiresAt = time.Time{}
			if serr := e.store.SaveMFAProfile(ctx, *profile); serr != nil {
				return "", storeErr(serr)
			}
		}
	}

	if used == "" {
		locked, lockedUntil, rerr := e.store.RecordMFAFailure(ctx, account.AccountID, e.config.MFA.MaxAttempts, e.config.MFA.LockoutDuration)
		if rerr != nil {
			return "", storeErr(rerr)
		}
		e.metricInc(MetricMFAFailure)
		if locked {
			e.metricInc(MetricMFALocked)
			e.emitAudit(ctx, auditEventMFALocked, false, account.AccountID, account.Identifier, ErrMFALocked, func() map[string]string {
				return map[string]string{"locked_until": lockedUntil.Format(time.RFC3339)}
			})
			return "", &MFALockedError{Until: lockedUntil}
		}
		e.emitAudit(ctx, auditEventMFAFailure, false, account.AccountID, account.Identifier, ErrInvalidMFACode, nil)
		return "", ErrInvalidMFACode
	}

	if cerr := e.store.ClearMFAFailures(ctx, account.AccountID); cerr != nil {
		return "", storeErr(cerr)
	}
	profile.LastVerifiedAt = now
	if terr := e.store.TouchMFAVerified(ctx, account.AccountID, now); terr != nil {
		return "", storeErr(terr)
	}
	return used, nil
}

// deliveredOTPMatches compares a submitted code against the stored
// delivered-code hash in constant time.
func (e *Engine) deliveredOTPMatches(profile *MFAProfile, code string, now time.Time) bool {
	if profile.DeliveredOTPHash == "" || profile.DeliveredOTPExpiresAt.Before(now) {
		return false
	}
	submitted := internal.EncodeFingerprint(internal.Fingerprint(code))
	return subtle.ConstantTimeCompare([]byte(profile.DeliveredOTPHash), []byte(submitted)) == 1
}

// newBackupCodes mints a full set of codes: plaintext for one-time display
// and account-bound hashes for storage.
func (e *Engine) newBackupCodes(accountID string) ([]string, []BackupCodeRecord, error) {
	count := e.config.MFA.BackupCodeCount
	plaintext := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(e.config.MFA.BackupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		plaintext = append(plaintext, internal.FormatBackupCode(code))
		records = append(records, BackupCodeRecord{Hash: internal.BackupCodeHash(accountID, code)})
	}
	return plaintext, records, nil
}
