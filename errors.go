package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/depotline/authcore/password"
)

var (
	// ErrInvalidCredentials is returned for a wrong identifier or wrong
	// secret. The two cases are never distinguished, to prevent account
	// enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountBanned gates a banned account. The concrete error may
	// carry the ban reason; see [BannedError].
	ErrAccountBanned = errors.New("account banned")
	// ErrAccountDeactivated gates an inactive account.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrAccountLocked gates an account inside its lockout window; see
	// [LockedError] for the remaining time.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidMFACode rejects a wrong or expired second-factor code.
	ErrInvalidMFACode = errors.New("invalid mfa code")
	// ErrMFALocked gates second-factor verification inside its own
	// lockout window, independent of the account lockout.
	ErrMFALocked = errors.New("mfa verification locked")
	// ErrMFANotEnrolled reports an MFA operation against an account with
	// no confirmed enrollment.
	ErrMFANotEnrolled = errors.New("mfa not enrolled")
	// ErrInvalidSession rejects a pending-MFA session token that is
	// missing, wrong, or expired; the caller must restart login.
	ErrInvalidSession = errors.New("invalid mfa session")
	// ErrInvalidRefreshToken rejects a refresh token that is malformed,
	// badly signed, or no longer the live link of its chain. Presenting a
	// rotated-out token also revokes the whole chain.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshExpired reports a refresh token that simply aged out.
	// Nothing suspicious happened and nothing is revoked; the client must
	// log in again.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrAccountNotFound is the store-level miss. The login path maps it
	// to ErrInvalidCredentials before it reaches a caller.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists rejects a duplicate identifier on creation.
	ErrAccountExists = errors.New("account already exists")
	// ErrFingerprintMismatch is the store-level rotation failure: the
	// presented fingerprint is not the stored one.
	ErrFingerprintMismatch = errors.New("refresh fingerprint mismatch")
	// ErrStoreUnavailable wraps any backing-store failure. It is the only
	// infrastructure-class error; clients must never conflate it with an
	// authentication outcome.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrEngineNotReady reports use of an Engine that was not built
	// through the Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrPasswordPolicy and ErrPasswordReused re-export the password package
// sentinels so callers can match everything in one place.
var (
	ErrPasswordPolicy = password.ErrPolicy
	ErrPasswordReused = password.ErrReuse
)

// BannedError carries the ban reason. Disclosing it is intentional: the
// account's existence was already implied by the banning administrator.
type BannedError struct {
	Reason string
}

func (e *BannedError) Error() string {
	if e.Reason == "" {
		return "account banned"
	}
	return "account banned: " + e.Reason
}

// Is reports true for [ErrAccountBanned].
func (e *BannedError) Is(target error) bool {
	return target == ErrAccountBanned
}

// LockedError carries the lockout deadline for the account-level lockout.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minutes", e.RemainingMinutes())
}

// RemainingMinutes rounds the remaining lockout up to whole minutes, never
// below one while the lock is active.
func (e *LockedError) RemainingMinutes() int {
	remaining := time.Until(e.Until)
	if remaining <= 0 {
		return 0
	}
	mins := int((remaining + time.Minute - 1) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	return mins
}

// Is reports true for [ErrAccountLocked].
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// MFALockedError carries the deadline of the independent MFA lockout.
type MFALockedError struct {
	Until time.Time
}

func (e *MFALockedError) Error() string {
	return fmt.Sprintf("mfa verification locked until %s", e.Until.Format(time.RFC3339))
}

// Is reports true for [ErrMFALocked].
func (e *MFALockedError) Is(target error) bool {
	return target == ErrMFALocked
}

// lockoutTriggeredError is returned by the exact login failure that tripped
// the lockout threshold. It matches both [ErrInvalidCredentials] and
// [ErrAccountLocked], so callers can show the lockout detail without the
// attempt itself being reported as anything but a bad credential.
type lockoutTriggeredError struct {
	Until time.Time
}

func (e *lockoutTriggeredError) Error() string {
	locked := &LockedError{Until: e.Until}
	return fmt.Sprintf("invalid credentials, account locked for %d minutes", locked.RemainingMinutes())
}

func (e *lockoutTriggeredError) Is(target error) bool {
	return target == ErrInvalidCredentials || target == ErrAccountLocked
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
