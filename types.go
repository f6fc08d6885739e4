package authcore

import (
	"context"
	"time"
)

// AccountKind distinguishes the two identity partitions. Standard users
// authenticate by username; drivers authenticate by vehicle plate and PIN.
type AccountKind uint8

const (
	// KindStandardUser is a human operator account keyed by username.
	KindStandardUser AccountKind = iota
	// KindDriver is a vehicle/driver identity keyed by a normalized plate.
	KindDriver
)

// MFAMethod names a second-factor mechanism.
type MFAMethod string

const (
	// MethodTOTP is an authenticator-app time-based code.
	MethodTOTP MFAMethod = "totp"
	// MethodBackup is a single-use recovery code.
	MethodBackup MFAMethod = "backup"
	// MethodSMS is a numeric code delivered by text message.
	MethodSMS MFAMethod = "sms"
	// MethodEmail is a numeric code delivered by email.
	MethodEmail MFAMethod = "email"
)

// AccountRecord is the durable credential state of one identity. The
// credential hash and its history never leave the store boundary except
// through this record; they are never serialized outward by the engine.
type AccountRecord struct {
	AccountID   string
	Kind        AccountKind
	Identifier  string // username, or canonical plate for drivers
	DisplayName string
	Role        string

	CredentialHash    string
	CredentialHistory []string // most recent first, bounded by policy

	FailedAttempts int
	LockedUntil    time.Time // zero when not locked

	MustChangeCredential bool
	MustChangeSetAt      time.Time // zero on legacy records

	// RefreshFingerprint is the encoded one-way hash of the single valid
	// refresh token. Empty means no active session. Rotation always
	// overwrites; a second value never coexists.
	RefreshFingerprint string

	// PendingMFAFingerprint bridges a password-verified login waiting on a
	// second factor. Consumed exactly once.
	PendingMFAFingerprint string
	PendingMFAExpiresAt   time.Time

	Active    bool
	Banned    bool
	BanReason string
	Deleted   bool

	LastLogin time.Time
}

// TrustedDevice is a client previously granted an MFA bypass. Entries past
// ExpiresAt are inert and pruned opportunistically.
type TrustedDevice struct {
	DeviceID   string
	AddedAt    time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
}

// BackupCodeRecord stores the hash of a single-use recovery code. The
// plaintext is returned to the user exactly once at generation.
type BackupCodeRecord struct {
	Hash [32]byte
}

// MFAProfile is the per-account second-factor configuration. It carries its
// own failure counter and lockout, independent of the account-level
// password lockout. Enabled=false means no MFA challenge is ever issued
// regardless of the other fields.
type MFAProfile struct {
	AccountID string
	Enabled   bool

	TOTPSecret        string // base32 seed, empty until enrollment confirmed
	TOTPVerified      bool
	PendingTOTPSecret string // set by EnrollTOTP, promoted on confirmation

	BackupCodes    []BackupCodeRecord
	TrustedDevices []TrustedDevice

	PreferredMethod MFAMethod
	Destination     string // phone number or email for delivered codes

	// DeliveredOTPHash holds the hash of the last sms/email code issued by
	// the login MFA gate; cleared on use or expiry.
	DeliveredOTPHash      string
	DeliveredOTPExpiresAt time.Time

	LastVerifiedAt time.Time
}

// HasTOTP reports whether a confirmed authenticator seed exists.
func (p *MFAProfile) HasTOTP() bool {
	return p.TOTPSecret != "" && p.TOTPVerified
}

// EnabledMethods lists the second factors this profile can currently
// satisfy, in challenge-preference order.
func (p *MFAProfile) EnabledMethods() []MFAMethod {
	var methods []MFAMethod
	if p.HasTOTP() {
		methods = append(methods, MethodTOTP)
	}
	if len(p.BackupCodes) > 0 {
		methods = append(methods, MethodBackup)
	}
	if p.Destination != "" && (p.PreferredMethod == MethodSMS || p.PreferredMethod == MethodEmail) {
		methods = append(methods, p.PreferredMethod)
	}
	return methods
}

// LoginResult is returned by [Engine.Login] and [Engine.VerifyMFA]. Either
// the token pair is populated (terminal success) or MFARequired is set and
// the caller must complete [Engine.VerifyMFA] with the session token.
type LoginResult struct {
	AccessToken  string
	RefreshToken string

	MFARequired bool
	MFASession  string
	MFAMethods  []MFAMethod

	// MustChangeCredential tells the caller to route into the
	// credential-change flow before normal use.
	MustChangeCredential bool
}

// TokenPair is returned by [Engine.Refresh].
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TOTPEnrollment is returned by [Engine.EnrollTOTP]. The secret is not
// active until a code is confirmed.
type TOTPEnrollment struct {
	SecretBase32 string
	URI          string // otpauth:// provisioning URI for QR rendering
}

// CredentialStore is the storage contract the engine depends on. The
// concurrency guarantees of the login and refresh paths live here, not in
// the engine: RecordLoginFailure, RecordMFAFailure, ConsumeBackupCode,
// ConsumePendingMFA, and RotateRefreshFingerprint must each be a single
// atomic read-modify-write, never a caller-visible read-then-write.
//
// Implementations return [ErrAccountNotFound] for missing identities and
// wrap backend failures in [ErrStoreUnavailable]. A Redis-backed
// implementation ships in the credstore package.
type CredentialStore interface {
	GetAccount(ctx context.Context, accountID string) (AccountRecord, error)
	FindByIdentifier(ctx context.Context, kind AccountKind, identifier string) (AccountRecord, error)
	CreateAccount(ctx context.Context, record AccountRecord) error

	// RecordLoginFailure atomically increments the failure counter. When
	// the counter reaches maxAttempts it sets the lockout, resets the
	// counter to zero, and reports locked=true with the lockout deadline.
	RecordLoginFailure(ctx context.Context, accountID string, maxAttempts int, lockout time.Duration) (locked bool, until time.Time, err error)
	// ClearLoginFailures zeroes the counter and removes any lockout.
	ClearLoginFailures(ctx context.Context, accountID string) error

	UpdateCredential(ctx context.Context, accountID, hash string, history []string) error
	// UpdateCredentialHash rewrites only the current hash (parameter
	// upgrades on login); history is untouched.
	UpdateCredentialHash(ctx context.Context, accountID, hash string) error
	SetMustChange(ctx context.Context, accountID string, at time.Time) error
	ClearMustChange(ctx context.Context, accountID string) error
	UpdateLastLogin(ctx context.Context, accountID string, at time.Time) error

	// SetRefreshFingerprint overwrites the stored fingerprint, establishing
	// a new refresh chain.
	SetRefreshFingerprint(ctx context.Context, accountID, fingerprint string) error
	// RotateRefreshFingerprint atomically compares the stored fingerprint
	// against expected and replaces it with next. On mismatch it clears
	// the stored value (revoking the whole chain) and returns
	// [ErrFingerprintMismatch].
	RotateRefreshFingerprint(ctx context.Context, accountID, expected, next string) error
	// ClearRefreshFingerprint removes any stored fingerprint. Idempotent.
	ClearRefreshFingerprint(ctx context.Context, accountID string) error

	SetPendingMFA(ctx context.Context, accountID, fingerprint string, expiresAt time.Time) error
	// ConsumePendingMFA atomically deletes the pending-MFA state when the
	// fingerprint matches and has not expired, reporting whether it did.
	ConsumePendingMFA(ctx context.Context, accountID, fingerprint string) (bool, error)

	// GetMFAProfile returns the profile, or a zero-value profile (with
	// Enabled=false) when none exists.
	GetMFAProfile(ctx context.Context, accountID string) (MFAProfile, error)
	SaveMFAProfile(ctx context.Context, profile MFAProfile) error
	// RecordMFAFailure tracks second-factor failures independently of the
	// account lockout, with the same atomic threshold semantics as
	// RecordLoginFailure.
	RecordMFAFailure(ctx context.Context, accountID string, maxAttempts int, lockout time.Duration) (locked bool, until time.Time, err error)
	ClearMFAFailures(ctx context.Context, accountID string) error
	MFALockedUntil(ctx context.Context, accountID string) (time.Time, error)
	// ConsumeBackupCode atomically removes the matching hash, reporting
	// whether one was found. A consumed code can never match again.
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
	// TouchMFAVerified stamps the time of the last successful
	// second-factor verification on the stored profile. No-op when no
	// profile exists.
	TouchMFAVerified(ctx context.Context, accountID string, at time.Time) error
}

// Notifier pushes realtime session events. Calls are fire-and-forget: the
// engine never blocks on or propagates a notifier failure.
type Notifier interface {
	ForceLogout(identityKey, reason string)
}

// MessageTemplate selects the outbound message body; formatting belongs to
// the sender implementation.
type MessageTemplate string

const (
	// TemplatePasswordChanged confirms a completed credential change.
	TemplatePasswordChanged MessageTemplate = "password_changed"
	// TemplateLoginOTP delivers an sms/email one-time login code.
	TemplateLoginOTP MessageTemplate = "login_otp"
)

// MessageSender delivers user-facing messages (OTP codes, confirmations).
// Failures are logged by the engine, never surfaced as operation failures.
type MessageSender interface {
	Send(destination string, template MessageTemplate, data map[string]string) error
}
