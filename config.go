package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/depotline/authcore/password"
)

// Config is the structural engine configuration, validated once at
// [Builder.Build] and immutable afterwards. Administrator-tunable runtime
// settings live in [Settings] and are re-read per operation instead.
type Config struct {
	Token    TokenConfig
	Password PasswordConfig
	MFA      MFAConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// TokenConfig carries the signing material for the token service.
type TokenConfig struct {
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// PasswordConfig holds Argon2id parameters and credential-flag behavior.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool

	// MustChangeGraceWindow bounds stale-flag auto-clearing: a
	// mustChangeCredential flag older than this at a successful login is
	// treated as a leftover from an admin reset and cleared; a younger
	// one is live and survives.
	MustChangeGraceWindow time.Duration
}

// MFAConfig controls the second-factor engine.
type MFAConfig struct {
	Issuer string // otpauth issuer label
	Digits int
	Period int // seconds per TOTP step
	Skew   int // accepted drift in steps either side

	BackupCodeCount  int
	BackupCodeLength int

	// MaxAttempts and LockoutDuration drive the MFA failure counter,
	// which is independent of the account-level password lockout.
	MaxAttempts     int
	LockoutDuration time.Duration

	PendingSessionTTL time.Duration
	TrustedDeviceTTL  time.Duration

	DeliveredOTPDigits int
	DeliveredOTPTTL    time.Duration
}

// AuditConfig controls the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production baseline. Signing keys must still
// be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SigningMethod: "ed25519",
			Issuer:        "authcore",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:                64 * 1024,
			Time:                  3,
			Parallelism:           2,
			SaltLength:            16,
			KeyLength:             32,
			MustChangeGraceWindow: 5 * time.Minute,
		},
		MFA: MFAConfig{
			Issuer:             "authcore",
			Digits:             6,
			Period:             30,
			Skew:               2,
			BackupCodeCount:    10,
			BackupCodeLength:   10,
			MaxAttempts:        5,
			LockoutDuration:    15 * time.Minute,
			PendingSessionTTL:  5 * time.Minute,
			TrustedDeviceTTL:   30 * 24 * time.Hour,
			DeliveredOTPDigits: 6,
			DeliveredOTPTTL:    5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects structurally broken configuration before an Engine is
// built from it.
func (c Config) Validate() error {
	switch c.Token.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("unsupported token signing method")
	}
	if c.MFA.Digits < 6 || c.MFA.Digits > 8 {
		return errors.New("mfa digits must be 6-8")
	}
	if c.MFA.Period <= 0 {
		return errors.New("mfa period must be positive")
	}
	if c.MFA.Skew < 0 || c.MFA.Skew > 4 {
		return errors.New("mfa skew out of range")
	}
	if c.MFA.MaxAttempts <= 0 {
		return errors.New("mfa max attempts must be positive")
	}
	if c.MFA.LockoutDuration <= 0 {
		return errors.New("mfa lockout duration must be positive")
	}
	if c.MFA.PendingSessionTTL <= 0 || c.MFA.PendingSessionTTL > time.Hour {
		return errors.New("pending mfa session ttl must be minutes, not hours")
	}
	if c.MFA.BackupCodeCount <= 0 || c.MFA.BackupCodeLength < 8 {
		return errors.New("invalid backup code configuration")
	}
	if c.MFA.DeliveredOTPDigits < 6 || c.MFA.DeliveredOTPDigits > 10 {
		return errors.New("invalid delivered otp digits")
	}
	if c.Password.MustChangeGraceWindow <= 0 {
		return errors.New("must-change grace window must be positive")
	}
	return nil
}

// withDefaults fills zero-valued fields from [DefaultConfig] so callers
// only need to set what they care about.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Token.SigningMethod == "" {
		c.Token.SigningMethod = d.Token.SigningMethod
	}
	if c.Token.Issuer == "" {
		c.Token.Issuer = d.Token.Issuer
	}
	if c.Token.Leeway <= 0 {
		c.Token.Leeway = d.Token.Leeway
	}
	if c.Password.Memory == 0 {
		c.Password.Memory = d.Password.Memory
	}
	if c.Password.Time == 0 {
		c.Password.Time = d.Password.Time
	}
	if c.Password.Parallelism == 0 {
		c.Password.Parallelism = d.Password.Parallelism
	}
	if c.Password.SaltLength == 0 {
		c.Password.SaltLength = d.Password.SaltLength
	}
	if c.Password.KeyLength == 0 {
		c.Password.KeyLength = d.Password.KeyLength
	}
	if c.Password.MustChangeGraceWindow <= 0 {
		c.Password.MustChangeGraceWindow = d.Password.MustChangeGraceWindow
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = d.MFA.Issuer
	}
	if c.MFA.Digits == 0 {
		c.MFA.Digits = d.MFA.Digits
	}
	if c.MFA.Period == 0 {
		c.MFA.Period = d.MFA.Period
	}
	if c.MFA.BackupCodeCount == 0 {
		c.MFA.BackupCodeCount = d.MFA.BackupCodeCount
	}
	if c.MFA.BackupCodeLength == 0 {
		c.MFA.BackupCodeLength = d.MFA.BackupCodeLength
	}
	if c.MFA.MaxAttempts == 0 {
		c.MFA.MaxAttempts = d.MFA.MaxAttempts
	}
	if c.MFA.LockoutDuration <= 0 {
		c.MFA.LockoutDuration = d.MFA.LockoutDuration
	}
	if c.MFA.PendingSessionTTL <= 0 {
		c.MFA.PendingSessionTTL = d.MFA.PendingSessionTTL
	}
	if c.MFA.TrustedDeviceTTL <= 0 {
		c.MFA.TrustedDeviceTTL = d.MFA.TrustedDeviceTTL
	}
	if c.MFA.DeliveredOTPDigits == 0 {
		c.MFA.DeliveredOTPDigits = d.MFA.DeliveredOTPDigits
	}
	if c.MFA.DeliveredOTPTTL <= 0 {
		c.MFA.DeliveredOTPTTL = d.MFA.DeliveredOTPTTL
	}
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = d.Audit.BufferSize
	}
	return cloneConfig(c)
}

func cloneConfig(c Config) Config {
	out := c
	out.Token.PrivateKey = cloneBytes(c.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(c.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Settings are the administrator-tunable runtime values of the platform.
// The engine loads them through a [SettingsSource] at the top of every
// operation, so a change applies to new logins and refreshes without a
// process restart.
type Settings struct {
	JWTExpiryHours         int
	RefreshTokenExpiryDays int
	MaxLoginAttempts       int
	LockoutDurationMinutes int
	// SessionTimeoutMinutes caps the pending-MFA session TTL.
	SessionTimeoutMinutes int
	AllowMultipleSessions bool
	PasswordPolicy        password.Policy
}

// SettingsSource supplies the current [Settings]. Implementations read
// from whatever the platform uses for admin configuration; a Load failure
// is an infrastructure error, never an authentication outcome.
type SettingsSource interface {
	Load(ctx context.Context) (Settings, error)
}

// StaticSettings is a SettingsSource that always returns the same values.
// Useful in tests and for deployments without a runtime settings table.
type StaticSettings Settings

// Load implements [SettingsSource].
func (s StaticSettings) Load(context.Context) (Settings, error) {
	return Settings(s), nil
}

// DefaultSettings mirrors the platform defaults.
func DefaultSettings() Settings {
	return Settings{
		JWTExpiryHours:         8,
		RefreshTokenExpiryDays: 30,
		MaxLoginAttempts:       5,
		LockoutDurationMinutes: 30,
		SessionTimeoutMinutes:  10,
		AllowMultipleSessions:  false,
		PasswordPolicy: password.Policy{
			MinLength:        8,
			RequireUppercase: true,
			RequireLowercase: true,
			RequireNumbers:   true,
			HistoryCount:     3,
		},
	}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.JWTExpiryHours <= 0 {
		s.JWTExpiryHours = d.JWTExpiryHours
	}
	if s.RefreshTokenExpiryDays <= 0 {
		s.RefreshTokenExpiryDays = d.RefreshTokenExpiryDays
	}
	if s.MaxLoginAttempts <= 0 {
		s.MaxLoginAttempts = d.MaxLoginAttempts
	}
	if s.LockoutDurationMinutes <= 0 {
		s.LockoutDurationMinutes = d.LockoutDurationMinutes
	}
	if s.SessionTimeoutMinutes <= 0 {
		s.SessionTimeoutMinutes = d.SessionTimeoutMinutes
	}
	return s
}

func (s Settings) accessTTL() time.Duration {
	return time.Duration(s.JWTExpiryHours) * time.Hour
}

func (s Settings) refreshTTL() time.Duration {
	return time.Duration(s.RefreshTokenExpiryDays) * 24 * time.Hour
}

func (s Settings) lockoutDuration() time.Duration {
	return time.Duration(s.LockoutDurationMinutes) * time.Minute
}

func (s Settings) pendingMFATTL(configured time.Duration) time.Duration {
	ceiling := time.Duration(s.SessionTimeoutMinutes) * time.Minute
	if configured <= 0 || configured > ceiling {
		return ceiling
	}
	return configured
}
