package authcore

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpManager wraps the RFC 6238 implementation with this engine's drift
// policy. The verification window is ±Skew time steps to absorb client
// clock drift.
type totpManager struct {
	config MFAConfig
}

func newTOTPManager(cfg MFAConfig) *totpManager {
	return &totpManager{config: cfg}
}

// GenerateSecret creates a fresh seed and its otpauth:// provisioning URI.
// The seed is not trusted until a code minted from it is confirmed.
func (m *totpManager) GenerateSecret(account string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		SecretSize:  20,
		Period:      uint(m.config.Period),
		Digits:      otp.Digits(m.config.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// VerifyCode checks a submitted code against the seed at the given time,
// accepting ±Skew steps of drift.
func (m *totpManager) VerifyCode(secretBase32, code string, at time.Time) bool {
	if secretBase32 == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secretBase32, at, totp.ValidateOpts{
		Period:    uint(m.config.Period),
		Skew:      uint(m.config.Skew),
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}
