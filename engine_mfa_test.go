package authcore_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/depotline/authcore"
)

// enrollMFA walks an account through TOTP enrollment and returns the seed
// plus the one-time plaintext backup codes.
func enrollMFA(t *testing.T, env *testEnv, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := env.engine.EnrollTOTP(ctx, accountID)
	if err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}
	if enrollment.SecretBase32 == "" || !strings.HasPrefix(enrollment.URI, "otpauth://") {
		t.Fatalf("bad enrollment: %+v", enrollment)
	}

	code, err := totp.GenerateCode(enrollment.SecretBase32, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	backupCodes, err := env.engine.ConfirmTOTPEnrollment(ctx, accountID, code)
	if err != nil {
		t.Fatalf("ConfirmTOTPEnrollment failed: %v", err)
	}
	return enrollment.SecretBase32, backupCodes
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	return code
}

func TestEnrollmentPendingUntilConfirmed(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	ctx := context.Background()

	if _, err := env.engine.EnrollTOTP(ctx, id); err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}

	// Login stays unchallenged while the seed is pending.
	result := mustLogin(t, env, "alice", "Operator-Pass-1")
	if result.MFARequired {
		t.Fatal("pending enrollment must not gate login")
	}
}

func TestConfirmEnrollmentWrongCode(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	ctx := context.Background()

	if _, err := env.engine.EnrollTOTP(ctx, id); err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}
	_, err := env.engine.ConfirmTOTPEnrollment(ctx, id, "000000")
	if !errors.Is(err, authcore.ErrInvalidMFACode) {
		t.Fatalf("err = %v, want ErrInvalidMFACode", err)
	}
}

func TestConfirmEnrollmentReturnsBackupCodes(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")

	_, backupCodes := enrollMFA(t, env, id)
	if len(backupCodes) != 10 {
		t.Fatalf("got %d backup codes, want 10", len(backupCodes))
	}
	seen := make(map[string]bool, len(backupCodes))
	for _, code := range backupCodes {
		if !strings.Contains(code, "-") {
			t.Fatalf("backup code %q missing display hyphen", code)
		}
		if seen[code] {
			t.Fatalf("duplicate backup code %q", code)
		}
		seen[code] = true
	}
}

func TestLoginChallengedAfterEnrollment(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, _ := enrollMFA(t, env, id)

	result := mustLogin(t, env, "alice", "Operator-Pass-1")
	if !result.MFARequired {
		t.Fatal("expected MFA challenge after enrollment")
	}
	if result.AccessToken != "" || result.RefreshToken != "" {
		t.Fatal("tokens leaked before second factor")
	}
	if result.MFASession == "" {
		t.Fatal("missing pending session token")
	}

	final, err := env.engine.VerifyMFA(context.Background(), id, result.MFASession, currentCode(t, secret), "", "")
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if final.AccessToken == "" || final.RefreshToken == "" {
		t.Fatal("expected tokens after MFA completion")
	}
}

func TestBackupCodeSingleUse(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	_, backupCodes := enrollMFA(t, env, id)
	ctx := context.Background()

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")
	if _, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, backupCodes[0], authcore.MethodBackup, ""); err != nil {
		t.Fatalf("first use of backup code failed: %v", err)
	}

	// Same code again on a fresh challenge: consumed, so rejected.
	challenge = mustLogin(t, env, "alice", "Operator-Pass-1")
	_, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, backupCodes[0], authcore.MethodBackup, "")
	if !errors.Is(err, authcore.ErrInvalidMFACode) {
		t.Fatalf("reused backup code: err = %v, want ErrInvalidMFACode", err)
	}
}

func TestBackupCodeFormatInsensitive(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	_, backupCodes := enrollMFA(t, env, id)

	// Lowercase without the hyphen must still match.
	mangled := strings.ToLower(strings.ReplaceAll(backupCodes[0], "-", ""))
	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")
	if _, err := env.engine.VerifyMFA(context.Background(), id, challenge.MFASession, mangled, authcore.MethodBackup, ""); err != nil {
		t.Fatalf("canonicalized backup code rejected: %v", err)
	}
}

func TestMFALockoutIndependentOfAccountLockout(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")

	// Burn through the MFA attempt budget (5 by default).
	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = env.engine.VerifyMFA(ctx, id, challenge.MFASession, "000000", authcore.MethodTOTP, "")
	}
	if !errors.Is(lastErr, authcore.ErrMFALocked) {
		t.Fatalf("threshold attempt: err = %v, want ErrMFALocked", lastErr)
	}

	// A correct code is refused while the MFA lock is active.
	_, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, currentCode(t, secret), "", "")
	if !errors.Is(err, authcore.ErrMFALocked) {
		t.Fatalf("locked verify: err = %v, want ErrMFALocked", err)
	}

	// But the password step is a separate counter: a fresh login still
	// verifies the secret and parks on a new challenge.
	result, err := env.engine.Login(ctx, "alice", "Operator-Pass-1", "")
	if err != nil {
		t.Fatalf("password login during MFA lockout failed: %v", err)
	}
	if !result.MFARequired {
		t.Fatal("MFA lockout must not bypass the challenge")
	}
}

func TestTrustedDeviceBypassesChallenge(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")
	if _, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, currentCode(t, secret), "", "device-1"); err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}

	// device-1 is now trusted and skips the challenge.
	result, err := env.engine.Login(ctx, "alice", "Operator-Pass-1", "device-1")
	if err != nil {
		t.Fatalf("trusted login failed: %v", err)
	}
	if result.MFARequired {
		t.Fatal("trusted device was still challenged")
	}

	// A different device is not.
	result, err = env.engine.Login(ctx, "alice", "Operator-Pass-1", "device-2")
	if err != nil {
		t.Fatalf("untrusted login failed: %v", err)
	}
	if !result.MFARequired {
		t.Fatal("unknown device bypassed the challenge")
	}
}

func TestRemoveTrustedDevice(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")
	if _, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, currentCode(t, secret), "", "device-1"); err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if err := env.engine.RemoveTrustedDevice(ctx, id, "device-1"); err != nil {
		t.Fatalf("RemoveTrustedDevice failed: %v", err)
	}

	result, err := env.engine.Login(ctx, "alice", "Operator-Pass-1", "device-1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired {
		t.Fatal("removed device still bypasses MFA")
	}
}

func TestRegenerateBackupCodesInvalidatesOld(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, oldCodes := enrollMFA(t, env, id)
	ctx := context.Background()

	newCodes, err := env.engine.RegenerateBackupCodes(ctx, id, currentCode(t, secret))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(newCodes) != 10 {
		t.Fatalf("got %d codes, want 10", len(newCodes))
	}

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")
	if _, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, oldCodes[0], authcore.MethodBackup, ""); !errors.Is(err, authcore.ErrInvalidMFACode) {
		t.Fatalf("old code after regeneration: err = %v, want ErrInvalidMFACode", err)
	}

	challenge = mustLogin(t, env, "alice", "Operator-Pass-1")
	if _, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, newCodes[0], authcore.MethodBackup, ""); err != nil {
		t.Fatalf("new code rejected: %v", err)
	}
}

func TestRegenerateBackupCodesRequiresTOTP(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	enrollMFA(t, env, id)

	_, err := env.engine.RegenerateBackupCodes(context.Background(), id, "000000")
	if !errors.Is(err, authcore.ErrInvalidMFACode) {
		t.Fatalf("err = %v, want ErrInvalidMFACode", err)
	}
}

func TestDisableMFA(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	if err := env.engine.DisableMFA(ctx, id, currentCode(t, secret)); err != nil {
		t.Fatalf("DisableMFA failed: %v", err)
	}

	result := mustLogin(t, env, "alice", "Operator-Pass-1")
	if result.MFARequired {
		t.Fatal("challenge still issued after disable")
	}
}

func TestDriverNeverChallenged(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	env.seedDriver(t, "AB12 CDE", "9876")

	result, err := env.engine.Login(context.Background(), "AB12-CDE", "9876", "")
	if err != nil {
		t.Fatalf("driver login failed: %v", err)
	}
	if result.MFARequired {
		t.Fatal("driver accounts must never be MFA-challenged")
	}
}

func TestDeliveredOTPRoundTrip(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	enrollMFA(t, env, id)
	ctx := context.Background()

	if err := env.engine.UpdateMFADelivery(ctx, id, authcore.MethodSMS, "+15550100"); err != nil {
		t.Fatalf("UpdateMFADelivery failed: %v", err)
	}

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")
	if !challenge.MFARequired {
		t.Fatal("expected MFA challenge")
	}

	// The code goes out through the message sender, fire-and-forget.
	var code string
	waitFor(t, time.Second, func() bool {
		for _, msg := range env.sender.messages() {
			if msg.Template == authcore.TemplateLoginOTP && msg.Destination == "+15550100" {
				code = msg.Data["code"]
				return true
			}
		}
		return false
	})
	if code == "" {
		t.Fatal("delivered code missing from message data")
	}

	final, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, code, authcore.MethodSMS, "")
	if err != nil {
		t.Fatalf("VerifyMFA with delivered code failed: %v", err)
	}
	if final.AccessToken == "" || final.RefreshToken == "" {
		t.Fatal("expected tokens after delivered-code verification")
	}

	// The hash is cleared on use.
	profile, err := env.store.GetMFAProfile(ctx, id)
	if err != nil {
		t.Fatalf("GetMFAProfile failed: %v", err)
	}
	if profile.DeliveredOTPHash != "" {
		t.Fatal("delivered code hash survived verification")
	}
}

func TestDeliveredOTPExpiredRejected(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	enrollMFA(t, env, id)
	ctx := context.Background()

	if err := env.engine.UpdateMFADelivery(ctx, id, authcore.MethodEmail, "alice@example.com"); err != nil {
		t.Fatalf("UpdateMFADelivery failed: %v", err)
	}

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")
	var code string
	waitFor(t, time.Second, func() bool {
		for _, msg := range env.sender.messages() {
			if msg.Template == authcore.TemplateLoginOTP {
				code = msg.Data["code"]
				return true
			}
		}
		return false
	})

	profile, err := env.store.GetMFAProfile(ctx, id)
	if err != nil {
		t.Fatalf("GetMFAProfile failed: %v", err)
	}
	profile.DeliveredOTPExpiresAt = time.Now().Add(-time.Minute)
	if err := env.store.SaveMFAProfile(ctx, profile); err != nil {
		t.Fatalf("SaveMFAProfile failed: %v", err)
	}

	_, err = env.engine.VerifyMFA(ctx, id, challenge.MFASession, code, authcore.MethodEmail, "")
	if !errors.Is(err, authcore.ErrInvalidMFACode) {
		t.Fatalf("err = %v, want ErrInvalidMFACode", err)
	}
}

func TestVerificationStampsLastVerified(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, backupCodes := enrollMFA(t, env, id)
	ctx := context.Background()

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")
	before := time.Now()
	if _, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, currentCode(t, secret), authcore.MethodTOTP, ""); err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}

	profile, err := env.store.GetMFAProfile(ctx, id)
	if err != nil {
		t.Fatalf("GetMFAProfile failed: %v", err)
	}
	if profile.LastVerifiedAt.IsZero() {
		t.Fatal("TOTP verification did not persist the timestamp")
	}
	if profile.LastVerifiedAt.Before(before.Add(-time.Second)) {
		t.Fatalf("stale timestamp persisted: %v", profile.LastVerifiedAt)
	}

	// Backup-code verifications stamp it too.
	challenge = mustLogin(t, env, "alice", "Operator-Pass-1")
	later := time.Now()
	if _, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, backupCodes[0], authcore.MethodBackup, ""); err != nil {
		t.Fatalf("backup-code VerifyMFA failed: %v", err)
	}
	profile, err = env.store.GetMFAProfile(ctx, id)
	if err != nil {
		t.Fatalf("GetMFAProfile failed: %v", err)
	}
	if profile.LastVerifiedAt.Before(later.Add(-time.Second)) {
		t.Fatalf("backup verification did not advance the timestamp: %v", profile.LastVerifiedAt)
	}
}
