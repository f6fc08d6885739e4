package authcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/depotline/authcore"
	"github.com/depotline/authcore/internal"
)

func TestVerifyMFAWrongSessionToken(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, _ := enrollMFA(t, env, id)

	mustLogin(t, env, "alice", "Operator-Pass-1")

	_, err := env.engine.VerifyMFA(context.Background(), id, "not-the-session", currentCode(t, secret), "", "")
	if !errors.Is(err, authcore.ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
}

func TestVerifyMFASessionConsumedOnce(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")
	if _, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, currentCode(t, secret), "", ""); err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}

	// Replaying the consumed session fails even with a valid code.
	_, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, currentCode(t, secret), "", "")
	if !errors.Is(err, authcore.ErrInvalidSession) {
		t.Fatalf("replayed session: err = %v, want ErrInvalidSession", err)
	}
}

func TestVerifyMFAFailedCodeKeepsSessionAlive(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")

	// A mistyped code does not consume the session.
	if _, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, "000000", authcore.MethodTOTP, ""); !errors.Is(err, authcore.ErrInvalidMFACode) {
		t.Fatalf("bad code: err = %v, want ErrInvalidMFACode", err)
	}
	if _, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, currentCode(t, secret), "", ""); err != nil {
		t.Fatalf("retry after bad code failed: %v", err)
	}
}

func TestVerifyMFAExpiredSession(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	// Seed the pending state directly with an already-passed deadline.
	sessionToken, err := internal.NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken failed: %v", err)
	}
	fingerprint := internal.EncodeFingerprint(internal.Fingerprint(sessionToken))
	id := env.seedAccount(t, authcore.AccountRecord{
		Kind:                  authcore.KindStandardUser,
		Identifier:            "alice",
		Active:                true,
		PendingMFAFingerprint: fingerprint,
		PendingMFAExpiresAt:   time.Now().Add(-time.Minute),
	}, "Operator-Pass-1")

	_, err = env.engine.VerifyMFA(context.Background(), id, sessionToken, "000000", "", "")
	if !errors.Is(err, authcore.ErrInvalidSession) {
		t.Fatalf("expired session: err = %v, want ErrInvalidSession", err)
	}
}

func TestVerifyMFAUnknownAccount(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	_, err := env.engine.VerifyMFA(context.Background(), "no-such-account", "session", "000000", "", "")
	if !errors.Is(err, authcore.ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
}

func TestVerifyMFAGatesStillApply(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")

	// The account gets banned between the password step and the second
	// factor. The gate wins.
	if err := env.store.SetAccountStatus(ctx, id, true, true, "tos violation"); err != nil {
		t.Fatalf("SetAccountStatus failed: %v", err)
	}
	_, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, currentCode(t, secret), "", "")
	if !errors.Is(err, authcore.ErrAccountBanned) {
		t.Fatalf("err = %v, want ErrAccountBanned", err)
	}
}

func TestVerifyMFAClearsStaleMustChange(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	challenge := mustLogin(t, env, "alice", "Operator-Pass-1")

	// An admin reset lands while the session is parked, then ages past
	// the grace window before the second factor arrives.
	if err := env.store.SetMustChange(ctx, id, time.Now().Add(-10*time.Minute)); err != nil {
		t.Fatalf("SetMustChange failed: %v", err)
	}

	result, err := env.engine.VerifyMFA(ctx, id, challenge.MFASession, currentCode(t, secret), "", "")
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if result.MustChangeCredential {
		t.Fatal("stale must-change flag surfaced in the result")
	}

	account, err := env.store.GetAccount(ctx, id)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.MustChangeCredential {
		t.Fatal("stale must-change flag was not cleared from the store")
	}
}
