package authcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/depotline/authcore"
)

func TestChangeCredential(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	ctx := context.Background()

	if err := env.engine.ChangeCredential(ctx, id, "Operator-Pass-1", "Operator-Pass-2"); err != nil {
		t.Fatalf("ChangeCredential failed: %v", err)
	}

	if _, err := env.engine.Login(ctx, "alice", "Operator-Pass-1", ""); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("old secret still works: err = %v", err)
	}
	mustLogin(t, env, "alice", "Operator-Pass-2")
}

func TestChangeCredentialWrongCurrent(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")

	err := env.engine.ChangeCredential(context.Background(), id, "wrong", "Operator-Pass-2")
	if !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestChangeCredentialPolicyViolation(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")

	err := env.engine.ChangeCredential(context.Background(), id, "Operator-Pass-1", "short")
	if !errors.Is(err, authcore.ErrPasswordPolicy) {
		t.Fatalf("err = %v, want ErrPasswordPolicy", err)
	}
}

func TestChangeCredentialHistoryWindow(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	ctx := context.Background()

	// HistoryCount is 3: the current secret plus the two before it are
	// off-limits.
	secrets := []string{"Operator-Pass-2", "Operator-Pass-3", "Operator-Pass-4"}
	current := "Operator-Pass-1"
	for _, next := range secrets {
		if err := env.engine.ChangeCredential(ctx, id, current, next); err != nil {
			t.Fatalf("ChangeCredential to %q failed: %v", next, err)
		}
		current = next
	}

	// Operator-Pass-3 is still inside the window.
	if err := env.engine.ChangeCredential(ctx, id, current, "Operator-Pass-3"); !errors.Is(err, authcore.ErrPasswordReused) {
		t.Fatalf("recent reuse: err = %v, want ErrPasswordReused", err)
	}

	// Operator-Pass-1 has aged out of the window and is allowed again.
	if err := env.engine.ChangeCredential(ctx, id, current, "Operator-Pass-1"); err != nil {
		t.Fatalf("aged-out secret rejected: %v", err)
	}
}

func TestChangeCredentialRevokesRefreshChain(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	ctx := context.Background()

	login := mustLogin(t, env, "alice", "Operator-Pass-1")
	if err := env.engine.ChangeCredential(ctx, id, "Operator-Pass-1", "Operator-Pass-2"); err != nil {
		t.Fatalf("ChangeCredential failed: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, authcore.ErrInvalidRefreshToken) {
		t.Fatalf("refresh after change: err = %v, want ErrInvalidRefreshToken", err)
	}
	waitFor(t, time.Second, func() bool { return env.notifier.count() >= 1 })
}

func TestChangeCredentialClearsMustChange(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedAccount(t, authcore.AccountRecord{
		Kind:                 authcore.KindStandardUser,
		Identifier:           "carol",
		Active:               true,
		MustChangeCredential: true,
		MustChangeSetAt:      time.Now(),
	}, "Temp-Pass-99")
	ctx := context.Background()

	result := mustLogin(t, env, "carol", "Temp-Pass-99")
	if !result.MustChangeCredential {
		t.Fatal("expected must-change on temporary secret")
	}

	if err := env.engine.ChangeCredential(ctx, id, "Temp-Pass-99", "Operator-Pass-2"); err != nil {
		t.Fatalf("ChangeCredential failed: %v", err)
	}

	result = mustLogin(t, env, "carol", "Operator-Pass-2")
	if result.MustChangeCredential {
		t.Fatal("must-change flag survived the credential change")
	}
}

func TestAdminResetCredential(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")
	ctx := context.Background()

	login := mustLogin(t, env, "alice", "Operator-Pass-1")

	if err := env.engine.AdminResetCredential(ctx, id, "Temp-Reset-77"); err != nil {
		t.Fatalf("AdminResetCredential failed: %v", err)
	}

	// The reset killed the refresh chain.
	if _, err := env.engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, authcore.ErrInvalidRefreshToken) {
		t.Fatalf("refresh after reset: err = %v, want ErrInvalidRefreshToken", err)
	}

	// The temporary secret logs in and demands a change.
	result := mustLogin(t, env, "alice", "Temp-Reset-77")
	if !result.MustChangeCredential {
		t.Fatal("expected must-change after admin reset")
	}
}

func TestAdminResetAllowsReuse(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedUser(t, "alice", "Operator-Pass-1")

	// Admin resets skip the history check: resetting to the current
	// secret is the administrator's call.
	if err := env.engine.AdminResetCredential(context.Background(), id, "Operator-Pass-1"); err != nil {
		t.Fatalf("AdminResetCredential failed: %v", err)
	}
}

func TestDriverPINChange(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	id := env.seedDriver(t, "T991 EFN", "4321")
	ctx := context.Background()

	// Driver PINs are exempt from the user complexity policy.
	if err := env.engine.ChangeCredential(ctx, id, "4321", "8765"); err != nil {
		t.Fatalf("PIN change failed: %v", err)
	}
	mustLogin(t, env, "T991-EFN", "8765")

	// But not from the length floor.
	if err := env.engine.ChangeCredential(ctx, id, "8765", "12"); !errors.Is(err, authcore.ErrPasswordPolicy) {
		t.Fatalf("short PIN: err = %v, want ErrPasswordPolicy", err)
	}
}

func TestCreateAccountDuplicateIdentifier(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()

	if _, err := env.engine.CreateAccount(ctx, authcore.NewAccount{
		Kind:       authcore.KindStandardUser,
		Identifier: "alice",
		Secret:     "Operator-Pass-1",
	}); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	_, err := env.engine.CreateAccount(ctx, authcore.NewAccount{
		Kind:       authcore.KindStandardUser,
		Identifier: "alice",
		Secret:     "Operator-Pass-2",
	})
	if !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("err = %v, want ErrAccountExists", err)
	}
}

func TestCreateDriverNormalizesPlate(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()

	if _, err := env.engine.CreateAccount(ctx, authcore.NewAccount{
		Kind:       authcore.KindDriver,
		Identifier: "t991-efn",
		Secret:     "4321",
	}); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	// The space form is the same identity and therefore a duplicate.
	_, err := env.engine.CreateAccount(ctx, authcore.NewAccount{
		Kind:       authcore.KindDriver,
		Identifier: "T991 EFN",
		Secret:     "9999",
	})
	if !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("err = %v, want ErrAccountExists", err)
	}
}
