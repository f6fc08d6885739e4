package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/depotline/authcore/password"
)

// validateSecret applies the user complexity policy, or just the PIN
// length floor for driver accounts.
func validateSecret(kind AccountKind, policy password.Policy, secret string) error {
	if kind == KindDriver {
		if len(secret) < 4 {
			return ErrPasswordPolicy
		}
		return nil
	}
	return policy.Validate(secret)
}

// ChangeCredential rotates an account's secret after re-verifying the
// current one. The new secret must satisfy the runtime password policy
// and must not match the current secret or the policy's history window.
// On success the must-change flag is cleared, the refresh chain is
// revoked so every session re-authenticates, and a confirmation message
// goes out if a delivery destination is known.
func (e *Engine) ChangeCredential(ctx context.Context, accountID, currentSecret, newSecret string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	settings, err := e.loadSettings(ctx)
	if err != nil {
		return err
	}

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return storeErr(err)
	}
	if account.Deleted {
		return ErrAccountNotFound
	}

	ok, verr := e.hasher.Verify(currentSecret, account.CredentialHash)
	if verr != nil || !ok {
		e.metricInc(MetricPasswordRejected)
		e.emitAudit(ctx, auditEventPasswordRejected, false, accountID, account.Identifier, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	policy := settings.PasswordPolicy
	if perr := validateSecret(account.Kind, policy, newSecret); perr != nil {
		e.metricInc(MetricPasswordRejected)
		e.emitAudit(ctx, auditEventPasswordRejected, false, accountID, account.Identifier, perr, nil)
		return perr
	}
	if herr := e.hasher.CheckHistory(newSecret, account.CredentialHash, account.CredentialHistory, policy.HistoryCount); herr != nil {
		e.metricInc(MetricPasswordRejected)
		e.emitAudit(ctx, auditEventPasswordRejected, false, accountID, account.Identifier, herr, nil)
		return herr
	}

	hash, history, err := e.hasher.Rotate(newSecret, account.CredentialHash, account.CredentialHistory, policy.HistoryCount)
	if err != nil {
		return storeErr(err)
	}
	if uerr := e.store.UpdateCredential(ctx, accountID, hash, history); uerr != nil {
		return storeErr(uerr)
	}
	if cerr := e.store.ClearMustChange(ctx, accountID); cerr != nil {
		return storeErr(cerr)
	}
	if cerr := e.store.ClearRefreshFingerprint(ctx, accountID); cerr != nil {
		return storeErr(cerr)
	}
	e.forceLogout(ctx, account, "credential_changed")

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, accountID, account.Identifier, nil, nil)

	if profile, perr := e.store.GetMFAProfile(ctx, accountID); perr == nil && profile.Destination != "" {
		e.sendMessage(profile.Destination, TemplatePasswordChanged, map[string]string{
			"identifier": account.Identifier,
		})
	}
	return nil
}

// AdminResetCredential sets a temporary secret on behalf of an
// administrator. The secret must satisfy the policy but is exempt from
// the history check; the account is flagged for a forced change with a
// fresh timestamp, and the refresh chain is revoked.
func (e *Engine) AdminResetCredential(ctx context.Context, accountID, newSecret string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	settings, err := e.loadSettings(ctx)
	if err != nil {
		return err
	}

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return storeErr(err)
	}
	if account.Deleted {
		return ErrAccountNotFound
	}

	policy := settings.PasswordPolicy
	if perr := validateSecret(account.Kind, policy, newSecret); perr != nil {
		e.metricInc(MetricPasswordRejected)
		e.emitAudit(ctx, auditEventPasswordRejected, false, accountID, account.Identifier, perr, nil)
		return perr
	}

	hash, history, err := e.hasher.Rotate(newSecret, account.CredentialHash, account.CredentialHistory, policy.HistoryCount)
	if err != nil {
		return storeErr(err)
	}
	if uerr := e.store.UpdateCredential(ctx, accountID, hash, history); uerr != nil {
		return storeErr(uerr)
	}
	if serr := e.store.SetMustChange(ctx, accountID, time.Now()); serr != nil {
		return storeErr(serr)
	}
	if cerr := e.store.ClearLoginFailures(ctx, accountID); cerr != nil {
		return storeErr(cerr)
	}
	if cerr := e.store.ClearRefreshFingerprint(ctx, accountID); cerr != nil {
		return storeErr(cerr)
	}
	e.forceLogout(ctx, account, "admin_reset")

	e.emitAudit(ctx, auditEventAdminReset, true, accountID, account.Identifier, nil, nil)
	return nil
}
