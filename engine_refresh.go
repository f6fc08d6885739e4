package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/depotline/authcore/token"
	"github.com/google/uuid"
)

// Refresh exchanges a live refresh token for a new access/refresh pair and
// rotates the stored fingerprint. Exactly one valid refresh token exists
// per account at a time: concurrent refreshes race in the store and
// exactly one wins.
//
// Presenting a token that was already rotated out is treated as theft
// evidence: the whole chain is revoked and the caller gets
// [ErrInvalidRefreshToken]. A token that simply aged out gets
// [ErrRefreshExpired] and revokes nothing.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	settings, err := e.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	claims, err := e.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, token.ErrExpired) {
			e.emitAudit(ctx, auditEventRefreshFailure, false, "", "", ErrRefreshExpired, nil)
			return nil, ErrRefreshExpired
		}
		e.emitAudit(ctx, auditEventRefreshFailure, false, "", "", ErrInvalidRefreshToken, nil)
		return nil, ErrInvalidRefreshToken
	}

	account, err := e.store.GetAccount(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrInvalidRefreshToken
		}
		return nil, storeErr(err)
	}
	if account.Deleted {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrInvalidRefreshToken
	}
	if gateErr := gateCheck(account, now); gateErr != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, account.AccountID, account.Identifier, gateErr, nil)
		return nil, gateErr
	}

	// Mint the replacement pair before the swap so the rotation is a
	// single compare-and-set in the store. A loser's minted pair is
	// discarded, never stored, and its fingerprint anchors nothing.
	pair, err := e.tokens.IssuePair(token.Payload{
		AccountID:   account.AccountID,
		DisplayName: account.DisplayName,
		Role:        account.Role,
	}, uuid.NewString(), settings.accessTTL(), settings.refreshTTL())
	if err != nil {
		return nil, storeErr(err)
	}

	current := token.EncodeFingerprint(token.Fingerprint(refreshToken))
	next := token.EncodeFingerprint(token.Fingerprint(pair.RefreshToken))
	if rerr := e.store.RotateRefreshFingerprint(ctx, account.AccountID, current, next); rerr != nil {
		if errors.Is(rerr, ErrFingerprintMismatch) {
			// Replay of a rotated-out token. The store already cleared the
			// fingerprint, so the thief's copy is dead too.
			e.metricInc(MetricRefreshFailure)
			e.metricInc(MetricRefreshReuseDetected)
			e.emitAudit(ctx, auditEventRefreshReuse, false, account.AccountID, account.Identifier, ErrInvalidRefreshToken, nil)
			e.forceLogout(ctx, account, "refresh_reuse")
			return nil, ErrInvalidRefreshToken
		}
		return nil, storeErr(rerr)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, account.AccountID, account.Identifier, nil, nil)

	return &TokenPair{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// Logout ends the refresh chain for an account. Idempotent: logging out
// with no live chain succeeds. Access tokens already issued stay valid
// until they expire; only refreshing is cut off.
func (e *Engine) Logout(ctx context.Context, accountID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.store.ClearRefreshFingerprint(ctx, accountID); err != nil {
		return storeErr(err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, accountID, "", nil, nil)
	return nil
}
