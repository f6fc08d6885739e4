package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// NewAccount describes an account to create. The Secret is hashed before
// it reaches the store; plaintext secrets never persist.
type NewAccount struct {
	Kind        AccountKind
	Identifier  string // username, or vehicle plate in any accepted form
	Secret      string
	DisplayName string
	Role        string
}

// CreateAccount registers a new identity. The secret must satisfy the
// runtime password policy. Driver identifiers are normalized to their
// canonical plate form; an identifier that does not parse as a plate is
// rejected for driver accounts. Duplicate identifiers within a kind fail
// with [ErrAccountExists].
func (e *Engine) CreateAccount(ctx context.Context, req NewAccount) (string, error) {
	if e == nil || e.store == nil {
		return "", ErrEngineNotReady
	}
	settings, err := e.loadSettings(ctx)
	if err != nil {
		return "", err
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		return "", errors.New("identifier required")
	}
	if req.Kind == KindDriver {
		plate, ok := NormalizePlate(identifier)
		if !ok {
			return "", errors.New("identifier is not a valid vehicle plate")
		}
		identifier = plate
	}

	if perr := validateSecret(req.Kind, settings.PasswordPolicy, req.Secret); perr != nil {
		return "", perr
	}
	hash, err := e.hasher.Hash(req.Secret)
	if err != nil {
		return "", storeErr(err)
	}

	record := AccountRecord{
		AccountID:      uuid.NewString(),
		Kind:           req.Kind,
		Identifier:     identifier,
		DisplayName:    req.DisplayName,
		Role:           req.Role,
		CredentialHash: hash,
		Active:         true,
	}
	if cerr := e.store.CreateAccount(ctx, record); cerr != nil {
		if errors.Is(cerr, ErrAccountExists) {
			return "", ErrAccountExists
		}
		return "", storeErr(cerr)
	}
	return record.AccountID, nil
}
