package credstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/depotline/authcore"
)

// maxRetries bounds the optimistic WATCH transactions used for the
// read-modify-write operations.
const maxRetries = 4

// Account hash field names.
const (
	fieldKind         = "kind"
	fieldIdentifier   = "identifier"
	fieldDisplayName  = "display_name"
	fieldRole         = "role"
	fieldHash         = "hash"
	fieldHistory      = "history"
	fieldFailed       = "failed"
	fieldLockedUntil  = "locked_until"
	fieldMustChange   = "must_change"
	fieldMustChangeAt = "must_change_at"
	fieldRefreshFP    = "refresh_fp"
	fieldPendingFP    = "pending_fp"
	fieldPendingExp   = "pending_exp"
	fieldActive       = "active"
	fieldBanned       = "banned"
	fieldBanReason    = "ban_reason"
	fieldDeleted      = "deleted"
	fieldLastLogin    = "last_login"
)

// rotateScript is the compare-and-set at the heart of refresh rotation.
// Exactly one concurrent caller observes its own fingerprint and swaps it;
// every other caller sees a mismatch. A mismatch against a live
// fingerprint clears it, revoking the whole chain.
var rotateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[3])
if not cur or cur == '' then
	return 'missing'
end
if cur ~= ARGV[1] then
	redis.call('HDEL', KEYS[1], ARGV[3])
	return 'mismatch'
end
redis.call('HSET', KEYS[1], ARGV[3], ARGV[2])
return 'rotated'
`)

// consumePendingScript deletes the pending-MFA state when the submitted
// fingerprint matches and has not expired. At most one caller gets 1.
var consumePendingScript = redis.NewScript(`
local fp = redis.call('HGET', KEYS[1], 'pending_fp')
if not fp or fp == '' or fp ~= ARGV[1] then
	return 0
end
local exp = tonumber(redis.call('HGET', KEYS[1], 'pending_exp') or '0')
if exp < tonumber(ARGV[2]) then
	redis.call('HDEL', KEYS[1], 'pending_fp', 'pending_exp')
	return 0
end
redis.call('HDEL', KEYS[1], 'pending_fp', 'pending_exp')
return 1
`)

// Store is the Redis-backed [authcore.CredentialStore]. Accounts live in
// hashes, identifier lookups in plain string keys, and MFA profiles in
// JSON blobs. All multi-step mutations go through Lua scripts or WATCH
// transactions so the engine's concurrency guarantees hold across
// processes.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore wraps a Redis client. prefix namespaces every key and may be
// empty.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix != "" && prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + "acct:" + accountID
}

func (s *Store) identifierKey(kind authcore.AccountKind, identifier string) string {
	return s.prefix + "ident:" + strconv.Itoa(int(kind)) + ":" + identifier
}

func (s *Store) mfaKey(accountID string) string {
	return s.prefix + "mfa:" + accountID
}

func (s *Store) mfaFailKey(accountID string) string {
	return s.prefix + "mfa_fail:" + accountID
}

func (s *Store) mfaLockKey(accountID string) string {
	return s.prefix + "mfa_lock:" + accountID
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
}

// GetAccount implements [authcore.CredentialStore].
func (s *Store) GetAccount(ctx context.Context, accountID string) (authcore.AccountRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return authcore.AccountRecord{}, wrapErr(err)
	}
	if len(fields) == 0 {
		return authcore.AccountRecord{}, authcore.ErrAccountNotFound
	}
	return decodeAccount(accountID, fields)
}

// FindByIdentifier implements [authcore.CredentialStore]. The identifier
// must already be canonical; drivers are indexed by normalized plate.
func (s *Store) FindByIdentifier(ctx context.Context, kind authcore.AccountKind, identifier string) (authcore.AccountRecord, error) {
	accountID, err := s.client.Get(ctx, s.identifierKey(kind, identifier)).Result()
	if errors.Is(err, redis.Nil) {
		return authcore.AccountRecord{}, authcore.ErrAccountNotFound
	}
	if err != nil {
		return authcore.AccountRecord{}, wrapErr(err)
	}
	return s.GetAccount(ctx, accountID)
}

// CreateAccount implements [authcore.CredentialStore]. The identifier
// index entry is claimed first with SETNX, so a duplicate loses cleanly.
func (s *Store) CreateAccount(ctx context.Context, record authcore.AccountRecord) error {
	claimed, err := s.client.SetNX(ctx, s.identifierKey(record.Kind, record.Identifier), record.AccountID, 0).Result()
	if err != nil {
		return wrapErr(err)
	}
	if !claimed {
		return authcore.ErrAccountExists
	}
	if err := s.client.HSet(ctx, s.accountKey(record.AccountID), encodeAccount(record)).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

// RecordLoginFailure implements [authcore.CredentialStore]. A WATCH
// transaction makes the increment-and-maybe-lock a single atomic step
// even across processes.
func (s *Store) RecordLoginFailure(ctx context.Context, accountID string, maxAttempts int, lockout time.Duration) (bool, time.Time, error) {
	key := s.accountKey(accountID)
	var locked bool
	var until time.Time

	txn := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return authcore.ErrAccountNotFound
		}
		failed, err := tx.HGet(ctx, key, fieldFailed).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		failed++

		locked = false
		until = time.Time{}
		values := map[string]interface{}{fieldFailed: failed}
		if failed >= maxAttempts {
			locked = true
			until = time.Now().Add(lockout)
			values[fieldFailed] = 0
			values[fieldLockedUntil] = until.Unix()
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, values)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return locked, until, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, authcore.ErrAccountNotFound) {
			return false, time.Time{}, err
		}
		return false, time.Time{}, wrapErr(err)
	}
	return false, time.Time{}, wrapErr(errors.New("login failure transaction contention"))
}

// ClearLoginFailures implements [authcore.CredentialStore].
func (s *Store) ClearLoginFailures(ctx context.Context, accountID string) error {
	key := s.accountKey(accountID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fieldFailed, 0)
	pipe.HDel(ctx, key, fieldLockedUntil)
	_, err := pipe.Exec(ctx)
	return wrapErr(err)
}

// UpdateCredential implements [authcore.CredentialStore].
func (s *Store) UpdateCredential(ctx context.Context, accountID, hash string, history []string) error {
	encoded, err := json.Marshal(history)
	if err != nil {
		return wrapErr(err)
	}
	return wrapErr(s.client.HSet(ctx, s.accountKey(accountID), map[string]interface{}{
		fieldHash:    hash,
		fieldHistory: string(encoded),
	}).Err())
}

// UpdateCredentialHash implements [authcore.CredentialStore].
func (s *Store) UpdateCredentialHash(ctx context.Context, accountID, hash string) error {
	return wrapErr(s.client.HSet(ctx, s.accountKey(accountID), fieldHash, hash).Err())
}

// SetMustChange implements [authcore.CredentialStore].
func (s *Store) SetMustChange(ctx context.Context, accountID string, at time.Time) error {
	return wrapErr(s.client.HSet(ctx, s.accountKey(accountID), map[string]interface{}{
		fieldMustChange:   1,
		fieldMustChangeAt: at.Unix(),
	}).Err())
}

// ClearMustChange implements [authcore.CredentialStore].
func (s *Store) ClearMustChange(ctx context.Context, accountID string) error {
	key := s.accountKey(accountID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fieldMustChange, 0)
	pipe.HDel(ctx, key, fieldMustChangeAt)
	_, err := pipe.Exec(ctx)
	return wrapErr(err)
}

// UpdateLastLogin implements [authcore.CredentialStore].
func (s *Store) UpdateLastLogin(ctx context.Context, accountID string, at time.Time) error {
	return wrapErr(s.client.HSet(ctx, s.accountKey(accountID), fieldLastLogin, at.Unix()).Err())
}

// SetRefreshFingerprint implements [authcore.CredentialStore].
func (s *Store) SetRefreshFingerprint(ctx context.Context, accountID, fingerprint string) error {
	return wrapErr(s.client.HSet(ctx, s.accountKey(accountID), fieldRefreshFP, fingerprint).Err())
}

// RotateRefreshFingerprint implements [authcore.CredentialStore]. Runs
// the compare-and-set script; any outcome other than a clean rotation is
// [authcore.ErrFingerprintMismatch].
func (s *Store) RotateRefreshFingerprint(ctx context.Context, accountID, expected, next string) error {
	result, err := rotateScript.Run(ctx, s.client, []string{s.accountKey(accountID)}, expected, next, fieldRefreshFP).Text()
	if err != nil {
		return wrapErr(err)
	}
	if result != "rotated" {
		return authcore.ErrFingerprintMismatch
	}
	return nil
}

// ClearRefreshFingerprint implements [authcore.CredentialStore].
func (s *Store) ClearRefreshFingerprint(ctx context.Context, accountID string) error {
	return wrapErr(s.client.HDel(ctx, s.accountKey(accountID), fieldRefreshFP).Err())
}

// SetPendingMFA implements [authcore.CredentialStore].
func (s *Store) SetPendingMFA(ctx context.Context, accountID, fingerprint string, expiresAt time.Time) error {
	return wrapErr(s.client.HSet(ctx, s.accountKey(accountID), map[string]interface{}{
		fieldPendingFP:  fingerprint,
		fieldPendingExp: expiresAt.Unix(),
	}).Err())
}

// ConsumePendingMFA implements [authcore.CredentialStore].
func (s *Store) ConsumePendingMFA(ctx context.Context, accountID, fingerprint string) (bool, error) {
	result, err := consumePendingScript.Run(ctx, s.client, []string{s.accountKey(accountID)}, fingerprint, time.Now().Unix()).Int()
	if err != nil {
		return false, wrapErr(err)
	}
	return result == 1, nil
}

// GetMFAProfile implements [authcore.CredentialStore]. A missing profile
// is a zero value, not an error; the lockout keys are folded in so the
// engine sees one consistent view.
func (s *Store) GetMFAProfile(ctx context.Context, accountID string) (authcore.MFAProfile, error) {
	raw, err := s.client.Get(ctx, s.mfaKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return authcore.MFAProfile{AccountID: accountID}, nil
	}
	if err != nil {
		return authcore.MFAProfile{}, wrapErr(err)
	}

	var stored storedProfile
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return authcore.MFAProfile{}, wrapErr(err)
	}
	return stored.toProfile(accountID)
}

// SaveMFAProfile implements [authcore.CredentialStore].
func (s *Store) SaveMFAProfile(ctx context.Context, profile authcore.MFAProfile) error {
	encoded, err := json.Marshal(fromProfile(profile))
	if err != nil {
		return wrapErr(err)
	}
	return wrapErr(s.client.Set(ctx, s.mfaKey(profile.AccountID), encoded, 0).Err())
}

// RecordMFAFailure implements [authcore.CredentialStore]. The counter and
// lock live in their own keys so the account-level lockout is untouched.
func (s *Store) RecordMFAFailure(ctx context.Context, accountID string, maxAttempts int, lockout time.Duration) (bool, time.Time, error) {
	failKey := s.mfaFailKey(accountID)
	lockKey := s.mfaLockKey(accountID)
	var locked bool
	var until time.Time

	txn := func(tx *redis.Tx) error {
		failed, err := tx.Get(ctx, failKey).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		failed++

		locked = false
		until = time.Time{}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if failed >= maxAttempts {
				locked = true
				until = time.Now().Add(lockout)
				pipe.Del(ctx, failKey)
				pipe.Set(ctx, lockKey, until.Unix(), lockout)
			} else {
				pipe.Set(ctx, failKey, failed, lockout)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txn, failKey)
		if err == nil {
			return locked, until, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, time.Time{}, wrapErr(err)
	}
	return false, time.Time{}, wrapErr(errors.New("mfa failure transaction contention"))
}

// ClearMFAFailures implements [authcore.CredentialStore].
func (s *Store) ClearMFAFailures(ctx context.Context, accountID string) error {
	return wrapErr(s.client.Del(ctx, s.mfaFailKey(accountID), s.mfaLockKey(accountID)).Err())
}

// MFALockedUntil implements [authcore.CredentialStore]. Returns the zero
// time when no lock is active; the lock key expires on its own.
func (s *Store) MFALockedUntil(ctx context.Context, accountID string) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.mfaLockKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, wrapErr(err)
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, wrapErr(err)
	}
	return time.Unix(unix, 0), nil
}

// ConsumeBackupCode implements [authcore.CredentialStore]. A WATCH
// transaction on the profile blob makes removal exactly-once: two racing
// submissions of the same code read the same blob, but only the first
// write commits.
func (s *Store) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	key := s.mfaKey(accountID)
	target := base64.RawURLEncoding.EncodeToString(hash[:])
	var consumed bool

	txn := func(tx *redis.Tx) error {
		consumed = false
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var stored storedProfile
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return err
		}

		idx := -1
		for i, code := range stored.BackupCodes {
			if code == target {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}
		stored.BackupCodes = append(stored.BackupCodes[:idx], stored.BackupCodes[idx+1:]...)

		encoded, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		consumed = true
		return nil
	}

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return consumed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, wrapErr(err)
	}
	return false, wrapErr(errors.New("backup code transaction contention"))
}

// TouchMFAVerified implements [authcore.CredentialStore]. A WATCH
// transaction keeps the stamp from clobbering a concurrent backup-code
// consumption on the same blob.
func (s *Store) TouchMFAVerified(ctx context.Context, accountID string, at time.Time) error {
	key := s.mfaKey(accountID)

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var stored storedProfile
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return err
		}
		stored.LastVerifiedAt = at.Unix()

		encoded, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrapErr(err)
	}
	return wrapErr(errors.New("verification stamp transaction contention"))
}

// SetAccountStatus flips the administrative flags used by the login
// gates. Empty banReason with banned=true keeps any existing reason.
func (s *Store) SetAccountStatus(ctx context.Context, accountID string, active, banned bool, banReason string) error {
	values := map[string]interface{}{
		fieldActive: boolField(active),
		fieldBanned: boolField(banned),
	}
	if banReason != "" || !banned {
		values[fieldBanReason] = banReason
	}
	return wrapErr(s.client.HSet(ctx, s.accountKey(accountID), values).Err())
}

// MarkDeleted soft-deletes an account. The identifier index entry stays
// so the identifier cannot be re-registered against a dangling record.
func (s *Store) MarkDeleted(ctx context.Context, accountID string) error {
	return wrapErr(s.client.HSet(ctx, s.accountKey(accountID), fieldDeleted, 1).Err())
}

func boolField(v bool) int {
	if v {
		return 1
	}
	return 0
}

func encodeAccount(record authcore.AccountRecord) map[string]interface{} {
	history, _ := json.Marshal(record.CredentialHistory)
	values := map[string]interface{}{
		fieldKind:        int(record.Kind),
		fieldIdentifier:  record.Identifier,
		fieldDisplayName: record.DisplayName,
		fieldRole:        record.Role,
		fieldHash:        record.CredentialHash,
		fieldHistory:     string(history),
		fieldFailed:      record.FailedAttempts,
		fieldMustChange:  boolField(record.MustChangeCredential),
		fieldActive:      boolField(record.Active),
		fieldBanned:      boolField(record.Banned),
		fieldBanReason:   record.BanReason,
		fieldDeleted:     boolField(record.Deleted),
	}
	if !record.LockedUntil.IsZero() {
		values[fieldLockedUntil] = record.LockedUntil.Unix()
	}
	if !record.MustChangeSetAt.IsZero() {
		values[fieldMustChangeAt] = record.MustChangeSetAt.Unix()
	}
	if record.RefreshFingerprint != "" {
		values[fieldRefreshFP] = record.RefreshFingerprint
	}
	if record.PendingMFAFingerprint != "" {
		values[fieldPendingFP] = record.PendingMFAFingerprint
		values[fieldPendingExp] = record.PendingMFAExpiresAt.Unix()
	}
	if !record.LastLogin.IsZero() {
		values[fieldLastLogin] = record.LastLogin.Unix()
	}
	return values
}

func decodeAccount(accountID string, fields map[string]string) (authcore.AccountRecord, error) {
	record := authcore.AccountRecord{
		AccountID:             accountID,
		Identifier:            fields[fieldIdentifier],
		DisplayName:           fields[fieldDisplayName],
		Role:                  fields[fieldRole],
		CredentialHash:        fields[fieldHash],
		BanReason:             fields[fieldBanReason],
		RefreshFingerprint:    fields[fieldRefreshFP],
		PendingMFAFingerprint: fields[fieldPendingFP],
		MustChangeCredential:  fields[fieldMustChange] == "1",
		Active:                fields[fieldActive] == "1",
		Banned:                fields[fieldBanned] == "1",
		Deleted:               fields[fieldDeleted] == "1",
	}

	kind, err := strconv.Atoi(fields[fieldKind])
	if err != nil {
		return authcore.AccountRecord{}, wrapErr(fmt.Errorf("account %s: bad kind: %v", accountID, err))
	}
	record.Kind = authcore.AccountKind(kind)

	if raw := fields[fieldHistory]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &record.CredentialHistory); err != nil {
			return authcore.AccountRecord{}, wrapErr(fmt.Errorf("account %s: bad history: %v", accountID, err))
		}
	}
	if raw := fields[fieldFailed]; raw != "" {
		record.FailedAttempts, _ = strconv.Atoi(raw)
	}
	record.LockedUntil = unixField(fields[fieldLockedUntil])
	record.MustChangeSetAt = unixField(fields[fieldMustChangeAt])
	record.PendingMFAExpiresAt = unixField(fields[fieldPendingExp])
	record.LastLogin = unixField(fields[fieldLastLogin])
	return record, nil
}

func unixField(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// storedProfile is the JSON shape of an MFA profile at rest. Backup code
// hashes are base64 so the blob stays printable.
type storedProfile struct {
	Enabled           bool     `json:"enabled"`
	TOTPSecret        string   `json:"totp_secret,omitempty"`
	TOTPVerified      bool     `json:"totp_verified,omitempty"`
	PendingTOTPSecret string   `json:"pending_totp_secret,omitempty"`
	BackupCodes       []string `json:"backup_codes,omitempty"`

	TrustedDevices []storedDevice `json:"trusted_devices,omitempty"`

	PreferredMethod string `json:"preferred_method,omitempty"`
	Destination     string `json:"destination,omitempty"`

	DeliveredOTPHash      string `json:"delivered_otp_hash,omitempty"`
	DeliveredOTPExpiresAt int64  `json:"delivered_otp_expires_at,omitempty"`

	LastVerifiedAt int64 `json:"last_verified_at,omitempty"`
}

type storedDevice struct {
	DeviceID   string `json:"device_id"`
	AddedAt    int64  `json:"added_at"`
	LastUsedAt int64  `json:"last_used_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

func fromProfile(profile authcore.MFAProfile) storedProfile {
	stored := storedProfile{
		Enabled:           profile.Enabled,
		TOTPSecret:        profile.TOTPSecret,
		TOTPVerified:      profile.TOTPVerified,
		PendingTOTPSecret: profile.PendingTOTPSecret,
		PreferredMethod:   string(profile.PreferredMethod),
		Destination:       profile.Destination,
		DeliveredOTPHash:  profile.DeliveredOTPHash,
	}
	if !profile.DeliveredOTPExpiresAt.IsZero() {
		stored.DeliveredOTPExpiresAt = profile.DeliveredOTPExpiresAt.Unix()
	}
	if !profile.LastVerifiedAt.IsZero() {
		stored.LastVerifiedAt = profile.LastVerifiedAt.Unix()
	}
	for _, code := range profile.BackupCodes {
		stored.BackupCodes = append(stored.BackupCodes, base64.RawURLEncoding.EncodeToString(code.Hash[:]))
	}
	for _, device := range profile.TrustedDevices {
		stored.TrustedDevices = append(stored.TrustedDevices, storedDevice{
			DeviceID:   device.DeviceID,
			AddedAt:    device.AddedAt.Unix(),
			LastUsedAt: device.LastUsedAt.Unix(),
			ExpiresAt:  device.ExpiresAt.Unix(),
		})
	}
	return stored
}

func (s storedProfile) toProfile(accountID string) (authcore.MFAProfile, error) {
	profile := authcore.MFAProfile{
		AccountID:         accountID,
		Enabled:           s.Enabled,
		TOTPSecret:        s.TOTPSecret,
		TOTPVerified:      s.TOTPVerified,
		PendingTOTPSecret: s.PendingTOTPSecret,
		PreferredMethod:   authcore.MFAMethod(s.PreferredMethod),
		Destination:       s.Destination,
		DeliveredOTPHash:  s.DeliveredOTPHash,
	}
	if s.DeliveredOTPExpiresAt != 0 {
		profile.DeliveredOTPExpiresAt = time.Unix(s.DeliveredOTPExpiresAt, 0)
	}
	if s.LastVerifiedAt != 0 {
		profile.LastVerifiedAt = time.Unix(s.LastVerifiedAt, 0)
	}
	for _, encoded := range s.BackupCodes {
		raw, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil || len(raw) != 32 {
			return authcore.MFAProfile{}, wrapErr(fmt.Errorf("account %s: bad backup code hash", accountID))
		}
		var record authcore.BackupCodeRecord
		copy(record.Hash[:], raw)
		profile.BackupCodes = append(profile.BackupCodes, record)
	}
	for _, device := range s.TrustedDevices {
		profile.TrustedDevices = append(profile.TrustedDevices, authcore.TrustedDevice{
			DeviceID:   device.DeviceID,
			AddedAt:    time.Unix(device.AddedAt, 0),
			LastUsedAt: time.Unix(device.LastUsedAt, 0),
			ExpiresAt:  time.Unix(device.ExpiresAt, 0),
		})
	}
	return profile, nil
}
