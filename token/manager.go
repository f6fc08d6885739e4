package token

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWT signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA keys. Default.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	typAccess  = "access"
	typRefresh = "refresh"
)

// ErrExpired reports a structurally valid, correctly signed token whose
// lifetime has passed. Callers treat this differently from ErrMalformed:
// an expired token means re-authenticate, not retry.
var ErrExpired = errors.New("token expired")

// ErrMalformed reports a token that failed parsing or signature
// verification, or one presented to the wrong verifier (access where a
// refresh is expected, or vice versa).
var ErrMalformed = errors.New("token malformed or signature invalid")

// Config carries the signing material. TTLs are deliberately absent: they
// are administrator-tunable and passed per issuance so a settings change
// takes effect without a restart.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Payload is what an access token carries about its subject.
type Payload struct {
	AccountID   string
	DisplayName string
	Role        string
}

// AccessClaims is the decoded access token body.
type AccessClaims struct {
	DisplayName string `json:"name,omitempty"`
	Role        string `json:"role,omitempty"`
	TokenType   string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the decoded refresh token body. Refresh tokens carry a
// random identifier so that two tokens minted in the same second for the
// same subject never collide, which would defeat fingerprint rotation.
type RefreshClaims struct {
	TokenType string `json:"typ"`
	Nonce     string `json:"rnd"`
	jwt.RegisteredClaims
}

// Pair is a freshly issued access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Manager issues and verifies the signed token pair. Safe for concurrent
// use after construction.
type Manager struct {
	config Config
}

// NewManager validates the signing configuration and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// IssuePair mints a signed access/refresh pair for the payload. TTLs come
// from the caller on every invocation.
func (m *Manager) IssuePair(p Payload, nonce string, accessTTL, refreshTTL time.Duration) (Pair, error) {
	if p.AccountID == "" {
		return Pair{}, errors.New("empty account id")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return Pair{}, errors.New("invalid TTL")
	}

	now := time.Now()

	access := jwt.NewWithClaims(m.getMethod(), AccessClaims{
		DisplayName: p.DisplayName,
		Role:        p.Role,
		TokenType:   typAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.AccountID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTTL)),
		},
	})
	refresh := jwt.NewWithClaims(m.getMethod(), RefreshClaims{
		TokenType: typRefresh,
		Nonce:     nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.AccountID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(refreshTTL)),
		},
	})

	signKey, err := m.getSignKey()
	if err != nil {
		return Pair{}, err
	}

	accessStr, err := access.SignedString(signKey)
	if err != nil {
		return Pair{}, err
	}
	refreshStr, err := refresh.SignedString(signKey)
	if err != nil {
		return Pair{}, err
	}

	return Pair{AccessToken: accessStr, RefreshToken: refreshStr}, nil
}

// VerifyAccess checks signature and expiry of an access token.
func (m *Manager) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != typAccess {
		return nil, ErrMalformed
	}
	return claims, nil
}

// VerifyRefresh checks signature and expiry of a refresh token,
// distinguishing [ErrExpired] from [ErrMalformed].
func (m *Manager) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != typRefresh {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Fingerprint is the deterministic one-way hash persisted in place of a
// refresh token. Equal inputs always produce equal output; it is never
// reversed, only compared.
func Fingerprint(tokenStr string) [32]byte {
	return sha256.Sum256([]byte(tokenStr))
}

// EncodeFingerprint renders a fingerprint for storage as a string field.
func EncodeFingerprint(fp [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(fp[:])
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.config.Leeway),
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.getVerifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return ErrMalformed
	}
	if !parsed.Valid {
		return ErrMalformed
	}
	return nil
}

func (m *Manager) getMethod() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) getSignKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) getVerifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
