package authcore

import (
	"fmt"

	"github.com/depotline/authcore/password"
	"github.com/depotline/authcore/token"
)

// Builder assembles an [Engine]. The zero value is not usable; start with
// [New] and chain the With* methods. Build validates the structural
// configuration once; runtime-tunable behavior comes from the
// [SettingsSource] and is re-read on every operation.
type Builder struct {
	config         Config
	configSet      bool
	store          CredentialStore
	settingsSource SettingsSource
	auditSink      AuditSink
	notifier       Notifier
	sender         MessageSender
}

// New returns a Builder primed with [DefaultConfig].
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the structural configuration. Zero-valued fields are
// filled from [DefaultConfig] during Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.configSet = true
	return b
}

// WithStore sets the credential store. Required.
func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithSettingsSource sets the provider of runtime-tunable settings.
// Defaults to a static [DefaultSettings] if unset.
func (b *Builder) WithSettingsSource(src SettingsSource) *Builder {
	b.settingsSource = src
	return b
}

// WithAuditSink directs audit events to the given sink. Without one, audit
// stays disabled regardless of configuration.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithNotifier sets the realtime collaborator used to force-close live
// sessions. Optional; without one, force-logout is a no-op.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithMessageSender sets the out-of-band delivery channel used for login
// OTPs and credential-change notices. Optional.
func (b *Builder) WithMessageSender(s MessageSender) *Builder {
	b.sender = s
	return b
}

// Build validates configuration and constructs the Engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := DefaultConfig()
	if b.configSet {
		cfg = b.config.withDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, fmt.Errorf("%w: credential store is required", ErrEngineNotReady)
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	tokens, err := token.NewManager(token.Config{
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	settings := b.settingsSource
	if settings == nil {
		settings = StaticSettings(DefaultSettings())
	}

	engine := &Engine{
		config:         cfg,
		store:          b.store,
		settingsSource: settings,
		hasher:         hasher,
		tokens:         tokens,
		totp:           newTOTPManager(cfg.MFA),
		metrics:        NewMetrics(cfg.Metrics),
		notifier:       b.notifier,
		sender:         b.sender,
	}
	if cfg.Audit.Enabled && b.auditSink != nil {
		engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	}
	return engine, nil
}
