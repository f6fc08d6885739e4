package authcore_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/depotline/authcore"
	"github.com/depotline/authcore/credstore"
	"github.com/depotline/authcore/password"
)

// settingsStub is a mutable SettingsSource so tests can retune limits
// mid-flight the way a live admin change would.
type settingsStub struct {
	mu sync.Mutex
	s  authcore.Settings
}

func (st *settingsStub) Load(context.Context) (authcore.Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s, nil
}

func (st *settingsStub) set(s authcore.Settings) {
	st.mu.Lock()
	st.s = s
	st.mu.Unlock()
}

type forcedLogout struct {
	Key    string
	Reason string
}

// stubNotifier records force-logout calls.
type stubNotifier struct {
	mu    sync.Mutex
	calls []forcedLogout
}

func (n *stubNotifier) ForceLogout(identityKey, reason string) {
	n.mu.Lock()
	n.calls = append(n.calls, forcedLogout{Key: identityKey, Reason: reason})
	n.mu.Unlock()
}

func (n *stubNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type sentMessage struct {
	Destination string
	Template    authcore.MessageTemplate
	Data        map[string]string
}

// stubSender captures outbound messages.
type stubSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *stubSender) Send(destination string, template authcore.MessageTemplate, data map[string]string) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentMessage{Destination: destination, Template: template, Data: data})
	s.mu.Unlock()
	return nil
}

func (s *stubSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

type testEnv struct {
	engine   *authcore.Engine
	store    *credstore.Store
	hasher   *password.Argon2
	settings *settingsStub
	notifier *stubNotifier
	sender   *stubSender
}

func testSettings() authcore.Settings {
	s := authcore.DefaultSettings()
	s.MaxLoginAttempts = 3
	s.LockoutDurationMinutes = 15
	return s
}

func testConfig(t *testing.T) authcore.Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}

	cfg := authcore.DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false
	return cfg
}

func fastHasher(t *testing.T) *password.Argon2 {
	t.Helper()
	hasher, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return hasher
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestEnv(t *testing.T, cfg authcore.Config) *testEnv {
	t.Helper()

	store := credstore.NewStore(newTestRedis(t), "t")
	settings := &settingsStub{s: testSettings()}
	notifier := &stubNotifier{}
	sender := &stubSender{}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(store).
		WithSettingsSource(settings).
		WithNotifier(notifier).
		WithMessageSender(sender).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine:   engine,
		store:    store,
		hasher:   fastHasher(t),
		settings: settings,
		notifier: notifier,
		sender:   sender,
	}
}

// seedAccount writes a fully specified record straight into the store,
// hashing the secret with the test hasher first.
func (env *testEnv) seedAccount(t *testing.T, record authcore.AccountRecord, secret string) string {
	t.Helper()

	if record.AccountID == "" {
		record.AccountID = uuid.NewString()
	}
	hash, err := env.hasher.Hash(secret)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	record.CredentialHash = hash

	if err := env.store.CreateAccount(context.Background(), record); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return record.AccountID
}

func (env *testEnv) seedUser(t *testing.T, identifier, secret string) string {
	t.Helper()
	return env.seedAccount(t, authcore.AccountRecord{
		Kind:        authcore.KindStandardUser,
		Identifier:  identifier,
		DisplayName: identifier,
		Role:        "member",
		Active:      true,
	}, secret)
}

func (env *testEnv) seedDriver(t *testing.T, plate, pin string) string {
	t.Helper()
	canonical, ok := authcore.NormalizePlate(plate)
	if !ok {
		t.Fatalf("NormalizePlate rejected %q", plate)
	}
	return env.seedAccount(t, authcore.AccountRecord{
		Kind:       authcore.KindDriver,
		Identifier: canonical,
		Role:       "driver",
		Active:     true,
	}, pin)
}

func mustLogin(t *testing.T, env *testEnv, identifier, secret string) *authcore.LoginResult {
	t.Helper()
	result, err := env.engine.Login(context.Background(), identifier, secret, "")
	if err != nil {
		t.Fatalf("Login(%q) failed: %v", identifier, err)
	}
	return result
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
