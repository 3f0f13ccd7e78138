package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/storeauth/internal/db/dbtest"
	"github.com/templui/storeauth/internal/metrics"
	"github.com/templui/storeauth/internal/repository"
	"github.com/templui/storeauth/internal/service/mailer"
	"github.com/templui/storeauth/internal/token"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeSender records messages and optionally fails.
type fakeSender struct {
	mu       sync.Mutex
	messages []mailer.Message
	SendFunc func(msg mailer.Message) error
}

func (f *fakeSender) Send(ctx context.Context, msg mailer.Message) error {
	if f.SendFunc != nil {
		if err := f.SendFunc(msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) sent(kind string) []mailer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mailer.Message
	for _, m := range f.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type fakeRecorder struct {
	metrics.Noop
	replays atomic.Int64
	resets  atomic.Int64
}

func (r *fakeRecorder) RecordRefreshReplay() { r.replays.Add(1) }
func (r *fakeRecorder) RecordPasswordReset() { r.resets.Add(1) }

type testEnv struct {
	auth          *AuthService
	users         *UserService
	sessions      *SessionManager
	userRepo      repository.UserRepository
	refreshTokens repository.RefreshTokenRepository
	codec         *token.Codec
	db            *sqlx.DB
	clock         *testClock
	sender        *fakeSender
	recorder      *fakeRecorder
}

func newTestEnv(t *testing.T, opts ...func(*AuthConfig)) *testEnv {
	t.Helper()

	database := dbtest.New(t)
	clock := &testClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "storeauth",
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	cfg := AuthConfig{
		PasswordMinLength:    6,
		RequireVerifiedLogin: true,
		VerificationTTL:      24 * time.Hour,
		ResetTTL:             time.Hour,
		BcryptCost:           bcrypt.MinCost,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	userRepo := repository.NewUserRepository(database)
	refreshTokens := repository.NewRefreshTokenRepository(database)
	transactor := repository.NewTransactor(database)
	sender := &fakeSender{}
	recorder := &fakeRecorder{}
	emailService := NewEmailService(sender, "https://shop.example.com", "Shop")
	sessions := NewSessionManager(userRepo, refreshTokens, transactor, codec, clock.Now)

	return &testEnv{
		auth:          NewAuthService(userRepo, refreshTokens, transactor, sessions, codec, emailService, recorder, cfg, clock.Now),
		users:         NewUserService(userRepo, refreshTokens, transactor, sessions, emailService, clock.Now),
		sessions:      sessions,
		userRepo:      userRepo,
		refreshTokens: refreshTokens,
		codec:         codec,
		db:            database,
		clock:         clock,
		sender:        sender,
		recorder:      recorder,
	}
}

// deleteUser removes a user row directly; refresh tokens cascade.
func (e *testEnv) deleteUser(t *testing.T, id string) {
	t.Helper()
	if _, err := e.db.ExecContext(context.Background(), `DELETE FROM users WHERE id = $1`, id); err != nil {
		t.Fatalf("delete user: %v", err)
	}
}

// register creates a user and returns the raw verification token.
func (e *testEnv) register(t *testing.T, email, password string) *RegisterResult {
	t.Helper()
	res, err := e.auth.Register(context.Background(), RegisterInput{Email: email, Password: password})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return res
}

// activeUser registers, verifies and logs in a user.
func (e *testEnv) activeUser(t *testing.T, email, password string) *LoginResult {
	t.Helper()
	res := e.register(t, email, password)
	if _, err := e.auth.VerifyEmail(context.Background(), res.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	login, err := e.auth.Login(context.Background(), email, password)
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return login
}

func assertErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
}
