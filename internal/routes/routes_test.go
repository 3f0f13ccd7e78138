package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/templui/storeauth/internal/app"
	"github.com/templui/storeauth/internal/config"
	"github.com/templui/storeauth/internal/db/dbtest"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type user struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

func testConfig() *config.Config {
	return &config.Config{
		AppName:                  "Storefront",
		AppEnv:                   "development",
		AppURL:                   "https://shop.example.com",
		JWTIssuer:                "storeauth",
		AccessTokenSecret:        "access-secret-for-tests",
		AccessTokenExpiry:        15 * time.Minute,
		RefreshTokenSecret:       "refresh-secret-for-tests",
		RefreshTokenExpiry:       time.Hour,
		TokenEmailVerifyExpiry:   24 * time.Hour,
		TokenPasswordResetExpiry: time.Hour,
		PasswordMinLength:        6,
		RequireVerifiedLogin:     true,
		ExposeVerificationToken:  true,
		CSRFEnabled:              true,
		RateLimitAuthRequests:    100,
		RateLimitAuthWindow:      15 * time.Minute,
		SessionCleanupInterval:   time.Hour,
		EmailTransport:           "log",
		EmailFrom:                "noreply@example.com",
		MetricsEnabled:           true,
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) (*app.App, http.Handler) {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	a, err := app.Wire(cfg, dbtest.New(t))
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	router := SetupRoutes(a)
	t.Cleanup(router.Stop)
	return a, router
}

func do(t *testing.T, h http.Handler, method, path string, body any, bearer string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: body %q is not an envelope: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, env
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func unmarshal(t *testing.T, raw json.RawMessage, dst any) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
}

// registerAndVerify creates an active account and returns its id.
func registerAndVerify(t *testing.T, h http.Handler, email, password string) string {
	t.Helper()
	rec, env := do(t, h, http.MethodPost, "/auth/register", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	expectStatus(t, rec, http.StatusCreated)

	var data struct {
		User              user   `json:"user"`
		VerificationToken string `json:"verification_token"`
	}
	unmarshal(t, env.Data, &data)
	if data.VerificationToken == "" {
		t.Fatal("verification token not exposed")
	}

	rec, _ = do(t, h, http.MethodGet, "/auth/verify-email/"+data.VerificationToken, nil, "")
	expectStatus(t, rec, http.StatusOK)
	return data.User.ID
}

func login(t *testing.T, h http.Handler, identifier, password string) tokens {
	t.Helper()
	rec, env := do(t, h, http.MethodPost, "/auth/login", map[string]string{
		"identifier": identifier,
		"password":   password,
	}, "")
	expectStatus(t, rec, http.StatusOK)

	var data struct {
		Tokens tokens `json:"tokens"`
	}
	unmarshal(t, env.Data, &data)
	return data.Tokens
}

func TestAuthFlow(t *testing.T) {
	_, h := newTestServer(t)

	rec, env := do(t, h, http.MethodPost, "/auth/register", map[string]string{
		"email":    "Alice@Example.com",
		"password": "tiger42",
	}, "")
	expectStatus(t, rec, http.StatusCreated)
	if !env.Success {
		t.Fatalf("register envelope = %+v", env)
	}
	var reg struct {
		User              user   `json:"user"`
		VerificationToken string `json:"verification_token"`
	}
	unmarshal(t, env.Data, &reg)
	if reg.User.Email != "alice@example.com" || reg.User.Role != "buyer" || reg.User.Status != "pending_verification" {
		t.Fatalf("registered user = %+v", reg.User)
	}

	// Duplicate email regardless of case.
	rec, env = do(t, h, http.MethodPost, "/auth/register", map[string]string{
		"email":    "ALICE@example.com",
		"password": "tiger42",
	}, "")
	expectStatus(t, rec, http.StatusConflict)
	if env.Success {
		t.Fatal("duplicate register reported success")
	}

	// Unverified accounts cannot log in.
	rec, _ = do(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "tiger42",
	}, "")
	expectStatus(t, rec, http.StatusForbidden)

	rec, _ = do(t, h, http.MethodGet, "/auth/verify-email/"+reg.VerificationToken, nil, "")
	expectStatus(t, rec, http.StatusOK)

	// Verification tokens are single use.
	rec, _ = do(t, h, http.MethodGet, "/auth/verify-email/"+reg.VerificationToken, nil, "")
	expectStatus(t, rec, http.StatusBadRequest)

	first := login(t, h, "alice@example.com", "tiger42")
	if first.AccessToken == "" || first.RefreshToken == "" {
		t.Fatalf("login tokens = %+v", first)
	}

	rec, env = do(t, h, http.MethodGet, "/auth/profile", nil, first.AccessToken)
	expectStatus(t, rec, http.StatusOK)
	var profile struct {
		User           user `json:"user"`
		ActiveSessions int  `json:"active_sessions"`
	}
	unmarshal(t, env.Data, &profile)
	if profile.ActiveSessions != 1 || profile.User.Status != "active" {
		t.Fatalf("profile = %+v", profile)
	}

	rec, env = do(t, h, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, "")
	expectStatus(t, rec, http.StatusOK)
	var second tokens
	unmarshal(t, env.Data, &second)
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh did not rotate: %+v", second)
	}

	// Reusing the rotated token is a replay and revokes every session.
	rec, env = do(t, h, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, "")
	expectStatus(t, rec, http.StatusUnauthorized)
	if env.Success || env.Message == "" {
		t.Fatalf("replay envelope = %+v", env)
	}
	rec, _ = do(t, h, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": second.RefreshToken}, "")
	expectStatus(t, rec, http.StatusUnauthorized)

	third := login(t, h, "alice@example.com", "tiger42")

	rec, env = do(t, h, http.MethodPost, "/auth/switch-role", map[string]string{"role": "seller"}, third.AccessToken)
	expectStatus(t, rec, http.StatusOK)
	var switched struct {
		User        user   `json:"user"`
		AccessToken string `json:"access_token"`
	}
	unmarshal(t, env.Data, &switched)
	if switched.User.Role != "seller" || switched.AccessToken == "" {
		t.Fatalf("switch-role = %+v", switched)
	}

	rec, _ = do(t, h, http.MethodPost, "/auth/switch-role", map[string]string{"role": "admin"}, switched.AccessToken)
	expectStatus(t, rec, http.StatusBadRequest)

	rec, env = do(t, h, http.MethodGet, "/auth/me", nil, switched.AccessToken)
	expectStatus(t, rec, http.StatusOK)
	unmarshal(t, env.Data, &profile)
	if profile.User.Role != "seller" {
		t.Fatalf("me role = %q, want seller", profile.User.Role)
	}

	rec, _ = do(t, h, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": third.RefreshToken}, switched.AccessToken)
	expectStatus(t, rec, http.StatusOK)

	rec, _ = do(t, h, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": third.RefreshToken}, "")
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestLogin_UniformFailures(t *testing.T) {
	_, h := newTestServer(t)
	registerAndVerify(t, h, "bob@example.com", "hunter22")

	recWrong, envWrong := do(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "wrong-password",
	}, "")
	recUnknown, envUnknown := do(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "wrong-password",
	}, "")

	expectStatus(t, recWrong, http.StatusUnauthorized)
	expectStatus(t, recUnknown, http.StatusUnauthorized)
	if envWrong.Message != envUnknown.Message {
		t.Fatalf("messages differ: %q vs %q", envWrong.Message, envUnknown.Message)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	a, h := newTestServer(t)
	registerAndVerify(t, h, "carol@example.com", "hunter22")
	session := login(t, h, "carol@example.com", "hunter22")

	recKnown, _ := do(t, h, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "carol@example.com"}, "")
	recUnknown, _ := do(t, h, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "ghost@example.com"}, "")
	expectStatus(t, recKnown, http.StatusOK)
	expectStatus(t, recUnknown, http.StatusOK)
	if recKnown.Body.String() != recUnknown.Body.String() {
		t.Fatalf("forgot-password bodies differ:\n%s\n%s", recKnown.Body.String(), recUnknown.Body.String())
	}

	resetToken, err := a.AuthService.ForgotPassword(context.Background(), "carol@example.com")
	if err != nil || resetToken == "" {
		t.Fatalf("ForgotPassword = %q, %v", resetToken, err)
	}

	rec, _ := do(t, h, http.MethodPost, "/auth/reset-password", map[string]string{
		"token":    resetToken,
		"password": "abc",
	}, "")
	expectStatus(t, rec, http.StatusBadRequest)

	rec, _ = do(t, h, http.MethodPost, "/auth/reset-password?token="+resetToken, map[string]string{
		"password": "n3w-secret",
	}, "")
	expectStatus(t, rec, http.StatusOK)

	rec, _ = do(t, h, http.MethodPost, "/auth/reset-password", map[string]string{
		"token":    resetToken,
		"password": "other-secret1",
	}, "")
	expectStatus(t, rec, http.StatusBadRequest)

	// Existing sessions die with the old password.
	rec, _ = do(t, h, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": session.RefreshToken}, "")
	expectStatus(t, rec, http.StatusUnauthorized)

	rec, _ = do(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    "carol@example.com",
		"password": "hunter22",
	}, "")
	expectStatus(t, rec, http.StatusUnauthorized)
	login(t, h, "carol@example.com", "n3w-secret")
}

func TestAdminSuspend(t *testing.T) {
	a, h := newTestServer(t)
	adminID := registerAndVerify(t, h, "admin@example.com", "hunter22")
	targetID := registerAndVerify(t, h, "dave@example.com", "hunter22")

	if _, err := a.DB.Exec(`UPDATE users SET role = 'admin' WHERE id = ?`, adminID); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	admin := login(t, h, "admin@example.com", "hunter22")
	target := login(t, h, "dave@example.com", "hunter22")

	rec, env := do(t, h, http.MethodPost, "/admin/users/"+adminID+"/suspend", nil, target.AccessToken)
	expectStatus(t, rec, http.StatusForbidden)
	if env.Message != "insufficient permissions" {
		t.Fatalf("message = %q", env.Message)
	}

	rec, _ = do(t, h, http.MethodPost, "/admin/users/"+targetID+"/suspend", nil, "")
	expectStatus(t, rec, http.StatusUnauthorized)

	rec, _ = do(t, h, http.MethodPost, "/admin/users/does-not-exist/suspend", nil, admin.AccessToken)
	expectStatus(t, rec, http.StatusNotFound)

	rec, env = do(t, h, http.MethodPost, "/admin/users/"+targetID+"/suspend", nil, admin.AccessToken)
	expectStatus(t, rec, http.StatusOK)
	var suspended user
	unmarshal(t, env.Data, &suspended)
	if suspended.Status != "suspended" {
		t.Fatalf("status = %q, want suspended", suspended.Status)
	}

	rec, _ = do(t, h, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": target.RefreshToken}, "")
	expectStatus(t, rec, http.StatusUnauthorized)

	rec, _ = do(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    "dave@example.com",
		"password": "hunter22",
	}, "")
	expectStatus(t, rec, http.StatusForbidden)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	_, h := newTestServer(t)

	for _, path := range []string{"/auth/profile", "/auth/me"} {
		rec, env := do(t, h, http.MethodGet, path, nil, "")
		expectStatus(t, rec, http.StatusUnauthorized)
		if env.Success || env.Message != "authentication required" {
			t.Fatalf("%s envelope = %+v", path, env)
		}
	}

	rec, _ := do(t, h, http.MethodGet, "/auth/profile", nil, "not-a-jwt")
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestValidationErrors(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"register bad email", "/auth/register", map[string]string{"email": "not-an-email", "password": "tiger42"}},
		{"register weak password", "/auth/register", map[string]string{"email": "erin@example.com", "password": "abc"}},
		{"login missing identifier", "/auth/login", map[string]string{"password": "tiger42"}},
		{"forgot missing email", "/auth/forgot-password", map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodPost, tt.path, tt.body, "")
			expectStatus(t, rec, http.StatusBadRequest)
			if env.Success || env.Message == "" {
				t.Fatalf("envelope = %+v", env)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, h := newTestServer(t)

	rec, _ := do(t, h, http.MethodGet, "/health", nil, "")
	expectStatus(t, rec, http.StatusOK)

	registerAndVerify(t, h, "frank@example.com", "hunter22")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "storeauth_registrations_total") {
		t.Fatalf("metrics output missing registrations counter")
	}
}

func TestUnknownRoute(t *testing.T) {
	_, h := newTestServer(t)

	rec, env := do(t, h, http.MethodGet, "/nope", nil, "")
	expectStatus(t, rec, http.StatusNotFound)
	if env.Success {
		t.Fatal("unknown route reported success")
	}
}

func TestCookieSession(t *testing.T) {
	_, h := newTestServer(t)
	registerAndVerify(t, h, "gina@example.com", "hunter22")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"gina@example.com","password":"hunter22"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	access, refresh, csrf := cookies["access_token"], cookies["refresh_token"], cookies["csrf_token"]
	if access == nil || refresh == nil || csrf == nil {
		t.Fatalf("missing cookies: %v", cookies)
	}
	if !access.HttpOnly || !refresh.HttpOnly {
		t.Fatal("session cookies must be HttpOnly")
	}
	if refresh.Path != "/auth" {
		t.Fatalf("refresh cookie path = %q", refresh.Path)
	}

	// Cookie-authenticated reads need no CSRF header.
	req = httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.AddCookie(access)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	// Cookie-authenticated writes do.
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(access)
	req.AddCookie(refresh)
	req.AddCookie(csrf)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusForbidden)

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(access)
	req.AddCookie(refresh)
	req.AddCookie(csrf)
	req.Header.Set("X-CSRF-Token", csrf.Value)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	for _, c := range rec.Result().Cookies() {
		if (c.Name == "access_token" || c.Name == "refresh_token") && c.MaxAge >= 0 {
			t.Fatalf("cookie %s not cleared: %+v", c.Name, c)
		}
	}

	// The refresh cookie was revoked by logout.
	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(refresh)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestRateLimit_ForwardedHeaders(t *testing.T) {
	attempt := func(h http.Handler, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"nobody@example.com","password":"wrong-pass"}`))
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	limitTo2 := func(cfg *config.Config) { cfg.RateLimitAuthRequests = 2 }

	t.Run("untrusted headers are ignored", func(t *testing.T) {
		_, h := newTestServer(t, limitTo2)
		attempt(h, "203.0.113.1")
		attempt(h, "203.0.113.2")
		if code := attempt(h, "203.0.113.3"); code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429 despite rotating X-Forwarded-For", code)
		}
	})

	t.Run("trusted headers key the limiter", func(t *testing.T) {
		_, h := newTestServer(t, limitTo2, func(cfg *config.Config) { cfg.TrustProxyHeaders = true })
		attempt(h, "203.0.113.1")
		attempt(h, "203.0.113.1")
		if code := attempt(h, "203.0.113.2"); code == http.StatusTooManyRequests {
			t.Fatal("a different forwarded client was throttled")
		}
		if code := attempt(h, "203.0.113.1"); code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429 for the repeated client", code)
		}
	})
}

func TestRefresh_SuspendedOwner(t *testing.T) {
	a, h := newTestServer(t)
	id := registerAndVerify(t, h, "hank@example.com", "hunter22")
	session := login(t, h, "hank@example.com", "hunter22")

	if _, err := a.DB.Exec(`UPDATE users SET status = 'suspended' WHERE id = ?`, id); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	rec, env := do(t, h, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": session.RefreshToken}, "")
	expectStatus(t, rec, http.StatusForbidden)
	if env.Success || env.Message == "" {
		t.Fatalf("envelope = %+v", env)
	}
}
