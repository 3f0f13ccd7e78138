package ctxkeys

import (
	"context"

	"github.com/templui/storeauth/internal/config"
	"github.com/templui/storeauth/internal/token"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	ClaimsKey    contextKey = "claims"
	ConfigKey    contextKey = "config"
	CSRFTokenKey contextKey = "csrf_token"
	AuthViaKey   contextKey = "auth_via"
)

// How the access token reached the server.
const (
	AuthViaBearer = "bearer"
	AuthViaCookie = "cookie"
)

// Claims returns the verified access token claims, or nil for anonymous requests.
func Claims(ctx context.Context) *token.AccessClaims {
	claims, _ := ctx.Value(ClaimsKey).(*token.AccessClaims)
	return claims
}

func WithClaims(ctx context.Context, claims *token.AccessClaims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// UserID returns the authenticated user's id or "".
func UserID(ctx context.Context) string {
	if claims := Claims(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}

func AuthVia(ctx context.Context) string {
	via, _ := ctx.Value(AuthViaKey).(string)
	return via
}

func WithAuthVia(ctx context.Context, via string) context.Context {
	return context.WithValue(ctx, AuthViaKey, via)
}

func Config(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(ConfigKey).(*config.Config)
	return cfg
}

func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, ConfigKey, cfg)
}

func CSRFToken(ctx context.Context) string {
	csrf, _ := ctx.Value(CSRFTokenKey).(string)
	return csrf
}

func WithCSRFToken(ctx context.Context, csrf string) context.Context {
	return context.WithValue(ctx, CSRFTokenKey, csrf)
}
