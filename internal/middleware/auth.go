package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/templui/storeauth/internal/ctxkeys"
	"github.com/templui/storeauth/internal/token"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// Authenticate verifies the access token from the Authorization header or,
// failing that, the access_token cookie and adds its claims to the context.
// Requests without a valid token continue anonymously.
func Authenticate(codec *token.Codec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, via := accessTokenFrom(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := codec.VerifyAccess(raw)
			if err != nil {
				reason := "invalid"
				if errors.Is(err, token.ErrExpiredToken) {
					reason = "expired"
				}
				slog.DebugContext(r.Context(), "access token rejected", "reason", reason, "via", via, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			ctx := ctxkeys.WithClaims(r.Context(), claims)
			ctx = ctxkeys.WithAuthVia(ctx, via)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessTokenFrom(r *http.Request) (string, string) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), ctxkeys.AuthViaBearer
		}
	}

	cookie, err := r.Cookie(AccessTokenCookie)
	if err == nil && cookie.Value != "" {
		return cookie.Value, ctxkeys.AuthViaCookie
	}

	return "", ""
}

// RequireAuth rejects anonymous requests. The response is the same whether
// the token was missing, expired or tampered with.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctxkeys.Claims(r.Context()) == nil {
			WriteError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects anonymous requests with 401 and callers whose role is
// not one of roles with 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ctxkeys.Claims(r.Context())
			if claims == nil {
				WriteError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !slices.Contains(roles, claims.Role) {
				slog.WarnContext(r.Context(), "role not allowed", "user_id", claims.UserID, "role", claims.Role, "path", r.URL.Path)
				WriteError(w, r, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
