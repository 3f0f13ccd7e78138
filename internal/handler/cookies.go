package handler

import (
	"net/http"
	"time"

	"github.com/templui/storeauth/internal/middleware"
	"github.com/templui/storeauth/internal/model"
)

// The refresh cookie is scoped to /auth so it only travels to the refresh
// and logout endpoints.
const refreshCookiePath = "/auth"

func (h *authHandler) setAuthCookies(w http.ResponseWriter, pair *model.TokenPair) {
	h.setAccessCookie(w, pair.AccessToken)
	http.SetCookie(w, h.cookie(middleware.RefreshTokenCookie, pair.RefreshToken, refreshCookiePath, h.cfg.RefreshTokenExpiry))
}

func (h *authHandler) setAccessCookie(w http.ResponseWriter, access string) {
	http.SetCookie(w, h.cookie(middleware.AccessTokenCookie, access, "/", h.cfg.AccessTokenExpiry))
}

func (h *authHandler) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(middleware.AccessTokenCookie, "", "/", -1))
	http.SetCookie(w, h.cookie(middleware.RefreshTokenCookie, "", refreshCookiePath, -1))
}

// cookie builds an auth cookie. A negative maxAge deletes it.
func (h *authHandler) cookie(name, value, path string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   h.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	} else {
		c.MaxAge = int(maxAge.Seconds())
	}
	return c
}
