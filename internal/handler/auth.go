package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/templui/storeauth/internal/config"
	"github.com/templui/storeauth/internal/ctxkeys"
	"github.com/templui/storeauth/internal/middleware"
	"github.com/templui/storeauth/internal/model"
	"github.com/templui/storeauth/internal/service"
)

type authHandler struct {
	authService *service.AuthService
	userService *service.UserService
	cfg         *config.Config
	validate    *validator.Validate
}

func NewAuthHandler(authService *service.AuthService, userService *service.UserService, cfg *config.Config, validate *validator.Validate) *authHandler {
	return &authHandler{
		authService: authService,
		userService: userService,
		cfg:         cfg,
		validate:    validate,
	}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
	Username string `json:"username,omitempty" validate:"omitempty,max=64"`
}

type registerResponse struct {
	User              userResponse `json:"user"`
	VerificationToken string       `json:"verification_token,omitempty"`
}

func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, h.validate, &req, false) {
		return
	}

	res, err := h.authService.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	data := registerResponse{User: newUserResponse(res.User)}
	if h.cfg.ExposeVerificationToken {
		data.VerificationToken = res.VerificationToken
	}
	middleware.WriteJSON(w, r, http.StatusCreated, "registration successful, please verify your email", data)
}

// loginRequest accepts the identifier under any of three names.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password" validate:"required,max=1024"`
}

func (req loginRequest) identifier() string {
	for _, v := range []string{req.Identifier, req.Email, req.Username} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type loginResponse struct {
	User   userResponse   `json:"user"`
	Tokens tokensResponse `json:"tokens"`
}

func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, h.validate, &req, false) {
		return
	}
	identifier := req.identifier()
	if identifier == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "field identifier is required")
		return
	}

	res, err := h.authService.Login(r.Context(), identifier, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.setAuthCookies(w, res.Tokens)
	middleware.WriteJSON(w, r, http.StatusOK, "login successful", loginResponse{
		User:   newUserResponse(res.User),
		Tokens: newTokensResponse(res.Tokens),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *authHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, h.validate, &req, true) {
		return
	}

	raw := h.refreshTokenFrom(r, req.RefreshToken)
	if raw == "" {
		middleware.WriteError(w, r, http.StatusUnauthorized, service.ErrSessionExpired.Error())
		return
	}

	pair, err := h.authService.Refresh(r.Context(), raw)
	if err != nil {
		h.clearAuthCookies(w)
		writeServiceError(w, r, err)
		return
	}

	h.setAuthCookies(w, pair)
	middleware.WriteJSON(w, r, http.StatusOK, "token refreshed", newTokensResponse(pair))
}

func (h *authHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, r, http.StatusOK, "email verified", newUserResponse(user))
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (h *authHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, h.validate, &req, false) {
		return
	}

	_, err := h.authService.ResendVerification(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, r, http.StatusOK, "if the account is awaiting verification, a new link has been sent", nil)
}

func (h *authHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, h.validate, &req, false) {
		return
	}

	_, err := h.authService.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, r, http.StatusOK, "if the email is registered, a password reset link has been sent", nil)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password" validate:"required"`
}

func (h *authHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decode(w, r, h.validate, &req, false) {
		return
	}
	// The emailed link carries the token in the query string.
	if req.Token == "" {
		req.Token = r.URL.Query().Get("token")
	}

	err := h.authService.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.clearAuthCookies(w)
	middleware.WriteJSON(w, r, http.StatusOK, "password has been reset, please log in again", nil)
}

type switchRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type switchRoleResponse struct {
	User                 userResponse `json:"user"`
	AccessToken          string       `json:"access_token"`
	AccessTokenExpiresAt time.Time    `json:"access_token_expires_at"`
}

func (h *authHandler) SwitchRole(w http.ResponseWriter, r *http.Request) {
	var req switchRoleRequest
	if !decode(w, r, h.validate, &req, false) {
		return
	}

	user, err := h.userService.SwitchRole(r.Context(), ctxkeys.UserID(r.Context()), model.Role(strings.TrimSpace(req.Role)))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	access, expiresAt, err := h.authService.IssueAccessToken(user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.setAccessCookie(w, access)
	middleware.WriteJSON(w, r, http.StatusOK, "role updated", switchRoleResponse{
		User:                 newUserResponse(user),
		AccessToken:          access,
		AccessTokenExpiresAt: expiresAt,
	})
}

type profileResponse struct {
	User           userResponse `json:"user"`
	ActiveSessions int          `json:"active_sessions"`
}

func (h *authHandler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.userService.Profile(r.Context(), ctxkeys.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, r, http.StatusOK, "profile retrieved", profileResponse{
		User:           newUserResponse(profile.User),
		ActiveSessions: profile.ActiveSessions,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decode(w, r, h.validate, &req, true) {
		return
	}

	raw := h.refreshTokenFrom(r, req.RefreshToken)
	err := h.authService.Logout(r.Context(), ctxkeys.UserID(r.Context()), raw, req.All)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.clearAuthCookies(w)
	middleware.WriteJSON(w, r, http.StatusOK, "logged out", nil)
}

// refreshTokenFrom prefers the body value over the cookie.
func (h *authHandler) refreshTokenFrom(r *http.Request, body string) string {
	if body = strings.TrimSpace(body); body != "" {
		return body
	}
	cookie, err := r.Cookie(middleware.RefreshTokenCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}
