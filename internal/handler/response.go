package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/templui/storeauth/internal/middleware"
	"github.com/templui/storeauth/internal/model"
	"github.com/templui/storeauth/internal/service"
	"github.com/templui/storeauth/internal/token"
)

var errEmptyBody = errors.New("request body is empty")

// decode reads a JSON body into dst and validates its struct tags. It writes
// a 400 response and returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any, allowEmpty bool) bool {
	err := render.DecodeJSON(r.Body, dst)
	if errors.Is(err, io.EOF) {
		if !allowEmpty {
			middleware.WriteError(w, r, http.StatusBadRequest, errEmptyBody.Error())
			return false
		}
		err = nil
	}
	if err != nil {
		slog.DebugContext(r.Context(), "failed to decode request body", "error", err)
		middleware.WriteError(w, r, http.StatusBadRequest, "failed to decode request")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validateErr validator.ValidationErrors
		if errors.As(err, &validateErr) {
			middleware.WriteError(w, r, http.StatusBadRequest, validationMessage(validateErr))
			return false
		}
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid request")
		return false
	}

	return true
}

func validationMessage(errs validator.ValidationErrors) string {
	var msgs []string
	for _, err := range errs {
		field := strings.ToLower(err.Field())
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", field))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s is not a valid email", field))
		case "max":
			msgs = append(msgs, fmt.Sprintf("field %s must be at most %s characters", field, err.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of: %s", field, err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", field))
		}
	}
	return strings.Join(msgs, ", ")
}

// writeServiceError maps service errors to status codes. Unexpected errors
// are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
		middleware.WriteInternalServerError(w, r)
		return
	}
	middleware.WriteError(w, r, status, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": ")
	case errors.Is(err, service.ErrDuplicateEmail):
		return http.StatusConflict, service.ErrDuplicateEmail.Error()
	case errors.Is(err, service.ErrDuplicateUsername):
		return http.StatusConflict, service.ErrDuplicateUsername.Error()
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, service.ErrInvalidCredentials.Error()
	case errors.Is(err, service.ErrAccountSuspended):
		return http.StatusForbidden, service.ErrAccountSuspended.Error()
	case errors.Is(err, service.ErrEmailNotVerified):
		return http.StatusForbidden, service.ErrEmailNotVerified.Error()
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, service.ErrForbidden.Error()
	case errors.Is(err, service.ErrSessionExpired), errors.Is(err, service.ErrSessionNotFound):
		return http.StatusUnauthorized, service.ErrSessionExpired.Error()
	case errors.Is(err, token.ErrExpiredToken), errors.Is(err, token.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid or expired token"
	case errors.Is(err, service.ErrInvalidVerificationToken):
		return http.StatusBadRequest, service.ErrInvalidVerificationToken.Error()
	case errors.Is(err, service.ErrInvalidOrExpiredResetToken):
		return http.StatusBadRequest, service.ErrInvalidOrExpiredResetToken.Error()
	case errors.Is(err, service.ErrInvalidRoleTransition):
		return http.StatusBadRequest, service.ErrInvalidRoleTransition.Error()
	case errors.Is(err, service.ErrInvalidStatusTransition):
		return http.StatusBadRequest, service.ErrInvalidStatusTransition.Error()
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, service.ErrUserNotFound.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

type userResponse struct {
	ID              string       `json:"id"`
	Email           string       `json:"email"`
	Username        string       `json:"username"`
	Role            model.Role   `json:"role"`
	Status          model.Status `json:"status"`
	EmailVerified   bool         `json:"email_verified"`
	EmailVerifiedAt *time.Time   `json:"email_verified_at,omitempty"`
	LastLoginAt     *time.Time   `json:"last_login_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		Username:        u.Username,
		Role:            u.Role,
		Status:          u.Status,
		EmailVerified:   u.EmailVerifiedAt != nil,
		EmailVerifiedAt: u.EmailVerifiedAt,
		LastLoginAt:     u.LastLoginAt,
		CreatedAt:       u.CreatedAt,
	}
}

type tokensResponse struct {
	TokenType             string    `json:"token_type"`
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token,omitempty"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at,omitzero"`
}

func newTokensResponse(pair *model.TokenPair) tokensResponse {
	return tokensResponse{
		TokenType:             "Bearer",
		AccessToken:           pair.AccessToken,
		AccessTokenExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresAt: pair.RefreshExpiresAt,
	}
}
