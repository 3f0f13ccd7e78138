package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/templui/storeauth/internal/ctxkeys"
	"github.com/templui/storeauth/internal/middleware"
	"github.com/templui/storeauth/internal/service"
)

type adminHandler struct {
	userService *service.UserService
}

func NewAdminHandler(userService *service.UserService) *adminHandler {
	return &adminHandler{userService: userService}
}

func (h *adminHandler) SuspendUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.SuspendUser(r.Context(), ctxkeys.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, r, http.StatusOK, "user suspended", newUserResponse(user))
}
