package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/templui/storeauth/internal/middleware"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type healthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *healthHandler {
	return &healthHandler{db: db}
}

func (h *healthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		slog.ErrorContext(r.Context(), "health check failed", "error", err)
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	middleware.WriteJSON(w, r, http.StatusOK, "ok", nil)
}
