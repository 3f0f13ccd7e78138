package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/templui/storeauth/internal/app"
	"github.com/templui/storeauth/internal/handler"
	"github.com/templui/storeauth/internal/metrics"
	"github.com/templui/storeauth/internal/middleware"
	"github.com/templui/storeauth/internal/model"
)

// Router is the HTTP surface plus the background state it owns.
type Router struct {
	http.Handler
	rateLimiter *middleware.RateLimiter
}

// Stop releases the rate limiter's cleanup goroutine.
func (r *Router) Stop() {
	r.rateLimiter.Stop()
}

func SetupRoutes(app *app.App) *Router {
	validate := validator.New(validator.WithRequiredStructEnabled())

	// Handlers
	auth := handler.NewAuthHandler(app.AuthService, app.UserService, app.Cfg, validate)
	admin := handler.NewAdminHandler(app.UserService)
	health := handler.NewHealthHandler(app.DB)

	rateLimiter := middleware.NewRateLimiter(app.Cfg.RateLimitAuthRequests, app.Cfg.RateLimitAuthWindow)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	if app.Cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.Config(app.Cfg))
	r.Use(middleware.Authenticate(app.Codec))
	r.Use(middleware.RequestLogging(app.Metrics))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders(app.Cfg))
	if app.Cfg.CSRFEnabled {
		r.Use(middleware.CSRFProtection)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	r.Get("/health", health.Health)
	if app.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(app.MetricsGatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		// Rate limited
		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Middleware)
			r.Post("/register", auth.Register)
			r.Post("/login", auth.Login)
			r.Post("/refresh", auth.Refresh)
			r.Post("/resend-verification", auth.ResendVerification)
			r.Post("/forgot-password", auth.ForgotPassword)
			r.Post("/reset-password", auth.ResetPassword)
		})

		r.Get("/verify-email/{token}", auth.VerifyEmail)

		// ========================================================================
		// PROTECTED ROUTES
		// ========================================================================

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Post("/switch-role", auth.SwitchRole)
			r.Get("/profile", auth.Profile)
			r.Get("/me", auth.Profile)
			r.Post("/logout", auth.Logout)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireRole(string(model.RoleAdmin)))
		r.Post("/users/{id}/suspend", admin.SuspendUser)
	})

	return &Router{Handler: r, rateLimiter: rateLimiter}
}
