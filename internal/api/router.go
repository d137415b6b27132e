package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/lidorpahima/llmshield/internal/api/middleware"
	"github.com/lidorpahima/llmshield/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth         *mw.Auth
	InternalAuth *mw.InternalAuth
	RateLimit    *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	GetKeyHandler    http.HandlerFunc
	UpdateKeyHandler http.HandlerFunc
	DeleteKeyHandler http.HandlerFunc

	ListActivityHandler   http.HandlerFunc
	ResolveKeyHandler     http.HandlerFunc
	RecordActivityHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
// Dashboard routes are JWT-authenticated and rate limited; the internal
// routes the remote gateway calls are guarded by the shared secret.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Dashboard routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/keys", orNotImplemented(deps.CreateKeyHandler))
		r.Get("/api/v1/keys", orNotImplemented(deps.ListKeysHandler))
		r.Get("/api/v1/keys/{keyID}", orNotImplemented(deps.GetKeyHandler))
		r.Patch("/api/v1/keys/{keyID}", orNotImplemented(deps.UpdateKeyHandler))
		r.Delete("/api/v1/keys/{keyID}", orNotImplemented(deps.DeleteKeyHandler))

		r.Get("/api/v1/activity", orNotImplemented(deps.ListActivityHandler))
	})

	// Internal routes, called by the remote gateway
	r.Group(func(r chi.Router) {
		r.Use(deps.InternalAuth.Authenticate)

		r.Get("/api/internal/resolve-key", orNotImplemented(deps.ResolveKeyHandler))
		r.Post("/api/internal/log", orNotImplemented(deps.RecordActivityHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
