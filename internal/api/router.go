package api

import (
	"log/slog"
	"net/http"

	"github.com/bcnelson/stacks/internal/api/handler"
	"github.com/bcnelson/stacks/internal/api/middleware"
	"github.com/bcnelson/stacks/internal/notify"
	"github.com/bcnelson/stacks/internal/storage"
	"github.com/bcnelson/stacks/internal/validation"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Roles names the groups whose members may call protected endpoints.
type Roles struct {
	Packager []string
	Admin    []string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(
	store storage.Storage,
	publisher notify.Publisher,
	authn *middleware.Authenticator,
	roles Roles,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	v := validation.New()
	stackHandler := handler.NewStackHandler(store, publisher, v, logger)
	dirHandler := handler.NewDirectoryHandler(store, v, logger)
	keyHandler := handler.NewAPIKeyHandler(store, v, logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentType)

		// Stack reads are public
		r.Get("/stacks", stackHandler.List)
		r.Get("/stacks/", stackHandler.List)
		r.Get("/stacks/{name}", stackHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware)

			// Stack writes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireGroups(roles.Packager, false))
				r.Post("/stacks", stackHandler.Save)
				r.Post("/stacks/", stackHandler.Save)
				r.Delete("/stacks/{name}", stackHandler.Delete)
			})

			// Directory
			r.Get("/users/{name}", dirHandler.GetUser)
			r.Get("/groups/{name}", dirHandler.GetGroup)

			// Administration
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireGroups(roles.Admin, true))
				r.Put("/users/{name}", dirHandler.SetUserGroups)
				r.Post("/keys", keyHandler.Create)
				r.Get("/keys", keyHandler.List)
				r.Delete("/keys/{id}", keyHandler.Delete)
			})
		})
	})

	return r
}
