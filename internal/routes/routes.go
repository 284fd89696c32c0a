package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/stanstork/formvault-api/internal/authz"
	"github.com/stanstork/formvault-api/internal/handlers"
	"github.com/stanstork/formvault-api/internal/models"
)

type Handlers struct {
	Auth          *handlers.AuthHandler
	Exports       *handlers.ExportHandler
	Migrations    *handlers.MigrationHandler
	Syncs         *handlers.SyncHandler
	Notifications *handlers.NotificationHandler
	Ready         http.HandlerFunc
}

// NewRouter sets up the API routes. Everything under /api requires an admin token.
func NewRouter(hs Handlers) *mux.Router {
	router := mux.NewRouter()

	// Health check routes
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	if hs.Ready != nil {
		router.HandleFunc("/health/ready", hs.Ready).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(hs.Auth.JWTMiddleware)
	api.Use(authz.RequireRole(models.RoleAdmin))

	api.Handle("/exports", gzipped(http.HandlerFunc(hs.Exports.Start))).Methods(http.MethodPost)
	api.HandleFunc("/exports/{jobID}", hs.Exports.Progress).Methods(http.MethodGet)
	api.Handle("/exports/{jobID}/download", gzipped(http.HandlerFunc(hs.Exports.Download))).Methods(http.MethodGet)
	api.HandleFunc("/exports/{jobID}", hs.Exports.Delete).Methods(http.MethodDelete)

	api.HandleFunc("/migrations/legacy", hs.Migrations.Trigger).Methods(http.MethodPost)
	api.HandleFunc("/migrations/legacy", hs.Migrations.Progress).Methods(http.MethodGet)

	api.HandleFunc("/entries/{entryID}/sync", hs.Syncs.Enqueue).Methods(http.MethodPost)

	api.HandleFunc("/notifications", hs.Notifications.List).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID}/read", hs.Notifications.MarkRead).Methods(http.MethodPost)

	return router
}

// gzipped compresses streamed inline exports and downloads when the client accepts it.
func gzipped(h http.Handler) http.Handler {
	return gzhttp.GzipHandler(h)
}
