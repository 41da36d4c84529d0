package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	wsadapter "hotlympics/adapters/websocket"
	"hotlympics/backoffice"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup evicts limiters of clients idle for this long.
	RateLimitCleanup time.Duration
	// CacheMaxAge is the default freshness window for leaderboard reads.
	CacheMaxAge time.Duration
	// PreloadImages warms leaderboard images after a refresh.
	PreloadImages bool
	// Leaderboards is the set refreshed when refresh-many gets no ids.
	Leaderboards []string
	// MetricsPath serves Prometheus metrics when the service has them.
	MetricsPath string
	Logger      *slog.Logger
}

type api struct {
	svc    *backoffice.Service
	opts   Options
	logger *slog.Logger
}

// NewMux builds an http.Handler exposing the admin REST API and WebSocket stream.
// Routes (under {prefix}):
//   - GET    /healthz, /activity, /state
//   - GET    /leaderboards, /leaderboards/{id}
//   - POST   /leaderboards/refresh, /leaderboards/{id}/refresh, /leaderboards/{id}/ensure
//   - DELETE /leaderboards, /leaderboards/{id}
//   - GET    /users, /users/{userId}
//   - POST   /users, /users/{userId}/expand, /users/{userId}/delete-request, /users/{userId}/delete-confirm
//   - DELETE /users/{userId}, /users/{userId}/delete-request
//   - DELETE /photos/{imageId}?userId=
//   - POST   /photos/{imageId}/pool
//   - POST   /modal, DELETE /modal
//   - WS     /ws
func NewMux(svc *backoffice.Service, opts Options) http.Handler {
	if opts.CacheMaxAge <= 0 {
		opts.CacheMaxAge = 5 * time.Minute
	}
	a := &api{svc: svc, opts: opts, logger: opts.Logger}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	root := mux.NewRouter()
	if svc.Metrics != nil {
		root.Use(svc.Metrics.Middleware)
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		root.Handle(path, svc.Metrics.Handler()).Methods(http.MethodGet)
	}

	base := root
	if p := strings.TrimSuffix(opts.PathPrefix, "/"); p != "" {
		base = root.PathPrefix(p).Subrouter()
	}
	base.HandleFunc("/healthz", a.health).Methods(http.MethodGet)

	r := base.NewRoute().Subrouter()
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		r.Use(newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup).middleware)
	}
	if len(opts.APIKeys) > 0 {
		r.Use(apiKeyAuth(opts.APIKeys))
	}

	if svc.Hub != nil {
		r.Handle("/ws", wsadapter.Handler(svc.Hub)).Methods(http.MethodGet)
	}
	r.HandleFunc("/activity", a.activity).Methods(http.MethodGet)
	r.HandleFunc("/state", a.state).Methods(http.MethodGet)

	r.HandleFunc("/leaderboards", a.listLeaderboards).Methods(http.MethodGet)
	r.HandleFunc("/leaderboards", a.clearLeaderboards).Methods(http.MethodDelete)
	r.HandleFunc("/leaderboards/refresh", a.refreshLeaderboards).Methods(http.MethodPost)
	r.HandleFunc("/leaderboards/{id}", a.getLeaderboard).Methods(http.MethodGet)
	r.HandleFunc("/leaderboards/{id}", a.clearLeaderboard).Methods(http.MethodDelete)
	r.HandleFunc("/leaderboards/{id}/refresh", a.refreshLeaderboard).Methods(http.MethodPost)
	r.HandleFunc("/leaderboards/{id}/ensure", a.ensureLeaderboard).Methods(http.MethodPost)

	r.HandleFunc("/users", a.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/users", a.createUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{userId}", a.userDetails).Methods(http.MethodGet)
	r.HandleFunc("/users/{userId}", a.deleteUser).Methods(http.MethodDelete)
	r.HandleFunc("/users/{userId}/expand", a.expandUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{userId}/delete-request", a.requestDelete).Methods(http.MethodPost)
	r.HandleFunc("/users/{userId}/delete-request", a.cancelDelete).Methods(http.MethodDelete)
	r.HandleFunc("/users/{userId}/delete-confirm", a.confirmDelete).Methods(http.MethodPost)

	r.HandleFunc("/photos/{imageId}", a.deletePhoto).Methods(http.MethodDelete)
	r.HandleFunc("/photos/{imageId}/pool", a.togglePool).Methods(http.MethodPost)
	r.HandleFunc("/modal", a.openModal).Methods(http.MethodPost)
	r.HandleFunc("/modal", a.closeModal).Methods(http.MethodDelete)

	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})

	var handler http.Handler = root
	if opts.AllowCORSOrigin != "" {
		handler = gorillahandlers.CORS(
			gorillahandlers.AllowedOrigins([]string{opts.AllowCORSOrigin}),
			gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
			gorillahandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-API-Key"}),
		)(handler)
	}
	return handler
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, apiError{Code: code, Message: msg, Details: details})
}
