package handler

import (
	"net/http"

	"github.com/dandantas/studyrunner/internal/metrics"
	"github.com/dandantas/studyrunner/pkg/middleware"
)

// Router handles HTTP routing
type Router struct {
	jobHandler    *JobHandler
	userHandler   *UserHandler
	adminHandler  *AdminHandler
	healthHandler *HealthHandler
	corsConfig    middleware.CORSConfig
}

// NewRouter creates a new router
func NewRouter(
	jobHandler *JobHandler,
	userHandler *UserHandler,
	adminHandler *AdminHandler,
	healthHandler *HealthHandler,
	corsConfig middleware.CORSConfig,
) *Router {
	return &Router{
		jobHandler:    jobHandler,
		userHandler:   userHandler,
		adminHandler:  adminHandler,
		healthHandler: healthHandler,
		corsConfig:    corsConfig,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", rt.healthHandler.Health)
	mux.HandleFunc("/ready", rt.healthHandler.Ready)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc(jobsPrefix, rt.handleJobs)
	mux.HandleFunc(jobsPrefix+"/", rt.jobHandler.route)
	mux.HandleFunc(usersPrefix, rt.handleUsers)
	mux.HandleFunc(usersPrefix+"/", rt.userHandler.route)
	mux.HandleFunc("/api/v1/admin/recover", rt.adminHandler.Recover)

	// Apply middleware (CORS innermost so preflight requests still get a correlation ID)
	handler := middleware.CORS(rt.corsConfig)(mux)
	handler = middleware.Recovery(handler)
	handler = middleware.Logging(handler)
	handler = middleware.CorrelationID(handler)

	return handler
}

// handleJobs routes job collection endpoints
func (rt *Router) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.jobHandler.List(w, r)
	case http.MethodPost:
		rt.jobHandler.Create(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleUsers routes user collection endpoints
func (rt *Router) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.userHandler.List(w, r)
	case http.MethodPost:
		rt.userHandler.Create(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
