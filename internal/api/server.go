// Package api provides the HTTP server for Grove: the lemon tree and quiz
// endpoints, the account ledger, and the database instance lifecycle API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grovekit/grove/internal/app/capacity"
	"github.com/grovekit/grove/internal/app/harvest"
	"github.com/grovekit/grove/internal/app/instance"
	"github.com/grovekit/grove/internal/app/ledger"
	"github.com/grovekit/grove/internal/app/quiz"
	"github.com/grovekit/grove/internal/app/tree"
	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/observability"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

// Server is the Grove HTTP API server.
type Server struct {
	db             *sqlite.DB
	ledger         *ledger.Service
	pool           *tree.Pool
	quiz           *quiz.Engine
	harvest        *harvest.Arbiter
	instances      *instance.Manager
	capacity       *capacity.Controller
	metricsEnabled bool
}

// NewServer creates an API server over the assembled services.
func NewServer(db *sqlite.DB, led *ledger.Service, pool *tree.Pool, qz *quiz.Engine, hv *harvest.Arbiter, mgr *instance.Manager, capc *capacity.Controller) *Server {
	return &Server{
		db:        db,
		ledger:    led,
		pool:      pool,
		quiz:      qz,
		harvest:   hv,
		instances: mgr,
		capacity:  capc,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public, no account required.
		r.Get("/lemon/global-status", s.handleGlobalStatus)
		r.Get("/db/presets", s.handlePresets)
		r.Post("/db/estimate-cost", s.handleEstimateCost)
		r.Get("/system/resources", s.handleSystemResources)
		r.Get("/stats/global", s.handleGlobalStats)

		// Account-scoped.
		r.Group(func(r chi.Router) {
			r.Use(s.withAccount)

			r.Get("/account", s.handleAccount)
			r.Get("/account/transactions", s.handleTransactions)

			r.Get("/lemon/harvestable", s.handleHarvestable)
			r.Get("/quiz/{positionID}", s.handleStartQuiz)
			r.Post("/quiz/answer", s.handleSubmitAnswer)
			r.Post("/lemon/harvest", s.handleHarvest)

			r.Get("/db/instances", s.handleListInstances)
			r.Post("/db/instances", s.handleCreateInstance)
			r.Get("/db/instances/{id}", s.handleGetInstance)
			r.Delete("/db/instances/{id}", s.handleDeleteInstance)
			r.Post("/db/instances/{id}/stop", s.handleStopInstance)
			r.Post("/db/instances/{id}/start", s.handleStartInstance)
		})
	})

	return r
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps a service error onto its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrCooldownActive):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrWindowExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrNotReserver),
		errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrInstanceNotFound),
		errors.Is(err, domain.ErrPresetNotFound),
		errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPositionNotAvailable),
		errors.Is(err, domain.ErrAlreadyHarvested),
		errors.Is(err, domain.ErrAlreadyAttempting),
		errors.Is(err, domain.ErrAttemptAlreadyTerminal),
		errors.Is(err, domain.ErrOwnerQuotaExceeded),
		errors.Is(err, domain.ErrInsufficientCapacity),
		errors.Is(err, domain.ErrInstanceNameConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrStorageFull):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInstanceSpec),
		errors.Is(err, domain.ErrQuestionBankEmpty):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pathInt(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	return n, err == nil
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Account-ID, X-Account-Email")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware counts requests by route pattern and status code.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		observability.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
	})
}
