// Package api serves the request/response surface of the queue: fetch, add
// and invalidate per category, plus health, metrics and shard and peer inspection.
//
// Every queue route checks the Authorization header against the allow-list
// before the category is resolved, so an unauthenticated caller cannot probe
// which categories exist.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/comboq/internal/auth"
	"github.com/dreamware/comboq/internal/combo"
	"github.com/dreamware/comboq/internal/events"
)

// maxAddBody caps the size of an add request body.
const maxAddBody = 32 << 20

// Options configures the handler.
type Options struct {
	Registry *combo.Registry
	Auth     *auth.AllowList
	// Workers bounds the number of queue requests processed at once.
	// Zero means unbounded.
	Workers int
	// Events, when set, is mounted at /events outside the worker limit.
	Events http.Handler
	// Metrics, when set, replaces the default Prometheus handler.
	Metrics http.Handler
	// Peers, when set, serves GET /peers.
	Peers PeerLister
}

// PeerLister reports the keepalive state of connected event peers.
type PeerLister interface {
	Peers() []events.PeerHealth
}

type server struct {
	registry *combo.Registry
	auth     *auth.AllowList
	peers    PeerLister
}

// NewHandler builds the router.
func NewHandler(opts Options) http.Handler {
	s := &server{registry: opts.Registry, auth: opts.Auth, peers: opts.Peers}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(requestMetrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)
	if opts.Events != nil {
		r.Handle("/events", opts.Events)
	}

	r.Group(func(r chi.Router) {
		if opts.Workers > 0 {
			r.Use(middleware.Throttle(opts.Workers))
		}
		r.Use(s.requireAuth)
		r.Get("/fetch/{category}", s.handleFetch)
		r.Post("/add/{category}", s.handleAdd)
		r.Post("/invalidate/{category}", s.handleInvalidate)
		r.Get("/shards", s.handleShards)
		if s.peers != nil {
			r.Get("/peers", s.handlePeers)
		}
	})
	return r
}

type response struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
	Skipped int      `json:"skipped,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		clog.FromContext(r.Context()).Warnf("Failed to write response: %v", err)
	}
}

func failure(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, response{Success: false, Message: message})
}

func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.AnyAllowed(r.Header.Values("Authorization")) {
			clog.FromContext(r.Context()).Debug("Rejected unauthenticated request")
			failure(w, r, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// store resolves the category path parameter, writing a 404 when unknown.
func (s *server) store(w http.ResponseWriter, r *http.Request) (*combo.Store, bool) {
	st, err := s.registry.Store(chi.URLParam(r, "category"))
	if err != nil {
		failure(w, r, http.StatusNotFound, err.Error())
		return nil, false
	}
	return st, true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := clog.FromContext(r.Context()).With("method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(clog.WithLogger(r.Context(), log)))
	})
}
