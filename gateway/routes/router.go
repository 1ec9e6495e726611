// Package routes is the gateway's HTTP surface: wallet sessions, report
// listings, finder submissions and the live event stream.
package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solfind/client"
	"solfind/core/events"
	"solfind/gateway/auth"
	"solfind/gateway/middleware"
	"solfind/services/submissions"
)

// Rate limit groups.
const (
	GroupAuth        = "auth"
	GroupReports     = "reports"
	GroupSubmissions = "submissions"
)

// Chain reads a report's on-chain state.
type Chain interface {
	Snapshot(ctx context.Context, report solana.PublicKey) (*client.Snapshot, error)
}

type Config struct {
	Listings      *submissions.Service
	Chain         Chain
	Auth          *auth.Authenticator
	Stream        *events.Broadcaster
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	// Verbose appends raw diagnostics to error messages.
	Verbose bool
	// Ready reports whether dependencies are reachable for /healthz.
	Ready func(context.Context) error
}

type handler struct {
	listings      *submissions.Service
	chain         Chain
	auth          *auth.Authenticator
	stream        *events.Broadcaster
	streamOrigins []string
	logger        *slog.Logger
	verbose       bool
	ready         func(context.Context) error
	validate      *validator.Validate
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Listings == nil {
		return nil, errors.New("routes: listings service required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("routes: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		listings:      cfg.Listings,
		chain:         cfg.Chain,
		auth:          cfg.Auth,
		stream:        cfg.Stream,
		streamOrigins: originPatterns(cfg.CORS.AllowedOrigins),
		logger:        logger.With(slog.String("component", "gateway")),
		verbose:       cfg.Verbose,
		ready:         cfg.Ready,
		validate:      validator.New(),
	}

	limit := func(group string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(group)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(g chi.Router) {
			g.Use(limit(GroupAuth))
			g.Post("/auth/challenge", h.challenge)
			g.Post("/auth/session", h.session)
		})
		v1.Group(func(g chi.Router) {
			g.Use(limit(GroupReports))
			g.Get("/reports", h.listReports)
			g.Get("/reports/{address}", h.getReport)
		})
		v1.Group(func(g chi.Router) {
			g.Use(middleware.RequireWallet(cfg.Auth, h.logger))
			g.Use(limit(GroupSubmissions))
			g.Post("/reports/{address}/submissions", h.submit)
			g.Get("/reports/{address}/submissions", h.listSubmissions)
			g.Post("/submissions/{id}/approve", h.approve)
			g.Delete("/submissions/{id}", h.remove)
		})
		if cfg.Stream != nil {
			v1.Get("/stream", h.streamEvents)
		}
	})

	if obs != nil {
		return obs.Trace(r), nil
	}
	return r, nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("health check failed", slog.Any("error", err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// originPatterns converts CORS origins to websocket host patterns.
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return []string{"*"}
		}
		if i := strings.Index(origin, "://"); i >= 0 {
			origin = origin[i+3:]
		}
		origin = strings.TrimRight(origin, "/")
		if origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
