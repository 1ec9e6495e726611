package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"solfind/observability"
)

type ObservabilityConfig struct {
	ServiceName string
	LogRequests bool
}

// Observability records per-route metrics, traces every request and writes
// one access log line per request.
type Observability struct {
	cfg    ObservabilityConfig
	logger *slog.Logger
}

func NewObservability(cfg ObservabilityConfig, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "solfind-gateway"
	}
	return &Observability{cfg: cfg, logger: logger}
}

// Trace wraps the router in an otelhttp handler. Spans are renamed to the
// matched route once routing is done.
func (o *Observability) Trace(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, o.cfg.ServiceName)
}

func (o *Observability) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(recorder, r)

		route := routePattern(r)
		status := recorder.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		span := trace.SpanFromContext(r.Context())
		span.SetName(r.Method + " " + route)
		span.SetAttributes(attribute.String("http.route", route))

		observability.Gateway().Observe(r.Method+" "+route, status, duration)
		if !o.cfg.LogRequests {
			return
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		o.logger.LogAttrs(r.Context(), level, "request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", recorder.BytesWritten()),
			slog.Duration("duration", duration),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("remote", r.RemoteAddr),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
