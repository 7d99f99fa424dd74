// Package server exposes the HTTP API: auth, session control, clip serving,
// live WebSocket updates, and metrics. It includes configurable CORS and
// injects correlation IDs into request contexts for consistent logging.
package server

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/clip-surge/backend/session"
	"github.com/onnwee/clip-surge/backend/telemetry"
)

// Deps carries everything the HTTP layer needs.
type Deps struct {
	DB       *sql.DB
	Registry *session.Registry
	Hub      *session.Hub
	// NewEngine builds a monitoring engine for a fresh session.
	NewEngine func(sess *session.Session) *session.Engine
	ClipDir   string
	ThumbDir  string
	BaseURL   string
}

// NewMux returns the HTTP handler with all routes.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	corsCfg := loadCORSConfig()
	h := NewHandlers(ctx, deps)

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)

	mux.HandleFunc("/api/auth/register", h.HandleRegister)
	mux.HandleFunc("/api/auth/login", h.HandleLogin)
	mux.HandleFunc("/api/auth/me", h.requireAuth(h.HandleMe))

	mux.HandleFunc("/api/start-monitoring", h.requireAuth(h.HandleStartMonitoring))
	mux.HandleFunc("/api/stop-monitoring/", h.HandleStopMonitoring)
	mux.HandleFunc("/api/create-clip-now", h.requireAuth(h.HandleCreateClipNow))
	mux.HandleFunc("/api/status/", h.HandleStatus)
	mux.HandleFunc("/api/clips/", h.HandleSessionClips)
	mux.HandleFunc("/api/sessions", h.HandleSessions)
	mux.HandleFunc("/api/stats", h.HandleStats)
	mux.HandleFunc("/api/all-clips", h.HandleAllClips)

	mux.HandleFunc("/api/serve-clip/", h.HandleServeClip)
	mux.HandleFunc("/api/serve-thumbnail/", h.HandleServeThumbnail)
	mux.HandleFunc("/api/download/", h.HandleDownload)

	mux.HandleFunc("/ws/live-data/", h.HandleLiveData)

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack forwards to the underlying writer so WebSocket upgrades work
// through the wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
