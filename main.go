// Command backend is the main entrypoint for the clip-surge API server.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the monitoring stack: chat ingestion, viral detection, clip
//     extraction, enrichment, thumbnails, and optional S3 upload.
//   - Exposes the HTTP API with auth, session control, clip serving,
//     live WebSocket updates, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/clip-surge/backend/chat"
	"github.com/onnwee/clip-surge/backend/clip"
	"github.com/onnwee/clip-surge/backend/config"
	"github.com/onnwee/clip-surge/backend/db"
	"github.com/onnwee/clip-surge/backend/enrich"
	"github.com/onnwee/clip-surge/backend/server"
	"github.com/onnwee/clip-surge/backend/session"
	"github.com/onnwee/clip-surge/backend/storage"
	"github.com/onnwee/clip-surge/backend/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("clip-surge", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	migrationCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrationCtx, database); err != nil {
		cancelMigrate()
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	cancelMigrate()
	slog.Info("database migrations completed", slog.String("component", "db_migrate"))

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Output directories
	for _, dir := range []string{cfg.ClipDir, cfg.ThumbnailDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create output dir", slog.String("dir", dir), slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Clip pipeline collaborators
	runner := clip.NewRunner()
	extractor := clip.NewExtractor(runner, cfg.ClipDir)
	thumbnailer := clip.NewThumbnailer(runner, cfg.ThumbnailDir)
	enhancer := enrich.New(cfg.EnrichEndpoint, cfg.EnrichAPIKey)

	var uploader session.Uploader
	if cfg.UploadEnabled() {
		s3, err := storage.NewS3(ctx, storage.Config{
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ClipsBucket:     cfg.S3ClipsBucket,
			ThumbsBucket:    cfg.S3ThumbsBucket,
		})
		if err != nil {
			slog.Error("s3 init failed", slog.Any("err", err))
			os.Exit(1)
		}
		uploader = s3
		slog.Info("s3 upload enabled", slog.String("clips_bucket", cfg.S3ClipsBucket), slog.String("thumbnails_bucket", cfg.S3ThumbsBucket))
	} else {
		slog.Info("s3 upload disabled (set S3_REGION, S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY, S3_CLIPS_BUCKET, S3_THUMBNAILS_BUCKET to enable)")
	}

	registry := session.NewRegistry()
	hub := session.NewHub()
	store := &session.DBStore{DB: database}

	dial := func(dctx context.Context, channel string) (session.ChatStream, error) {
		return chat.Connect(dctx, cfg.ChatEndpoint, cfg.ChatNick, cfg.ChatPass, channel)
	}
	engineCfg := session.Config{
		VelocityThreshold: cfg.VelocityThreshold,
		EnergyThreshold:   cfg.EnergyThreshold,
		Cooldown:          cfg.Cooldown,
		RevenuePerClip:    cfg.RevenuePerClip,
		PublicBaseURL:     cfg.PublicBaseURL,
	}
	newEngine := func(sess *session.Session) *session.Engine {
		return session.NewEngine(sess, engineCfg, dial, extractor, thumbnailer, enhancer, uploader, store, hub)
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	slog.Info("http server starting", slog.String("addr", addr))
	if err := server.Start(ctx, server.Deps{
		DB:        database,
		Registry:  registry,
		Hub:       hub,
		NewEngine: newEngine,
		ClipDir:   cfg.ClipDir,
		ThumbDir:  cfg.ThumbnailDir,
		BaseURL:   cfg.PublicBaseURL,
	}, addr); err != nil {
		os.Exit(1)
	}

	// Stop any engines still running before exit.
	for _, eng := range registry.List() {
		eng.Stop()
	}
	slog.Info("shutdown complete")
}
