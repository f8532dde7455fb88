// Command chat-warden is the moderation bot entrypoint. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Joins the configured Twitch channels and feeds every message through
//     the dispatch pipeline (entitlement, moderation, commands).
//   - Keeps the bot's OAuth token fresh in the background.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
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
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/chat-warden/config"
	"github.com/onnwee/chat-warden/db"
	"github.com/onnwee/chat-warden/dispatch"
	"github.com/onnwee/chat-warden/oauth"
	"github.com/onnwee/chat-warden/rostercache"
	"github.com/onnwee/chat-warden/server"
	"github.com/onnwee/chat-warden/store"
	"github.com/onnwee/chat-warden/telemetry"
	"github.com/onnwee/chat-warden/transport"
	"github.com/onnwee/chat-warden/transport/twitchirc"
	"github.com/onnwee/chat-warden/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

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
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-warden", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first, embedded SQL as the fallback for
	// deployments that predate the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	dir := store.NewSQL(database)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Best-effort: confirm app credentials work (client-credentials grant).
	// The app token is not used for chat; it exists for ad hoc Helix lookups.
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		ctx2, cancel := context.WithTimeout(ctx, 8*time.Second)
		if tok, err := twitchapi.NewAppTokenSource(cfg.TwitchClientID, cfg.TwitchClientSecret).Token(ctx2); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
		}
		cancel()
	}

	// Optional Redis-backed roster cache; in-process cache otherwise.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		slog.Info("redis roster cache enabled", slog.String("addr", cfg.RedisAddr))
	}

	// Chat transport. Without credentials the process still serves HTTP so
	// probes and metrics stay up, but no messages flow.
	if err := cfg.ValidateTransportReady(); err != nil {
		slog.Warn("chat transport disabled", slog.Any("err", err))
	} else {
		helixToken := strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:")
		helix := &twitchapi.HelixClient{
			Tokens:   twitchapi.StaticToken(helixToken),
			ClientID: cfg.TwitchClientID,
		}
		adapter := twitchirc.New(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannels, helix)
		roster := rostercache.New(adapter, rdb, cfg.RosterTTL)
		dispatcher := dispatch.New(dir, adapter, roster, dispatch.Options{
			OwnerID:              cfg.OwnerID,
			Prefix:               cfg.CommandPrefix,
			DefaultQuota:         cfg.DefaultQuota,
			DefaultWarnThreshold: cfg.DefaultWarnThreshold,
			CallTimeout:          cfg.TransportCallTimeout,
		})
		adapter.OnMessage(func(msg transport.Message) {
			// Each message runs independently; ordering within a room is
			// preserved by the store's conditional updates, not by the
			// goroutine schedule.
			go dispatcher.HandleMessage(ctx, msg)
		})
		go func() {
			if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("chat transport exited", slog.Any("err", err))
			}
		}()
	}

	// Keep the bot's user token fresh when a refresh token is on file.
	oauth.StartRefresher(ctx, &oauth.DBStore{DB: database}, "twitch", 5*time.Minute, 15*time.Minute,
		func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
		})

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

	// HTTP server (health/status/metrics)
	go func() {
		if err := server.Start(ctx, database, dir, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
