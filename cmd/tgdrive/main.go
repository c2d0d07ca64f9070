// Telegram Drive daemon
//
// Features:
// - Local command API (JWT bearer auth) for folders, files and sign-in
// - Streaming bridge serving media over HTTP for players
// - Daily bandwidth quota (JSON file or PostgreSQL)
// - Prometheus metrics & structured logging (zap)
// - SSE change feed
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/gotd/td/telegram"

	"github.com/caamer20/Telegram-Drive/internal/api"
	"github.com/caamer20/Telegram-Drive/internal/auth"
	"github.com/caamer20/Telegram-Drive/internal/bandwidth"
	tgbackend "github.com/caamer20/Telegram-Drive/internal/backend/telegram"
	"github.com/caamer20/Telegram-Drive/internal/config"
	"github.com/caamer20/Telegram-Drive/internal/drive"
	"github.com/caamer20/Telegram-Drive/internal/events"
	"github.com/caamer20/Telegram-Drive/internal/fsutil"
	"github.com/caamer20/Telegram-Drive/internal/lifecycle"
	"github.com/caamer20/Telegram-Drive/internal/logging"
	"github.com/caamer20/Telegram-Drive/internal/metrics"
	"github.com/caamer20/Telegram-Drive/internal/preview"
	"github.com/caamer20/Telegram-Drive/internal/stream"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Telegram Drive daemon starting...",
		zap.String("api", cfg.APIAddr),
		zap.String("stream", cfg.StreamAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		logging.Fatal("create data dir failed", zap.Error(err))
	}

	// Bandwidth store
	var store bandwidth.Store
	switch cfg.BandwidthStore {
	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database open failed", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		pg := bandwidth.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			logging.Fatal("bandwidth migration failed", zap.Error(err))
		}
		go cleanupBandwidth(ctx, pg, cfg.BandwidthRetention)
		store = pg
	default:
		store = bandwidth.NewFileStore(cfg.BandwidthPath())
	}
	meter := bandwidth.New(ctx, store, cfg.DailyQuota)
	logging.Info("bandwidth accountant initialized",
		zap.String("store", cfg.BandwidthStore),
		zap.String("limit", bandwidth.FormatBytes(meter.Limit())))

	// Session lifecycle
	connector := tgbackend.Connector{Device: telegram.DeviceConfig{
		DeviceModel:   "Telegram Drive",
		SystemVersion: runtime.GOOS,
		AppVersion:    api.Version,
	}}
	sessions := lifecycle.New(lifecycle.Config{
		SessionPath:  cfg.SessionPath(),
		Grace:        cfg.ListenerGrace,
		MaxFloodWait: cfg.MaxFloodWait,
	}, connector, nil)

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()

	// Drive operations
	svc := drive.New(drive.Config{
		ScanRate:     cfg.ScanRate,
		ScanBurst:    cfg.ScanBurst,
		ProbeAddr:    cfg.ProbeAddr,
		ProbeTimeout: cfg.ProbeTimeout,
	}, sessions, meter, preview.NewCache(cfg.CacheDir), broadcaster)

	// Command API auth; local clients read the token file.
	authHandler, err := auth.New(cfg.APISecret, cfg.APITokenTTL)
	if err != nil {
		logging.Fatal("auth init failed", zap.Error(err))
	}
	token, expires, err := authHandler.IssueToken("local")
	if err != nil {
		logging.Fatal("issue api token failed", zap.Error(err))
	}
	if err := fsutil.WriteFile(cfg.TokenPath(), []byte(token+"\n"), 0600); err != nil {
		logging.Fatal("write api token failed", zap.Error(err))
	}
	logging.Info("api token written",
		zap.String("path", cfg.TokenPath()),
		zap.Time("expires", expires))

	// Reconnect with the configured app id, as a restarted UI would.
	if cfg.AppID != 0 {
		if _, err := sessions.EnsureInitialized(ctx, cfg.AppID); err != nil {
			logging.Error("auto-connect failed", zap.Int("app_id", cfg.AppID), zap.Error(err))
		}
	}

	// Start metrics server
	metricsServer := newMetricsServer(cfg.MetricsAddr)
	if metricsServer != nil {
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	} else {
		logging.Info("metrics server disabled")
	}

	// Start streaming bridge
	streamServer := &http.Server{
		Addr:    cfg.StreamAddr,
		Handler: stream.NewServer(sessions, meter).Handler(),
	}
	go func() {
		logging.Info("stream server listening", zap.String("addr", cfg.StreamAddr))
		if err := streamServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("stream server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewServer(sessions, svc, authHandler, broadcaster).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go reloadOnHangup(ctx)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		streamServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			metricsServer.Close()
		}
		sessions.Close()
	}()

	logging.Info("api server listening", zap.String("addr", cfg.APIAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	<-stopped
	logging.Info("stopped")
}

// newMetricsServer returns nil when addr is empty, which disables metrics.
func newMetricsServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	return &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// cleanupBandwidth drops old daily rows once an hour.
func cleanupBandwidth(ctx context.Context, pg *bandwidth.PostgresStore, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := pg.CleanupOld(ctx, retention); err != nil {
				logging.Error("bandwidth cleanup failed", zap.Error(err))
			} else if n > 0 {
				logging.Info("cleaned old bandwidth records", zap.Int64("count", n))
			}
		}
	}
}

// reloadOnHangup re-reads the configuration on SIGHUP and applies the log
// level. Other settings need a restart.
func reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		cfg, err := config.Load()
		if err != nil {
			logging.Error("config reload failed", zap.Error(err))
			continue
		}
		if err := logging.SetLevel(cfg.LogLevel); err != nil {
			logging.Error("config reload failed", zap.Error(err))
			continue
		}
		logging.Info("configuration reloaded", zap.String("log_level", logging.Level()))
	}
}
