package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/garde/audit"
	"github.com/hazyhaar/garde/dbopen"
	"github.com/hazyhaar/garde/dedup"
	"github.com/hazyhaar/garde/shield"
	"github.com/hazyhaar/garde/simscore"
	_ "modernc.org/sqlite"
)

func main() {
	port := env("PORT", "8090")
	auditPath := env("AUDIT_DB", "db/audit.db")
	appPath := env("APP_DB", "db/app.db")
	configPath := env("CONFIG", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Audit DB.
	auditDB, err := dbopen.Open(auditPath, dbopen.WithMkdirAll(), dbopen.WithBusyTimeout(5000))
	if err != nil {
		slog.Error("audit db", "error", err)
		os.Exit(1)
	}
	defer auditDB.Close()
	if err := audit.Init(auditDB); err != nil {
		slog.Error("audit init", "error", err)
		os.Exit(1)
	}
	sink := audit.New(auditDB, 256)
	defer sink.Close()

	// Application DB (candidate population).
	appDB, err := dbopen.Open(appPath, dbopen.WithMkdirAll(), dbopen.WithBusyTimeout(5000))
	if err != nil {
		slog.Error("app db", "error", err)
		os.Exit(1)
	}
	defer appDB.Close()
	source, err := newCandidateSource(appDB)
	if err != nil {
		slog.Error("candidate source", "error", err)
		os.Exit(1)
	}

	// Scoring and detection engine.
	scorer := simscore.New(simscore.Config{
		Weights:    cfg.Scorer.Weights,
		Thresholds: cfg.Scorer.Thresholds,
	})
	engineOpts := []dedup.Option{dedup.WithScorer(scorer)}
	if cfg.Dedup.Blocking == "domain" {
		engineOpts = append(engineOpts, dedup.WithBlocking(dedup.DomainKey))
	}
	engine := dedup.New(source, sink, dedup.Config{
		CheckThreshold: cfg.Dedup.CheckThreshold,
		ScanTimeout:    time.Duration(cfg.Dedup.ScanTimeoutSeconds) * time.Second,
		Parallelism:    cfg.Dedup.Parallelism,
		Logger:         logger,
	}, engineOpts...)

	// Rate limiting with persistent blocks.
	blocklist := shield.NewBlocklist(ctx, sink, logger)
	blocklist.StartRefresher(ctx.Done(), 5*time.Second)
	limiter := shield.NewLimiter(shield.NewMemoryStore(), blocklist, sink, logger)
	limiter.StartGC(ctx.Done(), 5*time.Minute)

	// Daily audit retention sweep.
	go func() {
		tick := time.NewTicker(24 * time.Hour)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				n, err := sink.Cleanup(ctx, cfg.RetentionDays)
				if err != nil {
					slog.Warn("audit cleanup", "error", err)
					continue
				}
				slog.Info("audit cleanup", "deleted", n, "retention_days", cfg.RetentionDays)
			}
		}
	}()

	a := &app{
		engine:    engine,
		sink:      sink,
		limiter:   limiter,
		blocklist: blocklist,
		cfg:       cfg,
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
