// Command server is the HTTP entry point for the flow engine. It boots the
// config database, the secret store, the process store, the executor and
// trigger manager, then serves the trigger mount points alongside the
// management API the Designer UI calls directly.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/flowforge/engine/internal/config"
	"github.com/flowforge/engine/internal/executor"
	"github.com/flowforge/engine/internal/httpapi"
	"github.com/flowforge/engine/internal/logging"
	"github.com/flowforge/engine/internal/metrics"
	"github.com/flowforge/engine/internal/secrets"
	"github.com/flowforge/engine/internal/store"
	"github.com/flowforge/engine/internal/triggers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	triggers.SetLogger(logger)

	db, err := sqlx.Connect("postgres", cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("connect to config database", zap.Error(err))
	}
	defer db.Close()

	if err := store.Migrate(db.DB); err != nil {
		logger.Fatal("apply migrations", zap.Error(err))
	}

	rec := metrics.NewRecorder(prometheus.DefaultRegisterer)

	exec := executor.New(cfg.NATSURL, logger, rec)
	defer exec.Close()

	var secretStore *secrets.SecretStore
	if cfg.SecretEncryptionKey != "" {
		secretStore, err = secrets.NewSecretStore(db, []byte(cfg.SecretEncryptionKey))
		if err != nil {
			logger.Fatal("build secret store", zap.Error(err))
		}
		exec.SetSecretResolver(secretStore)
	} else {
		logger.Warn("no secret encryption key configured, secret_ref nodes will fail")
	}

	processStore := store.NewProcessStore(db)
	manager := triggers.NewManager(exec)
	redeployStoredProcesses(context.Background(), processStore, manager, logger)
	go reportActiveTriggers(manager, rec)

	api := httpapi.New(exec, processStore, secretStore, manager, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"engine"}`))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/triggers/", triggers.TimeoutMiddleware(cfg.TriggerTimeout, triggers.GetRegistryHandler()))
	mux.Handle("/soap/", triggers.TimeoutMiddleware(cfg.TriggerTimeout, triggers.GetSOAPRegistryHandler()))
	mux.Handle("/", api.Router())

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	waitForShutdown(logger, server, manager)
}

// redeployStoredProcesses restarts the trigger handler for every process
// already marked "deployed" in the store, so a server restart doesn't lose
// live triggers.
func redeployStoredProcesses(ctx context.Context, ps *store.ProcessStore, mgr *triggers.Manager, logger *zap.Logger) {
	summaries, err := ps.List(ctx, "deployed")
	if err != nil {
		logger.Warn("list deployed processes at startup", zap.Error(err))
		return
	}
	for _, s := range summaries {
		rec, err := ps.Get(ctx, s.ID)
		if err != nil {
			logger.Warn("load deployed process", zap.String("process_id", s.ID), zap.Error(err))
			continue
		}
		proc, err := rec.ParseDSL()
		if err != nil {
			logger.Warn("parse deployed process", zap.String("process_id", s.ID), zap.Error(err))
			continue
		}
		if err := mgr.Deploy(proc); err != nil {
			logger.Warn("redeploy trigger on startup", zap.String("process_id", s.ID), zap.Error(err))
		}
	}
}

// reportActiveTriggers keeps the active-triggers gauge in sync with the
// manager's running count.
func reportActiveTriggers(manager *triggers.Manager, rec *metrics.Recorder) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		rec.SetActiveTriggers(manager.RunningCount())
	}
}

func waitForShutdown(logger *zap.Logger, server *http.Server, manager *triggers.Manager) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	manager.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown", zap.Error(err))
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
