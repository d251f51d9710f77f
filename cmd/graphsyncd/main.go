// graphsyncd is the collaborative graph synchronization server: one
// WebSocket endpoint for live editing, an ownership-routing endpoint
// for cluster placement, and a metrics endpoint.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/canvakit/graphsync/internal/cluster"
	"github.com/canvakit/graphsync/internal/gateway"
	"github.com/canvakit/graphsync/internal/logging"
	"github.com/canvakit/graphsync/internal/metrics"
	"github.com/canvakit/graphsync/internal/registry"
	"github.com/canvakit/graphsync/internal/scheduler"
	"github.com/canvakit/graphsync/internal/store"
	"github.com/canvakit/graphsync/internal/validation"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	reg := registry.New(st, logger, registry.Config{
		LockTimeout:      cfg.lockTimeout(),
		ReplayMaxEntries: cfg.ReplayMaxEntries,
		ReplayMaxAge:     cfg.replayMaxAge(),
	})

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			return err
		}
		defer nc.Close()
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	self := cluster.Instance{ID: instanceID, Host: cfg.AdvertiseHost, Port: cfg.AdvertisePort}
	router := cluster.NewRouter(nc, self, reg.LoadedKeys, logger)
	if err := router.Start(ctx); err != nil {
		return err
	}
	defer router.Stop()

	validator, err := validation.NewMessageValidator()
	if err != nil {
		return err
	}
	dispatcher := gateway.NewDispatcher(reg, st, validator, cfg.PoolSize, logger)
	wsServer := gateway.NewServer(dispatcher, reg, nil, logger)

	maint, err := scheduler.New(reg, st, scheduler.Config{
		SweepInterval: cfg.sweepInterval(),
		IdleTTL:       cfg.idleTTL(),
		VacuumCron:    cfg.VacuumCron,
	}, logger)
	if err != nil {
		return err
	}
	if err := maint.Start(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.Handle("/api/sync", router.SyncHandler())
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("instance_id", instanceID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	router.SetDraining(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	dispatcher.Shutdown()
	maint.Stop()
	reg.FlushDirty(shutdownCtx)
	return nil
}
