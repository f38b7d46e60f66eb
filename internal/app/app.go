// Package app wires the service together: configuration, storage,
// background engine and the HTTP surface.
package app

import (
	"context"
	"time"

	"githook-runner/internal/circuitbreaker"
	"githook-runner/internal/common/logging"
	"githook-runner/internal/config"
	"githook-runner/internal/engine"
	"githook-runner/internal/executor"
	"githook-runner/internal/handlers"
	"githook-runner/internal/matcher"
	"githook-runner/internal/notify"
	"githook-runner/internal/server"
	"githook-runner/internal/signature"
	"githook-runner/internal/storage"

	// Storage backends register themselves on import.
	_ "githook-runner/internal/storage/postgres"
	_ "githook-runner/internal/storage/sqlite"
)

type App struct {
	config   *config.Config
	store    storage.Storage
	engine   *engine.Engine
	sweeper  *engine.RecoverySweeper
	server   *server.Server
	breakers *circuitbreaker.Registry
	logger   logging.Logger
}

func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, err
	}

	breakers := circuitbreaker.NewRegistry(logger)

	var sink notify.Sink
	if cfg.NotifySink == "webhook" {
		sink = notify.NewWebhookSink(cfg.NotifyWebhookURL, breakers)
	} else {
		sink = notify.NewLogSink(logger)
	}

	dispatcher := notify.NewDispatcher(store, sink, logger)
	exec := executor.NewGojaExecutor(cfg.ExecutorTimeout, logger)
	m := matcher.NewMatcher(store, breakers, logger)

	eng := engine.New(store, m, exec, dispatcher, cfg.EngineWorkers, cfg.EngineQueueSize, logger)
	sweeper := engine.NewRecoverySweeper(eng, cfg.RecoverySweepAfter, logger)

	verifier := signature.NewVerifier(cfg.WebhookSecret)
	h := handlers.New(store, verifier, eng, breakers, logger)

	srv := server.New(buildRouter(h), cfg.Port, cfg.TLSCert, cfg.TLSKey)

	return &App{
		config:   cfg,
		store:    store,
		engine:   eng,
		sweeper:  sweeper,
		server:   srv,
		breakers: breakers,
		logger:   logger,
	}, nil
}

func (a *App) Start() error {
	a.engine.Start()
	if err := a.sweeper.Start(); err != nil {
		return err
	}
	if err := a.server.Start(); err != nil {
		return err
	}

	a.logger.Info("server started",
		logging.Field{Key: "port", Value: a.config.Port},
		logging.Field{Key: "database", Value: a.config.DatabaseType})
	return nil
}

// Shutdown stops accepting requests, drains the engine and closes storage.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := a.server.Shutdown(ctx)
	a.sweeper.Stop()
	a.engine.Stop()

	if closeErr := a.store.Close(); err == nil {
		err = closeErr
	}
	return err
}
