package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"githook-runner/internal/common/logging"
)

// RecoverySweeper periodically re-drives executions left pending longer
// than a threshold. A crash between creating an execution and recording
// its outcome otherwise strands the row in pending forever.
type RecoverySweeper struct {
	engine    *Engine
	olderThan time.Duration
	cron      *cron.Cron
	logger    logging.Logger
}

func NewRecoverySweeper(engine *Engine, olderThan time.Duration, logger logging.Logger) *RecoverySweeper {
	if olderThan <= 0 {
		olderThan = 5 * time.Minute
	}
	return &RecoverySweeper{
		engine:    engine,
		olderThan: olderThan,
		cron:      cron.New(),
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "recovery"}),
	}
}

func (r *RecoverySweeper) Start() error {
	if _, err := r.cron.AddFunc("@every 1m", func() {
		r.Sweep(context.Background())
	}); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("recovery sweeper started",
		logging.Field{Key: "older_than", Value: r.olderThan.String()})
	return nil
}

func (r *RecoverySweeper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("recovery sweeper stopped")
}

// Sweep re-runs every stale pending execution. The terminal-state guard in
// storage makes re-driving safe: if the original worker finishes first, the
// sweep's result is discarded, and vice versa.
func (r *RecoverySweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.olderThan)
	stale, err := r.engine.store.ListStalePendingExecutions(cutoff)
	if err != nil {
		r.logger.Error("failed to list stale executions", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	r.logger.Info("re-driving stale executions", logging.Field{Key: "count", Value: len(stale)})

	for _, execution := range stale {
		logger := r.logger.WithFields(
			logging.Field{Key: "execution_id", Value: execution.ID})

		trigger, err := r.engine.store.GetTrigger(execution.TriggerID)
		if err != nil {
			logger.Error("failed to load trigger for stale execution", err)
			continue
		}
		event, err := r.engine.store.GetEvent(execution.EventID)
		if err != nil {
			logger.Error("failed to load event for stale execution", err)
			continue
		}

		r.engine.driveExecution(ctx, logger, trigger, event, execution)
	}
}
