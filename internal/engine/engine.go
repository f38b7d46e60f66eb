// Package engine drives background processing of ingested events. A
// bounded worker pool consumes event ids from a buffered queue, matches
// triggers, runs handlers and records outcomes. Failures below the gateway
// are contained here; nothing propagates back to webhook callers.
package engine

import (
	"context"
	"sync"

	"githook-runner/internal/common/logging"
	"githook-runner/internal/executor"
	"githook-runner/internal/matcher"
	"githook-runner/internal/notify"
	"githook-runner/internal/storage"
)

type Engine struct {
	store      storage.Storage
	matcher    *matcher.Matcher
	executor   executor.Executor
	dispatcher *notify.Dispatcher
	logger     logging.Logger

	queue   chan string
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(store storage.Storage, m *matcher.Matcher, exec executor.Executor, dispatcher *notify.Dispatcher, workers, queueSize int, logger logging.Logger) *Engine {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      store,
		matcher:    m,
		executor:   exec,
		dispatcher: dispatcher,
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "engine"}),
		queue:      make(chan string, queueSize),
		workers:    workers,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (e *Engine) Start() {
	e.startOnce.Do(func() {
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go e.worker(i)
		}
		e.logger.Info("engine started", logging.Field{Key: "workers", Value: e.workers})
	})
}

// Stop drains in-flight work. Queued but unstarted events are left
// unprocessed; the recovery sweep picks their executions up on the next
// run if any were already created.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.logger.Info("engine stopped")
	})
}

// Enqueue hands an event id to the pool without blocking. A full queue is
// reported to the caller so the gateway can log it; the event stays
// unprocessed until a recovery pass or restart.
func (e *Engine) Enqueue(eventID string) bool {
	select {
	case e.queue <- eventID:
		return true
	default:
		e.logger.Warn("event queue full, dropping enqueue",
			logging.Field{Key: "event_id", Value: eventID})
		return false
	}
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	logger := e.logger.WithFields(logging.Field{Key: "worker", Value: id})

	for {
		select {
		case <-e.ctx.Done():
			return
		case eventID := <-e.queue:
			logger.Debug("processing event", logging.Field{Key: "event_id", Value: eventID})
			e.ProcessEvent(e.ctx, eventID)
		}
	}
}

// ProcessEvent runs the full saga for one event. Each matched trigger is
// processed sequentially and independently: one handler failing is recorded
// on its own execution and never stops the remaining triggers. The event is
// marked processed only after every trigger had its turn.
func (e *Engine) ProcessEvent(ctx context.Context, eventID string) {
	logger := e.logger.WithFields(logging.Field{Key: "event_id", Value: eventID})

	event, err := e.store.GetEvent(eventID)
	if err != nil {
		logger.Error("failed to load event", err)
		return
	}
	if event.Processed {
		logger.Debug("event already processed")
		return
	}

	triggers, err := e.matcher.SelectTriggers(event)
	if err != nil {
		logger.Error("trigger matching failed", err)
		return
	}

	for _, trigger := range triggers {
		e.runTrigger(ctx, logger, trigger, event)
	}

	if err := e.store.MarkEventProcessed(event.ID); err != nil {
		logger.Error("failed to mark event processed", err)
	}
}

func (e *Engine) runTrigger(ctx context.Context, logger logging.Logger, trigger *storage.Trigger, event *storage.Event) {
	logger = logger.WithFields(logging.Field{Key: "trigger_id", Value: trigger.ID})

	execution, err := e.store.AddExecution(trigger.ID, event.ID)
	if err != nil {
		logger.Error("failed to create execution", err)
		return
	}

	e.matcher.MarkTriggered(ctx, trigger)
	e.driveExecution(ctx, logger, trigger, event, execution)
}

// driveExecution takes a pending execution through the handler to a
// terminal state. It is shared with the recovery sweep, which re-enters
// here for executions left pending by a crash.
func (e *Engine) driveExecution(ctx context.Context, logger logging.Logger, trigger *storage.Trigger, event *storage.Event, execution *storage.Execution) {
	output, execErr := e.executor.Execute(ctx, trigger.CodefilePath, event.Payload, event.EventType, event.Action)

	success := execErr == nil
	var status string
	var outputPtr, errPtr *string
	if success {
		status = storage.ExecutionSuccess
		outputPtr = &output
	} else {
		status = storage.ExecutionFailure
		msg := execErr.Error()
		errPtr = &msg
		logger.Warn("handler execution failed",
			logging.Field{Key: "execution_id", Value: execution.ID},
			logging.Err(execErr))
	}

	if err := e.store.UpdateExecution(execution.ID, status, outputPtr, errPtr); err != nil {
		// A concurrent writer already completed this execution; its
		// outcome stands.
		logger.Warn("execution outcome not recorded",
			logging.Field{Key: "execution_id", Value: execution.ID},
			logging.Err(err))
		return
	}

	completed, err := e.store.GetExecution(execution.ID)
	if err != nil {
		completed = execution
		completed.Status = status
		completed.Output = outputPtr
		completed.Error = errPtr
	}

	e.dispatcher.MaybeNotify(ctx, trigger, event, completed, success)
}
