// Package notify records and delivers user-facing notifications for
// completed trigger executions.
package notify

import (
	"context"
	"fmt"

	"githook-runner/internal/common/logging"
	"githook-runner/internal/storage"
)

// Dispatcher persists a notification for every completed execution of a
// trigger that opted in, then hands it to the sink.
type Dispatcher struct {
	store  storage.Storage
	sink   Sink
	logger logging.Logger
}

func NewDispatcher(store storage.Storage, sink Sink, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		sink:   sink,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "notify"}),
	}
}

// MaybeNotify is a no-op for triggers that did not opt in. The stored
// record is the source of truth; sink delivery failing afterwards is
// logged and suppressed so it never affects the execution outcome.
func (d *Dispatcher) MaybeNotify(ctx context.Context, trigger *storage.Trigger, event *storage.Event, execution *storage.Execution, success bool) {
	if !trigger.Notify {
		return
	}

	notification := &storage.Notification{
		TriggerID:   trigger.ID,
		EventID:     event.ID,
		ExecutionID: &execution.ID,
		Title:       buildTitle(trigger, success),
		Message:     buildMessage(event, execution, success),
	}

	if err := d.store.AddNotification(notification); err != nil {
		d.logger.Error("failed to persist notification", err,
			logging.Field{Key: "trigger_id", Value: trigger.ID},
			logging.Field{Key: "execution_id", Value: execution.ID})
		return
	}

	if err := d.sink.Deliver(ctx, notification); err != nil {
		d.logger.Warn("notification sink delivery failed",
			logging.Field{Key: "notification_id", Value: notification.ID},
			logging.Err(err))
	}
}

func buildTitle(trigger *storage.Trigger, success bool) string {
	if success {
		return fmt.Sprintf("%s succeeded", trigger.Name)
	}
	return fmt.Sprintf("%s failed", trigger.Name)
}

func buildMessage(event *storage.Event, execution *storage.Execution, success bool) string {
	msg := fmt.Sprintf("%s event on %s from %s", event.EventType, event.Repository, event.Sender)
	if !success && execution.Error != nil {
		msg += ": " + *execution.Error
	}
	return msg
}
