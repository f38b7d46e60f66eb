// Package matcher selects the triggers an ingested event should fire.
package matcher

import (
	"context"

	"githook-runner/internal/circuitbreaker"
	"githook-runner/internal/common/errors"
	"githook-runner/internal/common/logging"
	"githook-runner/internal/storage"
)

// Matcher resolves events to enabled triggers. Matching on repository and
// event type happens in the store; the action wildcard rule is applied here
// because a nil trigger action matches every action.
type Matcher struct {
	store   storage.Storage
	breaker *circuitbreaker.CircuitBreaker
	logger  logging.Logger
}

func NewMatcher(store storage.Storage, breakers *circuitbreaker.Registry, logger logging.Logger) *Matcher {
	config := circuitbreaker.StorageConfig
	config.IsExcluded = func(err error) bool {
		return errors.IsType(err, errors.ErrTypeNotFound)
	}

	return &Matcher{
		store:   store,
		breaker: breakers.GetOrCreate("storage-advisory", config),
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "matcher"}),
	}
}

// SelectTriggers returns every enabled trigger whose repository and event
// type equal the event's, and whose action is either unset or equal to the
// event's action. A trigger with a set action never matches an event
// without one.
func (m *Matcher) SelectTriggers(event *storage.Event) ([]*storage.Trigger, error) {
	enabled := true
	candidates, err := m.store.ListTriggers(storage.TriggerFilters{
		Repository: event.Repository,
		EventType:  event.EventType,
		Enabled:    &enabled,
	})
	if err != nil {
		return nil, err
	}

	var matched []*storage.Trigger
	for _, trigger := range candidates {
		if trigger.Action == nil {
			matched = append(matched, trigger)
			continue
		}
		if event.Action != nil && *trigger.Action == *event.Action {
			matched = append(matched, trigger)
		}
	}

	return matched, nil
}

// MarkTriggered stamps last_triggered on a matched trigger. The stamp is
// advisory, so a storage failure is logged and swallowed rather than
// failing the event. The write goes through the storage-advisory breaker:
// when the backend is struggling, advisory writes are the first load shed.
func (m *Matcher) MarkTriggered(ctx context.Context, trigger *storage.Trigger) {
	err := m.breaker.Execute(ctx, func() error {
		return m.store.UpdateTriggerLastTriggered(trigger.ID)
	})
	if err != nil {
		m.logger.Warn("failed to stamp last_triggered",
			logging.Field{Key: "trigger_id", Value: trigger.ID},
			logging.Err(err))
	}
}
