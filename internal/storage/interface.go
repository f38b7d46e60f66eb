// Package storage defines the persistence abstraction shared by every
// backend. Entities are owned by the storage layer; callers mutate them only
// through the interface, which guarantees statement-level atomicity and
// nothing more.
package storage

import (
	"encoding/json"
	"time"
)

// Execution lifecycle statuses. An execution is created pending and moves
// exactly once to a terminal status.
const (
	ExecutionPending = "pending"
	ExecutionSuccess = "success"
	ExecutionFailure = "failure"
)

// Event is the persisted record of one inbound webhook delivery. Created by
// the gateway on receipt; mutated once to set Processed after all matched
// triggers have been attempted; never deleted.
type Event struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	Action     *string         `json:"action,omitempty"`
	Repository string          `json:"repository"`
	Sender     string          `json:"sender"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
	Processed  bool            `json:"processed"`
}

// Trigger is a stored rule binding (repository, event type, action) to an
// external handler artifact. A nil Action matches any action.
type Trigger struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Repository    string     `json:"repository"`
	EventType     string     `json:"event_type"`
	Action        *string    `json:"action,omitempty"`
	CodefilePath  string     `json:"codefile_path"`
	Enabled       bool       `json:"enabled"`
	Notify        bool       `json:"notify"`
	CreatedAt     time.Time  `json:"created_at"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
}

// Execution records one attempt to run a trigger's handler against one
// event. CompletedAt is set if and only if Status is terminal.
type Execution struct {
	ID          string     `json:"id"`
	TriggerID   string     `json:"trigger_id"`
	EventID     string     `json:"event_id"`
	Status      string     `json:"status"`
	Output      *string    `json:"output,omitempty"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Notification is created after an execution reaches a terminal status when
// the owning trigger has Notify set. Mutated only by marking it read.
type Notification struct {
	ID          string    `json:"id"`
	TriggerID   string    `json:"trigger_id"`
	EventID     string    `json:"event_id"`
	ExecutionID *string   `json:"execution_id,omitempty"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Read        bool      `json:"read"`
}

// TriggerFilters narrows ListTriggers. Zero-value fields are ignored; Action
// filters on exact match and Enabled on the pointed-to value.
type TriggerFilters struct {
	Repository string
	EventType  string
	Action     *string
	Enabled    *bool
}

// TriggerUpdate carries a partial trigger edit. Nil fields are left
// untouched; ClearAction resets Action to the "any action" wildcard.
type TriggerUpdate struct {
	Name         *string `json:"name,omitempty"`
	Repository   *string `json:"repository,omitempty"`
	EventType    *string `json:"event_type,omitempty"`
	Action       *string `json:"action,omitempty"`
	ClearAction  bool    `json:"clear_action,omitempty"`
	CodefilePath *string `json:"codefile_path,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
	Notify       *bool   `json:"notify,omitempty"`
}

// ExecutionFilters narrows ListExecutions. Empty fields are ignored.
type ExecutionFilters struct {
	TriggerID string
	EventID   string
	Status    string
}

// Storage is the single persistence interface shared by the embedded local
// backend (sqlite) and the remote managed backend (postgres). Backend errors
// surface as the persistence error type; missing rows as the not-found type.
type Storage interface {
	Close() error
	Health() error

	// Events
	AddEvent(eventType string, action *string, repository, sender string, payload json.RawMessage) (*Event, error)
	GetEvent(id string) (*Event, error)
	// ListEvents returns events newest first
	ListEvents(limit, offset int) ([]*Event, error)
	// MarkEventProcessed is idempotent; marking a processed event is a no-op
	MarkEventProcessed(id string) error

	// Triggers
	AddTrigger(trigger *Trigger) error
	GetTrigger(id string) (*Trigger, error)
	// ListTriggers returns triggers in creation order, descending
	ListTriggers(filters TriggerFilters) ([]*Trigger, error)
	UpdateTrigger(id string, update TriggerUpdate) (*Trigger, error)
	DeleteTrigger(id string) error
	// UpdateTriggerLastTriggered is a best-effort timestamp update; it is
	// not atomic with matching
	UpdateTriggerLastTriggered(id string) error

	// Executions
	AddExecution(triggerID, eventID string) (*Execution, error)
	// UpdateExecution moves an execution to a terminal status and stamps
	// CompletedAt. Transitions out of a terminal status are rejected.
	UpdateExecution(id, status string, output, errMsg *string) error
	GetExecution(id string) (*Execution, error)
	ListExecutions(filters ExecutionFilters, limit, offset int) ([]*Execution, error)
	// ListStalePendingExecutions returns executions still pending that
	// started before the given time, for the recovery sweep
	ListStalePendingExecutions(olderThan time.Time) ([]*Execution, error)

	// Notifications
	AddNotification(notification *Notification) error
	GetNotification(id string) (*Notification, error)
	ListNotifications(read *bool, limit, offset int) ([]*Notification, error)
	// MarkNotificationRead is idempotent
	MarkNotificationRead(id string) error
}

// StorageConfig is the backend-specific construction parameter set
type StorageConfig interface {
	Validate() error
	GetType() string
}

// StorageFactory constructs one backend type from its config
type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}

// GenericConfig is a map-based StorageConfig used by the top-level factory
// to pass backend parameters without importing the backend packages
type GenericConfig map[string]interface{}

func (gc GenericConfig) Validate() error {
	return nil
}

func (gc GenericConfig) GetType() string {
	if t, ok := gc["type"].(string); ok {
		return t
	}
	return "unknown"
}

// GetString returns a string parameter or an empty string when absent
func (gc GenericConfig) GetString(key string) string {
	if v, ok := gc[key].(string); ok {
		return v
	}
	return ""
}
