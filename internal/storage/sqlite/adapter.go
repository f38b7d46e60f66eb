// Package sqlite implements the storage interface on an embedded SQLite
// database. It is the local backend used in development and single-node
// deployments.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"githook-runner/internal/common/errors"
	"githook-runner/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError("invalid SQLite config: " + err.Error())
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.PersistenceError("failed to open database", err)
	}

	if err := db.Ping(); err != nil {
		return nil, errors.PersistenceError("failed to ping database", err)
	}

	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// storms from the worker pool.
	db.SetMaxOpenConns(1)

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, errors.PersistenceError("failed to migrate database", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	if err := a.db.Ping(); err != nil {
		return errors.PersistenceError("sqlite ping failed", err)
	}
	return nil
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			action TEXT,
			repository TEXT NOT NULL,
			sender TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			timestamp DATETIME NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS triggers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			repository TEXT NOT NULL,
			event_type TEXT NOT NULL,
			action TEXT,
			codefile_path TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			notify BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			last_triggered DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			trigger_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			output TEXT,
			error TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			FOREIGN KEY (trigger_id) REFERENCES triggers (id),
			FOREIGN KEY (event_id) REFERENCES events (id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			trigger_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			execution_id TEXT,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			read BOOLEAN NOT NULL DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed)`,
		`CREATE INDEX IF NOT EXISTS idx_triggers_match ON triggers(repository, event_type, enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_trigger_id ON executions(trigger_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_event_id ON executions(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// Event methods

func (a *Adapter) AddEvent(eventType string, action *string, repository, sender string, payload json.RawMessage) (*storage.Event, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	event := &storage.Event{
		ID:         uuid.NewString(),
		EventType:  eventType,
		Action:     action,
		Repository: repository,
		Sender:     sender,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
		Processed:  false,
	}

	query := `INSERT INTO events (id, event_type, action, repository, sender, payload, timestamp, processed)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := a.db.Exec(query, event.ID, event.EventType, event.Action, event.Repository,
		event.Sender, string(event.Payload), event.Timestamp, event.Processed)
	if err != nil {
		return nil, errors.PersistenceError("failed to add event", err)
	}

	return event, nil
}

func (a *Adapter) GetEvent(id string) (*storage.Event, error) {
	query := `SELECT id, event_type, action, repository, sender, payload, timestamp, processed
			  FROM events WHERE id = ?`

	event := &storage.Event{}
	var payload string
	err := a.db.QueryRow(query, id).Scan(&event.ID, &event.EventType, &event.Action,
		&event.Repository, &event.Sender, &payload, &event.Timestamp, &event.Processed)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("event")
	}
	if err != nil {
		return nil, errors.PersistenceError("failed to get event", err)
	}

	event.Payload = json.RawMessage(payload)
	return event, nil
}

func (a *Adapter) ListEvents(limit, offset int) ([]*storage.Event, error) {
	query := `SELECT id, event_type, action, repository, sender, payload, timestamp, processed
			  FROM events ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := a.db.Query(query, limit, offset)
	if err != nil {
		return nil, errors.PersistenceError("failed to list events", err)
	}
	defer rows.Close()

	var events []*storage.Event
	for rows.Next() {
		event := &storage.Event{}
		var payload string
		if err := rows.Scan(&event.ID, &event.EventType, &event.Action, &event.Repository,
			&event.Sender, &payload, &event.Timestamp, &event.Processed); err != nil {
			return nil, errors.PersistenceError("failed to scan event", err)
		}
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}

	return events, rows.Err()
}

func (a *Adapter) MarkEventProcessed(id string) error {
	result, err := a.db.Exec(`UPDATE events SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return errors.PersistenceError("failed to mark event processed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.PersistenceError("failed to mark event processed", err)
	}
	if affected == 0 {
		// Distinguish a missing event from an already-processed one
		if _, err := a.GetEvent(id); err != nil {
			return err
		}
	}

	return nil
}

// Trigger methods

func (a *Adapter) AddTrigger(trigger *storage.Trigger) error {
	trigger.ID = uuid.NewString()
	trigger.CreatedAt = time.Now().UTC()

	query := `INSERT INTO triggers (id, name, repository, event_type, action, codefile_path, enabled, notify, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := a.db.Exec(query, trigger.ID, trigger.Name, trigger.Repository, trigger.EventType,
		trigger.Action, trigger.CodefilePath, trigger.Enabled, trigger.Notify, trigger.CreatedAt)
	if err != nil {
		return errors.PersistenceError("failed to add trigger", err)
	}

	return nil
}

func (a *Adapter) GetTrigger(id string) (*storage.Trigger, error) {
	query := `SELECT id, name, repository, event_type, action, codefile_path, enabled, notify, created_at, last_triggered
			  FROM triggers WHERE id = ?`

	trigger := &storage.Trigger{}
	err := a.db.QueryRow(query, id).Scan(&trigger.ID, &trigger.Name, &trigger.Repository,
		&trigger.EventType, &trigger.Action, &trigger.CodefilePath, &trigger.Enabled,
		&trigger.Notify, &trigger.CreatedAt, &trigger.LastTriggered)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("trigger")
	}
	if err != nil {
		return nil, errors.PersistenceError("failed to get trigger", err)
	}

	return trigger, nil
}

func (a *Adapter) ListTriggers(filters storage.TriggerFilters) ([]*storage.Trigger, error) {
	query := `SELECT id, name, repository, event_type, action, codefile_path, enabled, notify, created_at, last_triggered
			  FROM triggers`

	var conditions []string
	var args []interface{}

	if filters.Repository != "" {
		conditions = append(conditions, "repository = ?")
		args = append(args, filters.Repository)
	}
	if filters.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, filters.EventType)
	}
	if filters.Action != nil {
		conditions = append(conditions, "action = ?")
		args = append(args, *filters.Action)
	}
	if filters.Enabled != nil {
		conditions = append(conditions, "enabled = ?")
		args = append(args, *filters.Enabled)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, errors.PersistenceError("failed to list triggers", err)
	}
	defer rows.Close()

	var triggers []*storage.Trigger
	for rows.Next() {
		trigger := &storage.Trigger{}
		if err := rows.Scan(&trigger.ID, &trigger.Name, &trigger.Repository, &trigger.EventType,
			&trigger.Action, &trigger.CodefilePath, &trigger.Enabled, &trigger.Notify,
			&trigger.CreatedAt, &trigger.LastTriggered); err != nil {
			return nil, errors.PersistenceError("failed to scan trigger", err)
		}
		triggers = append(triggers, trigger)
	}

	return triggers, rows.Err()
}

func (a *Adapter) UpdateTrigger(id string, update storage.TriggerUpdate) (*storage.Trigger, error) {
	trigger, err := a.GetTrigger(id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		trigger.Name = *update.Name
	}
	if update.Repository != nil {
		trigger.Repository = *update.Repository
	}
	if update.EventType != nil {
		trigger.EventType = *update.EventType
	}
	if update.ClearAction {
		trigger.Action = nil
	} else if update.Action != nil {
		trigger.Action = update.Action
	}
	if update.CodefilePath != nil {
		trigger.CodefilePath = *update.CodefilePath
	}
	if update.Enabled != nil {
		trigger.Enabled = *update.Enabled
	}
	if update.Notify != nil {
		trigger.Notify = *update.Notify
	}

	query := `UPDATE triggers SET name = ?, repository = ?, event_type = ?, action = ?,
			  codefile_path = ?, enabled = ?, notify = ? WHERE id = ?`

	_, err = a.db.Exec(query, trigger.Name, trigger.Repository, trigger.EventType, trigger.Action,
		trigger.CodefilePath, trigger.Enabled, trigger.Notify, trigger.ID)
	if err != nil {
		return nil, errors.PersistenceError("failed to update trigger", err)
	}

	return trigger, nil
}

func (a *Adapter) DeleteTrigger(id string) error {
	result, err := a.db.Exec(`DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return errors.PersistenceError("failed to delete trigger", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.PersistenceError("failed to delete trigger", err)
	}
	if affected == 0 {
		return errors.NotFoundError("trigger")
	}

	return nil
}

func (a *Adapter) UpdateTriggerLastTriggered(id string) error {
	_, err := a.db.Exec(`UPDATE triggers SET last_triggered = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return errors.PersistenceError("failed to update last_triggered", err)
	}
	return nil
}

// Execution methods

func (a *Adapter) AddExecution(triggerID, eventID string) (*storage.Execution, error) {
	execution := &storage.Execution{
		ID:        uuid.NewString(),
		TriggerID: triggerID,
		EventID:   eventID,
		Status:    storage.ExecutionPending,
		StartedAt: time.Now().UTC(),
	}

	query := `INSERT INTO executions (id, trigger_id, event_id, status, started_at)
			  VALUES (?, ?, ?, ?, ?)`

	_, err := a.db.Exec(query, execution.ID, execution.TriggerID, execution.EventID,
		execution.Status, execution.StartedAt)
	if err != nil {
		return nil, errors.PersistenceError("failed to add execution", err)
	}

	return execution, nil
}

func (a *Adapter) UpdateExecution(id, status string, output, errMsg *string) error {
	if status != storage.ExecutionSuccess && status != storage.ExecutionFailure {
		return errors.ValidationError("execution status must be terminal: " + status)
	}

	// The status guard makes terminal states sticky: a completed execution
	// is never overwritten.
	query := `UPDATE executions SET status = ?, output = ?, error = ?, completed_at = ?
			  WHERE id = ? AND status = ?`

	result, err := a.db.Exec(query, status, output, errMsg, time.Now().UTC(), id, storage.ExecutionPending)
	if err != nil {
		return errors.PersistenceError("failed to update execution", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.PersistenceError("failed to update execution", err)
	}
	if affected == 0 {
		if _, err := a.GetExecution(id); err != nil {
			return err
		}
		return errors.ValidationError("execution already in terminal state")
	}

	return nil
}

func (a *Adapter) GetExecution(id string) (*storage.Execution, error) {
	query := `SELECT id, trigger_id, event_id, status, output, error, started_at, completed_at
			  FROM executions WHERE id = ?`

	execution := &storage.Execution{}
	err := a.db.QueryRow(query, id).Scan(&execution.ID, &execution.TriggerID, &execution.EventID,
		&execution.Status, &execution.Output, &execution.Error, &execution.StartedAt, &execution.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("execution")
	}
	if err != nil {
		return nil, errors.PersistenceError("failed to get execution", err)
	}

	return execution, nil
}

func (a *Adapter) ListExecutions(filters storage.ExecutionFilters, limit, offset int) ([]*storage.Execution, error) {
	query := `SELECT id, trigger_id, event_id, status, output, error, started_at, completed_at
			  FROM executions`

	var conditions []string
	var args []interface{}

	if filters.TriggerID != "" {
		conditions = append(conditions, "trigger_id = ?")
		args = append(args, filters.TriggerID)
	}
	if filters.EventID != "" {
		conditions = append(conditions, "event_id = ?")
		args = append(args, filters.EventID)
	}
	if filters.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filters.Status)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, errors.PersistenceError("failed to list executions", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

func (a *Adapter) ListStalePendingExecutions(olderThan time.Time) ([]*storage.Execution, error) {
	query := `SELECT id, trigger_id, event_id, status, output, error, started_at, completed_at
			  FROM executions WHERE status = ? AND started_at < ? ORDER BY started_at ASC`

	rows, err := a.db.Query(query, storage.ExecutionPending, olderThan)
	if err != nil {
		return nil, errors.PersistenceError("failed to list stale executions", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

func scanExecutions(rows *sql.Rows) ([]*storage.Execution, error) {
	var executions []*storage.Execution
	for rows.Next() {
		execution := &storage.Execution{}
		if err := rows.Scan(&execution.ID, &execution.TriggerID, &execution.EventID,
			&execution.Status, &execution.Output, &execution.Error,
			&execution.StartedAt, &execution.CompletedAt); err != nil {
			return nil, errors.PersistenceError("failed to scan execution", err)
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

// Notification methods

func (a *Adapter) AddNotification(notification *storage.Notification) error {
	notification.ID = uuid.NewString()
	notification.Timestamp = time.Now().UTC()
	notification.Read = false

	query := `INSERT INTO notifications (id, trigger_id, event_id, execution_id, title, message, timestamp, read)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := a.db.Exec(query, notification.ID, notification.TriggerID, notification.EventID,
		notification.ExecutionID, notification.Title, notification.Message,
		notification.Timestamp, notification.Read)
	if err != nil {
		return errors.PersistenceError("failed to add notification", err)
	}

	return nil
}

func (a *Adapter) GetNotification(id string) (*storage.Notification, error) {
	query := `SELECT id, trigger_id, event_id, execution_id, title, message, timestamp, read
			  FROM notifications WHERE id = ?`

	notification := &storage.Notification{}
	err := a.db.QueryRow(query, id).Scan(&notification.ID, &notification.TriggerID,
		&notification.EventID, &notification.ExecutionID, &notification.Title,
		&notification.Message, &notification.Timestamp, &notification.Read)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("notification")
	}
	if err != nil {
		return nil, errors.PersistenceError("failed to get notification", err)
	}

	return notification, nil
}

func (a *Adapter) ListNotifications(read *bool, limit, offset int) ([]*storage.Notification, error) {
	query := `SELECT id, trigger_id, event_id, execution_id, title, message, timestamp, read
			  FROM notifications`

	var args []interface{}
	if read != nil {
		query += " WHERE read = ?"
		args = append(args, *read)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, errors.PersistenceError("failed to list notifications", err)
	}
	defer rows.Close()

	var notifications []*storage.Notification
	for rows.Next() {
		notification := &storage.Notification{}
		if err := rows.Scan(&notification.ID, &notification.TriggerID, &notification.EventID,
			&notification.ExecutionID, &notification.Title, &notification.Message,
			&notification.Timestamp, &notification.Read); err != nil {
			return nil, errors.PersistenceError("failed to scan notification", err)
		}
		notifications = append(notifications, notification)
	}

	return notifications, rows.Err()
}

func (a *Adapter) MarkNotificationRead(id string) error {
	result, err := a.db.Exec(`UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return errors.PersistenceError("failed to mark notification read", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.PersistenceError("failed to mark notification read", err)
	}
	if affected == 0 {
		if _, err := a.GetNotification(id); err != nil {
			return err
		}
	}

	return nil
}
