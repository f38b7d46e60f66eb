package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"githook-runner/internal/circuitbreaker"
	"githook-runner/internal/common/logging"
	"githook-runner/internal/storage"
)

// Sink delivers a stored notification to an external surface. Delivery is
// best effort; the dispatcher suppresses sink errors after logging them.
type Sink interface {
	Deliver(ctx context.Context, notification *storage.Notification) error
}

// LogSink writes notifications to the service log. It is the default sink
// and never fails.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{
		logger: logger.WithFields(logging.Field{Key: "component", Value: "notify"}),
	}
}

func (s *LogSink) Deliver(_ context.Context, notification *storage.Notification) error {
	s.logger.Info(notification.Title,
		logging.Field{Key: "notification_id", Value: notification.ID},
		logging.Field{Key: "trigger_id", Value: notification.TriggerID},
		logging.Field{Key: "message", Value: notification.Message})
	return nil
}

// WebhookSink POSTs notifications as JSON to a configured URL. Calls go
// through the notification-sink circuit breaker so a dead endpoint stops
// being hammered after a few failures.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewWebhookSink(url string, breakers *circuitbreaker.Registry) *WebhookSink {
	return &WebhookSink{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: breakers.GetOrCreate("notification-sink", circuitbreaker.SinkConfig),
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, notification *storage.Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	return s.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			return fmt.Errorf("sink responded %d", resp.StatusCode)
		}
		return nil
	})
}
