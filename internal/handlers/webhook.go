package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"githook-runner/internal/common/errors"
	"githook-runner/internal/common/logging"
)

// webhookEnvelope is the subset of the delivery payload the gateway reads.
// The full body is stored untouched for handlers.
type webhookEnvelope struct {
	Action     *string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// HandleWebhook ingests one delivery. The response is sent as soon as the
// event is persisted and queued; execution happens in the background.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, errors.ValidationError("failed to read request body"))
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		h.logger.Warn("rejected webhook delivery", logging.Err(err))
		h.writeError(w, err)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		h.writeError(w, errors.ValidationError("missing X-GitHub-Event header"))
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.writeError(w, errors.ValidationError("payload is not valid JSON"))
		return
	}
	if envelope.Repository.FullName == "" {
		h.writeError(w, errors.ValidationError("payload missing repository.full_name"))
		return
	}
	if envelope.Sender.Login == "" {
		h.writeError(w, errors.ValidationError("payload missing sender.login"))
		return
	}

	event, err := h.storage.AddEvent(eventType, envelope.Action, envelope.Repository.FullName, envelope.Sender.Login, body)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.engine.Enqueue(event.ID)

	h.logger.Info("accepted webhook delivery",
		logging.Field{Key: "event_id", Value: event.ID},
		logging.Field{Key: "event_type", Value: eventType},
		logging.Field{Key: "repository", Value: event.Repository})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     event.ID,
		"status": "accepted",
	})
}
