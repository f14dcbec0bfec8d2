package domain

import "time"

// EventType enumerates audit trail entry kinds
type EventType string

const (
	EventCreated    EventType = "CREATED"
	EventQueued     EventType = "QUEUED"
	EventProcessing EventType = "PROCESSING"
	EventPolling    EventType = "POLLING"
	EventCompleted  EventType = "COMPLETED"
	EventFailed     EventType = "FAILED"
	EventCancelled  EventType = "CANCELLED"

	// EventPublishError records a non-fatal artifact publish failure
	EventPublishError EventType = "PUBLISH_ERROR"
)

// JobEvent is an append-only audit trail entry tied to a job. Events are
// never mutated or deleted and are strictly ordered per job by insertion.
type JobEvent struct {
	ID        int64     `db:"id"`
	JobID     string    `db:"job_id"`
	EventType EventType `db:"event_type"`
	Message   string    `db:"message"`
	Metadata  []byte    `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}
