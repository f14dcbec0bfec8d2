package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/courseloom/videogen-be/shared/rabbitmq"
)

// WakeupMessage is the payload published to the wake-up exchange. It only
// names the job; Postgres remains authoritative for ownership and state.
type WakeupMessage struct {
	JobID string `json:"job_id"`
}

// RabbitNotifier publishes wake-up messages over RabbitMQ
type RabbitNotifier struct {
	client *rabbitmq.Client
}

// NewRabbitNotifier creates a notifier on top of an established client
func NewRabbitNotifier(client *rabbitmq.Client) *RabbitNotifier {
	return &RabbitNotifier{client: client}
}

// NotifyReady publishes a wake-up for the job id
func (n *RabbitNotifier) NotifyReady(ctx context.Context, jobID string) error {
	body, err := json.Marshal(WakeupMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal wake-up message: %w", err)
	}
	return n.client.PublishWithRetry(ctx, body, "application/json")
}
