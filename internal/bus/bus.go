// Package bus provides topic-based publish/subscribe plus per-agent task
// queues. It is the sole channel through which agents, the orchestrator, and
// the router exchange data; no component shares memory across that boundary.
//
// Delivery is at-least-once. Consumers must be idempotent with respect to
// duplicate delivery; the orchestrator uses the task attempt counter to
// detect duplicates.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// Topic names for cross-component messaging.
const (
	// TopicTaskRequest carries task assignment notifications.
	TopicTaskRequest = "task_request"
	// TopicTaskResponse carries task completion and failure reports.
	TopicTaskResponse = "task_response"
	// TopicTaskUpdate carries task state change events.
	TopicTaskUpdate = "task_update"
	// TopicAgentStatus carries agent lifecycle events and heartbeats.
	TopicAgentStatus = "agent_status"
	// TopicSystemAlert carries budget and provider health notifications.
	TopicSystemAlert = "system_alert"
	// TopicCoordination carries orchestrator control signals such as
	// cancellation.
	TopicCoordination = "coordination"
)

// Message is the standardized envelope for all bus traffic.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`
	// Type names the payload kind, e.g. "task_completed".
	Type string `json:"type"`
	// SenderID identifies the publishing component or agent.
	SenderID string `json:"sender_id"`
	// RecipientID identifies the target agent; empty for broadcast.
	RecipientID string `json:"recipient_id,omitempty"`
	// CorrelationID links a response back to its request.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Payload is the JSON-encoded message body.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage builds a Message with a fresh ID and the payload JSON-encoded.
func NewMessage(msgType, senderID string, payload any) (Message, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	return Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		SenderID:  senderID,
		Payload:   raw,
		Timestamp: time.Now(),
	}, nil
}

// DecodePayload unmarshals the message payload into v.
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.ID)
	}
	return json.Unmarshal(m.Payload, v)
}

// Bus is the transport abstraction the coordination engine is written
// against. An in-memory implementation serves tests and single-process
// deployments; a Redis-backed implementation serves distributed ones. The
// orchestration logic depends on nothing beyond at-least-once delivery.
type Bus interface {
	// Publish delivers msg to all current subscribers of topic.
	// Fire-and-forget; an error reports only transport failure.
	Publish(ctx context.Context, topic string, msg Message) error

	// Subscribe returns a stream of messages published to topic after
	// subscription time. There is no backlog replay. The channel closes
	// when ctx is done or the bus shuts down.
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)

	// EnqueueTask appends a task to the per-agent work queue. Within one
	// queue, tasks are delivered in enqueue order.
	EnqueueTask(ctx context.Context, agentID string, task *models.Task) error

	// DequeueTask blocks until a task is available or timeout elapses.
	// An empty queue at timeout returns (nil, nil).
	DequeueTask(ctx context.Context, agentID string, timeout time.Duration) (*models.Task, error)

	// Close releases transport resources and closes subscriber channels.
	Close() error
}
