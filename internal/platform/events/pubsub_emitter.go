package events

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSubEmitter publishes events as JSON messages and waits for the
// server acknowledgement, so a failed publish surfaces to the caller.
type PubSubEmitter struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func NewPubSubEmitter(ctx context.Context, projectID, topicID string) (*PubSubEmitter, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	// audit ordering per subject
	topic.EnableMessageOrdering = true
	return &PubSubEmitter{client: client, topic: topic}, nil
}

func (e *PubSubEmitter) Emit(ctx context.Context, event AuditEvent) error {
	msg, err := Message(Stamp(event))
	if err != nil {
		return err
	}
	res := e.topic.Publish(ctx, msg)
	if _, err := res.Get(ctx); err != nil {
		// ordering keys pause after a failure until resumed
		e.topic.ResumePublish(msg.OrderingKey)
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (e *PubSubEmitter) Close() error {
	e.topic.Stop()
	return e.client.Close()
}

// Message builds the Pub/Sub message for an event.
func Message(event AuditEvent) (*pubsub.Message, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &pubsub.Message{
		Data:        b,
		OrderingKey: event.Subject,
		Attributes: map[string]string{
			"type":     event.Type,
			"subject":  event.Subject,
			"event_id": event.ID,
		},
	}, nil
}
