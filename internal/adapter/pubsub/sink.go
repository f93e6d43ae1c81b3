// Package pubsub mirrors mission events to a Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Sink publishes every event with the mission id as ordering key so that
// consumers see each mission's events in sequence order.
type Sink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
}

// NewSink connects to projectID and publishes to topicID.
func NewSink(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Sink, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	sink := NewSinkFromClient(client, topicID)
	sink.owned = true
	return sink, nil
}

// NewSinkFromClient publishes to topicID on an existing client.
func NewSinkFromClient(client *pubsub.Client, topicID string) *Sink {
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true
	return &Sink{client: client, topic: topic}
}

// Message converts an event to its Pub/Sub representation.
func Message(event domain.Event) (*pubsub.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return &pubsub.Message{
		Data:        data,
		OrderingKey: event.MissionID,
		Attributes: map[string]string{
			"mission_id": event.MissionID,
			"seq":        strconv.FormatInt(event.Seq, 10),
			"type":       string(event.Type),
		},
	}, nil
}

// Forward publishes event and waits for the server acknowledgement.
func (s *Sink) Forward(ctx context.Context, event domain.Event) error {
	msg, err := Message(event)
	if err != nil {
		return err
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		// A failed publish pauses the ordering key until resumed.
		s.topic.ResumePublish(event.MissionID)
		return fmt.Errorf("failed to publish event %s/%d: %w", event.MissionID, event.Seq, err)
	}
	return nil
}

// Close flushes pending messages and closes the client when owned.
func (s *Sink) Close() error {
	s.topic.Stop()
	if s.owned {
		return s.client.Close()
	}
	return nil
}
