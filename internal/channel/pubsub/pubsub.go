// Package pubsub delivers messages to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Channel publishes each formatted message to a single topic.
type Channel struct {
	topic *pubsub.Topic
	name  string
}

// New creates a Pub/Sub channel for the given topic.
func New(client *pubsub.Client, topicID string) (*Channel, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("topic id is required")
	}
	return &Channel{
		topic: client.Topic(topicID),
		name:  "pubsub:" + topicID,
	}, nil
}

// Name identifies the channel in delivery results and metrics.
func (c *Channel) Name() string {
	return c.name
}

// Send publishes the text and blocks until the server acknowledges it.
func (c *Channel) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	result := c.topic.Publish(ctx, &pubsub.Message{Data: payload})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Stop flushes and stops the topic's publish goroutines.
func (c *Channel) Stop() {
	c.topic.Stop()
}
