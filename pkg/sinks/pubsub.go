package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-telemetry/pkg/pipeline"
)

// PubsubNotifierConfig holds configuration for the live notification channel.
type PubsubNotifierConfig struct {
	TopicID                    string
	TopicExistsTimeout         time.Duration
	PublishConfirmationTimeout time.Duration
}

// NewPubsubNotifierDefaults provides a config with sensible defaults.
func NewPubsubNotifierDefaults(topicID string) *PubsubNotifierConfig {
	return &PubsubNotifierConfig{
		TopicID:                    topicID,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// PubsubNotifier pushes records to a Pub/Sub topic for live consumers. The
// durable stores serve historical queries; subscribers of this topic get the
// push feed.
type PubsubNotifier struct {
	topic   *pubsub.Topic
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPubsubNotifier validates the topic's existence before returning a
// functional notifier.
func NewPubsubNotifier(ctx context.Context, cfg *PubsubNotifierConfig, client *pubsub.Client, logger zerolog.Logger) (*PubsubNotifier, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if cfg.TopicID == "" {
		return nil, errors.New("notify topic id is required")
	}

	topic := client.Topic(cfg.TopicID)
	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	return &PubsubNotifier{
		topic:   topic,
		timeout: cfg.PublishConfirmationTimeout,
		logger:  logger.With().Str("component", "PubsubNotifier").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish sends one record's raw payload with the device and message ids as
// attributes, and waits for the server's confirmation.
func (n *PubsubNotifier) Publish(ctx context.Context, deviceID, messageID string, payload []byte) error {
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"deviceId":  deviceID,
			"messageId": messageID,
		},
	})

	waitCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if _, err := result.Get(waitCtx); err != nil {
		n.logger.Error().Err(err).Str("device_id", deviceID).Str("message_id", messageID).Msg("Notify publish failed.")
		return fmt.Errorf("%w: pubsub publish for %s: %s", pipeline.ErrSinkRejected, deviceID, err)
	}
	n.logger.Debug().Str("device_id", deviceID).Str("message_id", messageID).Msg("Notification published.")
	return nil
}

// Stop flushes pending publishes and releases topic resources.
func (n *PubsubNotifier) Stop() {
	n.topic.Stop()
}
