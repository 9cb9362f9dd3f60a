// Package ingest connects the pipeline to its queue trigger: a Pub/Sub
// subscription whose messages run through the processor on a small worker
// pool. Pipeline failures are acked like successes — they surface in the
// processing outcome, and platform redelivery is reserved for transport
// faults.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-telemetry/pkg/pipeline"
)

// Config holds configuration for the ingest service.
type Config struct {
	SubscriptionID         string
	NumWorkers             int
	MaxOutstandingMessages int
	SubscriptionTimeout    time.Duration
}

// NewConfigDefaults provides a config with sensible defaults; the service
// will always need a subscription.
func NewConfigDefaults(subscriptionID string) *Config {
	return &Config{
		SubscriptionID:         subscriptionID,
		NumWorkers:             5,
		MaxOutstandingMessages: 100,
		SubscriptionTimeout:    20 * time.Second,
	}
}

// Service consumes the inbound subscription and runs each message through
// the processor.
type Service struct {
	cfg          Config
	subscription *pubsub.Subscription
	processor    *pipeline.Processor
	logger       zerolog.Logger

	messages      chan *pubsub.Message
	cancelReceive context.CancelFunc
	stopOnce      sync.Once
	wg            sync.WaitGroup
	doneChan      chan struct{}
}

// NewService verifies the subscription exists and prepares a service around it.
func NewService(cfg *Config, client *pubsub.Client, processor *pipeline.Processor, logger zerolog.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if cfg.MaxOutstandingMessages <= 0 {
		cfg.MaxOutstandingMessages = 100
	}

	sub := client.Subscription(cfg.SubscriptionID)
	existsCtx, cancel := context.WithTimeout(context.Background(), cfg.SubscriptionTimeout)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil || !exists {
		return nil, fmt.Errorf("subscription %s does not exist: %w", cfg.SubscriptionID, err)
	}
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages

	return &Service{
		cfg:          *cfg,
		subscription: sub,
		processor:    processor,
		logger:       logger.With().Str("component", "IngestService").Str("subscription_id", cfg.SubscriptionID).Logger(),
		messages:     make(chan *pubsub.Message, cfg.MaxOutstandingMessages),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start begins consumption and spawns the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info().Int("worker_count", s.cfg.NumWorkers).Msg("Starting ingest service...")
	receiveCtx, cancel := context.WithCancel(ctx)
	s.cancelReceive = cancel

	s.wg.Add(s.cfg.NumWorkers)
	for i := 0; i < s.cfg.NumWorkers; i++ {
		go s.worker(receiveCtx, i)
	}

	go func() {
		defer close(s.messages)
		defer close(s.doneChan)
		err := s.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			select {
			case s.messages <- msg:
			case <-receiveCtx.Done():
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
		s.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")
	}()

	s.logger.Info().Msg("Ingest service started.")
	return nil
}

// worker drains the message channel until it closes.
func (s *Service) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Ingest worker started.")

	for msg := range s.messages {
		out := s.processor.ProcessMessage(ctx, msg.Data, pipeline.SourceQueue)
		// A failed message is acked too: redelivery would only replay the
		// same negative outcome.
		msg.Ack()
		if out.Success {
			s.logger.Debug().Str("msg_id", msg.ID).Msg("Message ingested.")
		} else {
			s.logger.Warn().Str("msg_id", msg.ID).Str("outcome", out.Message).Msg("Message failed processing.")
		}
	}
	s.logger.Debug().Int("worker_id", workerID).Msg("Ingest worker exiting.")
}

// Stop ceases consumption and waits for in-flight work, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping ingest service...")
		if s.cancelReceive != nil {
			s.cancelReceive()
		}

		workersDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(workersDone)
		}()

		select {
		case <-workersDone:
			s.logger.Info().Msg("All ingest workers completed gracefully.")
		case <-ctx.Done():
			s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for ingest workers to finish.")
			stopErr = ctx.Err()
		}
	})
	return stopErr
}

// Done returns a channel closed when the receive loop has fully stopped.
func (s *Service) Done() <-chan struct{} { return s.doneChan }
