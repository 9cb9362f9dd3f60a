// Package sinks provides the delivery legs the publisher writes to: document
// and time-series durable stores, and the live notification channel.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/illmade-knight/go-telemetry/pkg/pipeline"
)

// FirestoreSinkConfig holds configuration for the Firestore record sink.
type FirestoreSinkConfig struct {
	ProjectID       string
	CredentialsFile string // Optional; Application Default Credentials otherwise.
}

// FirestoreSink persists records to Firestore, one collection per logical
// container. The client is created lazily on first use and reused for the
// life of the process; initialization is serialized so concurrent first
// writes converge on a single handle.
type FirestoreSink struct {
	cfg    FirestoreSinkConfig
	logger zerolog.Logger

	mu     sync.Mutex
	client *firestore.Client
}

// NewFirestoreSink creates a sink; no connection is made until the first write.
func NewFirestoreSink(cfg FirestoreSinkConfig, logger zerolog.Logger) (*FirestoreSink, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project id is required")
	}
	return &FirestoreSink{
		cfg:    cfg,
		logger: logger.With().Str("component", "FirestoreSink").Logger(),
	}, nil
}

// clientHandle returns the shared client, creating it on first use.
func (s *FirestoreSink) clientHandle(ctx context.Context) (*firestore.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	var opts []option.ClientOption
	if s.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(s.cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, s.cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	s.client = client
	s.logger.Info().Str("project_id", s.cfg.ProjectID).Msg("Firestore client initialized.")
	return client, nil
}

// CreateOrUpsert writes one record. The device registry is keyed by device
// and upserted, keeping the first-seen message id across re-registrations.
// Data containers get one immutable document per record, keyed by message id.
func (s *FirestoreSink) CreateOrUpsert(ctx context.Context, container, partitionKey string, record pipeline.Record) error {
	client, err := s.clientHandle(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", pipeline.ErrSinkUnavailable, err)
	}

	coll := client.Collection(container)
	if container == pipeline.DeviceContainer {
		return s.upsertDevice(ctx, coll, record)
	}

	if _, err := coll.Doc(record.RecordID()).Create(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("container", container).Str("partition_key", partitionKey).Msg("Firestore create failed.")
		return fmt.Errorf("%w: firestore create %s/%s: %s", pipeline.ErrSinkRejected, container, record.RecordID(), err)
	}
	s.logger.Debug().Str("container", container).Str("doc", record.RecordID()).Msg("Record created.")
	return nil
}

func (s *FirestoreSink) upsertDevice(ctx context.Context, coll *firestore.CollectionRef, record pipeline.Record) error {
	doc := coll.Doc(record.Device())

	snap, err := doc.Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("%w: firestore get device %s: %s", pipeline.ErrSinkUnavailable, record.Device(), err)
	}
	if err == nil {
		// A re-registration keeps the identifier the device first registered
		// with, so downstream references stay stable.
		var existing pipeline.Registration
		if derr := snap.DataTo(&existing); derr == nil && existing.MessageID != "" {
			if reg, ok := record.(*pipeline.Registration); ok {
				reg.MessageID = existing.MessageID
			}
		}
	}

	if _, err := doc.Set(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("device_id", record.Device()).Msg("Firestore device upsert failed.")
		return fmt.Errorf("%w: firestore upsert device %s: %s", pipeline.ErrSinkRejected, record.Device(), err)
	}
	s.logger.Debug().Str("device_id", record.Device()).Msg("Device registration upserted.")
	return nil
}

// Close releases the client if one was ever created.
func (s *FirestoreSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
