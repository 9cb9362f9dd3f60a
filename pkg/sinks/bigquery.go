package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/illmade-knight/go-telemetry/pkg/pipeline"
)

// BigQuerySinkConfig holds configuration for the BigQuery record sink.
type BigQuerySinkConfig struct {
	ProjectID       string
	DatasetID       string
	CredentialsFile string // Optional; Application Default Credentials otherwise.
}

// BigQuerySink streams records into one time-series table per logical
// container. The client and per-table inserters are created lazily on first
// use and cached for the life of the process.
type BigQuerySink struct {
	cfg    BigQuerySinkConfig
	logger zerolog.Logger

	mu        sync.Mutex
	client    *bigquery.Client
	inserters map[string]*bigquery.Inserter
}

// NewBigQuerySink creates a sink; no connection is made until the first write.
func NewBigQuerySink(cfg BigQuerySinkConfig, logger zerolog.Logger) (*BigQuerySink, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("bigquery project id is required")
	}
	if cfg.DatasetID == "" {
		return nil, errors.New("bigquery dataset id is required")
	}
	return &BigQuerySink{
		cfg:       cfg,
		logger:    logger.With().Str("component", "BigQuerySink").Str("dataset_id", cfg.DatasetID).Logger(),
		inserters: make(map[string]*bigquery.Inserter),
	}, nil
}

// inserterFor returns the cached inserter for a container's table, creating
// the shared client and the inserter on first use.
func (s *BigQuerySink) inserterFor(ctx context.Context, container string) (*bigquery.Inserter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ins, ok := s.inserters[container]; ok {
		return ins, nil
	}

	if s.client == nil {
		var opts []option.ClientOption
		if s.cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(s.cfg.CredentialsFile))
		}
		client, err := bigquery.NewClient(ctx, s.cfg.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("bigquery.NewClient: %w", err)
		}
		s.client = client
		s.logger.Info().Str("project_id", s.cfg.ProjectID).Msg("BigQuery client initialized.")
	}

	ins := s.client.Dataset(s.cfg.DatasetID).Table(strings.ToLower(container)).Inserter()
	s.inserters[container] = ins
	return ins, nil
}

// CreateOrUpsert streams one record. The record id doubles as the insert id,
// giving BigQuery best-effort dedupe on redelivered messages.
func (s *BigQuerySink) CreateOrUpsert(ctx context.Context, container, partitionKey string, record pipeline.Record) error {
	ins, err := s.inserterFor(ctx, container)
	if err != nil {
		return fmt.Errorf("%w: %s", pipeline.ErrSinkUnavailable, err)
	}

	if err := ins.Put(ctx, recordRow{record: record, partitionKey: partitionKey}); err != nil {
		s.logger.Error().Err(err).Str("container", container).Str("partition_key", partitionKey).Msg("BigQuery insert failed.")
		return fmt.Errorf("%w: bigquery insert into %s: %s", pipeline.ErrSinkRejected, container, err)
	}
	s.logger.Debug().Str("container", container).Str("record_id", record.RecordID()).Msg("Record streamed to BigQuery.")
	return nil
}

// Close releases the client if one was ever created.
func (s *BigQuerySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.inserters = make(map[string]*bigquery.Inserter)
	return err
}

// recordRow flattens a record into the stable table schema: identity columns
// for querying plus the full record as a JSON payload column.
type recordRow struct {
	record       pipeline.Record
	partitionKey string
}

// Save implements bigquery.ValueSaver.
func (r recordRow) Save() (map[string]bigquery.Value, string, error) {
	payload, err := json.Marshal(r.record)
	if err != nil {
		return nil, "", fmt.Errorf("marshal record %s: %w", r.record.RecordID(), err)
	}
	row := map[string]bigquery.Value{
		"id":           r.record.RecordID(),
		"deviceId":     r.record.Device(),
		"partitionKey": r.partitionKey,
		"ingestedAt":   time.Now().UTC(),
		"payload":      string(payload),
	}
	return row, r.record.RecordID(), nil
}
