package sinks

import (
	"context"
	"errors"

	"github.com/illmade-knight/go-telemetry/pkg/pipeline"
)

// TeeSink fans one durable write out to several record sinks, letting the
// document store and the time-series store both serve the durable leg.
type TeeSink struct {
	targets []pipeline.RecordSink
}

// NewTeeSink creates a fan-out sink over the given targets.
func NewTeeSink(targets ...pipeline.RecordSink) (*TeeSink, error) {
	if len(targets) == 0 {
		return nil, errors.New("tee sink needs at least one target")
	}
	return &TeeSink{targets: targets}, nil
}

// CreateOrUpsert writes the record to every target. Every target is
// attempted even after a failure; the first error is returned so the durable
// leg reports failure unless all targets accepted.
func (t *TeeSink) CreateOrUpsert(ctx context.Context, container, partitionKey string, record pipeline.Record) error {
	var firstErr error
	for _, target := range t.targets {
		if err := target.CreateOrUpsert(ctx, container, partitionKey, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
