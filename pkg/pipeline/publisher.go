package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// SinkResult is the outcome of one delivery leg.
type SinkResult struct {
	// Attempted is false when the leg is not enabled. A skipped leg is not a
	// failure.
	Attempted bool
	Delivered bool
	Detail    string
}

// PublishOutcome combines the independent results of both delivery legs.
// Tests and callers inspect the structured fields; Message renders them for
// operators.
type PublishOutcome struct {
	Success bool
	Durable SinkResult
	Notify  SinkResult
}

// Message renders the outcome as an accumulated trace, durable leg first,
// so a failed leg can be spotted without consulting separate logs.
func (o PublishOutcome) Message() string {
	var b strings.Builder
	appendLeg(&b, "store", o.Durable)
	appendLeg(&b, "notify", o.Notify)
	return b.String()
}

func appendLeg(b *strings.Builder, name string, r SinkResult) {
	switch {
	case !r.Attempted:
		fmt.Fprintf(b, "; %s not enabled", name)
	case r.Delivered:
		fmt.Fprintf(b, "; written to %s", name)
	default:
		fmt.Fprintf(b, "; write to %s failed! %s", name, r.Detail)
	}
}

// PublisherConfig enables or disables each delivery leg.
type PublisherConfig struct {
	DurableEnabled bool
	NotifyEnabled  bool
}

// LoadPublisherConfigFromEnv reads the WRITE_TO_STORE and WRITE_TO_NOTIFY
// flags. A leg is enabled unless its variable starts with "n" or "N",
// preserving the legacy Y/N convention where unset means enabled.
func LoadPublisherConfigFromEnv() PublisherConfig {
	return PublisherConfig{
		DurableEnabled: enabledFlag(os.Getenv("WRITE_TO_STORE")),
		NotifyEnabled:  enabledFlag(os.Getenv("WRITE_TO_NOTIFY")),
	}
}

func enabledFlag(v string) bool {
	return v == "" || !strings.HasPrefix(strings.ToUpper(v), "N")
}

// Publisher delivers classified records to the durable store and the live
// notification channel. The two sinks serve different consumers with
// different availability profiles, so each leg is attempted independently; a
// transient outage in one never blocks the other.
type Publisher struct {
	cfg     PublisherConfig
	durable RecordSink
	notify  NotifySink
	logger  zerolog.Logger
}

// NewPublisher creates a Publisher. A sink may be nil only when its leg is
// disabled.
func NewPublisher(cfg PublisherConfig, durable RecordSink, notify NotifySink, logger zerolog.Logger) (*Publisher, error) {
	if cfg.DurableEnabled && durable == nil {
		return nil, errors.New("durable sink cannot be nil when the durable leg is enabled")
	}
	if cfg.NotifyEnabled && notify == nil {
		return nil, errors.New("notify sink cannot be nil when the notify leg is enabled")
	}
	return &Publisher{
		cfg:     cfg,
		durable: durable,
		notify:  notify,
		logger:  logger.With().Str("component", "Publisher").Logger(),
	}, nil
}

// Publish attempts both legs for one record. With both legs enabled, both
// must succeed for the message to count as fully delivered; with one leg
// enabled the overall result is that leg's result; with neither enabled
// nothing happens and the outcome is a normal, logged non-success.
func (p *Publisher) Publish(ctx context.Context, container, partitionKey string, record Record, rawPayload []byte) PublishOutcome {
	var out PublishOutcome

	if p.cfg.DurableEnabled {
		err := p.durable.CreateOrUpsert(ctx, container, partitionKey, record)
		out.Durable = legResult(err)
		if err != nil {
			p.logger.Error().Err(err).
				Str("device_id", record.Device()).
				Str("container", container).
				Msg("Durable delivery failed.")
		}
	}

	if p.cfg.NotifyEnabled {
		err := p.notify.Publish(ctx, record.Device(), record.RecordID(), rawPayload)
		out.Notify = legResult(err)
		if err != nil {
			p.logger.Error().Err(err).
				Str("device_id", record.Device()).
				Msg("Notify delivery failed.")
		}
	}

	switch {
	case p.cfg.DurableEnabled && p.cfg.NotifyEnabled:
		out.Success = out.Durable.Delivered && out.Notify.Delivered
	case p.cfg.DurableEnabled:
		out.Success = out.Durable.Delivered
	case p.cfg.NotifyEnabled:
		out.Success = out.Notify.Delivered
	default:
		out.Success = false
	}
	return out
}

func legResult(err error) SinkResult {
	if err != nil {
		return SinkResult{Attempted: true, Detail: err.Error()}
	}
	return SinkResult{Attempted: true, Delivered: true}
}
