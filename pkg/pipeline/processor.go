package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-telemetry/pkg/envelope"
)

// Outcome is the result of one pipeline invocation. The pipeline never
// propagates a fault to its caller: every failure is converted into a
// negative outcome carrying an operator-readable message.
type Outcome struct {
	Success bool
	Message string
}

// Processor is the classification and routing core. Each invocation owns its
// envelope and record values exclusively; the only shared state lives inside
// the injected sinks, so one Processor serves concurrent triggers.
type Processor struct {
	publisher *Publisher
	blobs     BlobSource
	presence  PresenceTracker
	logger    zerolog.Logger
}

// NewProcessor creates a Processor. The blob source may be nil for
// deployments that never see upload notifications, and the presence tracker
// may be nil when no live device list is wanted.
func NewProcessor(publisher *Publisher, blobs BlobSource, presence PresenceTracker, logger zerolog.Logger) (*Processor, error) {
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	return &Processor{
		publisher: publisher,
		blobs:     blobs,
		presence:  presence,
		logger:    logger.With().Str("component", "Processor").Logger(),
	}, nil
}

// ProcessMessage runs one raw payload through parse, classify, and publish.
// source labels the trigger for logging. Every deviceId-bearing message
// reaches a delivery attempt, even when its shape matches no known kind.
func (p *Processor) ProcessMessage(ctx context.Context, raw []byte, source string) Outcome {
	env, err := envelope.Parse(raw)
	if err != nil {
		out := parseFailure(err)
		p.logger.Error().Err(err).Str("source", source).Msg(out.Message)
		return out
	}

	partitionDate := env.PartitionDate()
	p.logger.Info().
		Str("source", source).
		Str("device_id", env.DeviceID).
		Str("event_type", env.EventTypeCode).
		Msg("Processing message")

	var out Outcome
	switch env.EventTypeCode {
	case envelope.EventTypeRegister:
		out = p.processRegistration(ctx, env, raw)
	case envelope.EventTypeStorage:
		// Upload notifications reference a batch file rather than carrying
		// telemetry; each of its lines re-enters this method.
		out = p.ProcessFile(ctx, raw, source)
	case envelope.EventTypeHeartbeat:
		out = p.processHeartbeat(ctx, env, raw, partitionDate)
	default:
		out = p.processGeneric(ctx, env, raw, partitionDate)
	}

	if out.Success {
		out.Message += "; message processed successfully!"
		p.logger.Info().Str("source", source).Str("device_id", env.DeviceID).Msg(out.Message)
		p.touchPresence(ctx, env)
	} else {
		out.Message += "; error processing message!"
		p.logger.Error().Str("source", source).Str("device_id", env.DeviceID).Msg(out.Message)
	}
	return out
}

func parseFailure(err error) Outcome {
	switch {
	case errors.Is(err, envelope.ErrEmptyInput):
		return Outcome{Message: "No message body found!"}
	case errors.Is(err, envelope.ErrMissingDeviceID):
		return Outcome{Message: "Invalid message - no DeviceId found in message!"}
	default:
		return Outcome{Message: "Invalid message!"}
	}
}

func (p *Processor) processRegistration(ctx context.Context, env *envelope.Envelope, raw []byte) Outcome {
	reg := NewRegistration(env)
	msg := fmt.Sprintf("Device '%s' Registration received", reg.DeviceID)
	if reg.EventDateTime != nil {
		msg = fmt.Sprintf("%s, Device Time: %s", msg, reg.EventDateTime.UTC().Format("2006-01-02 15:04:05")+"Z")
	}
	out := p.publisher.Publish(ctx, DeviceContainer, reg.PartitionKey, reg, raw)
	return Outcome{Success: out.Success, Message: msg + out.Message()}
}

func (p *Processor) processHeartbeat(ctx context.Context, env *envelope.Envelope, raw []byte, partitionDate string) Outcome {
	hb := NewHeartbeat(env, partitionDate)
	if !hb.HasReading() {
		return Outcome{Message: "Body does not have valid data (needs Temperature or AdditionalData)!"}
	}

	var msg string
	if hb.Temperature != nil {
		msg = fmt.Sprintf("Received Temperature of %g for device %s; MessageId: %s", *hb.Temperature, hb.DeviceID, hb.MessageID)
	} else {
		msg = fmt.Sprintf("Received Unstructured Data of %s for device %s; MessageId: %s", hb.AdditionalData, hb.DeviceID, hb.MessageID)
	}

	out := p.publisher.Publish(ctx, DataContainer, hb.PartitionKey, hb, raw)
	return Outcome{Success: out.Success, Message: msg + out.Message()}
}

func (p *Processor) processGeneric(ctx context.Context, env *envelope.Envelope, raw []byte, partitionDate string) Outcome {
	rec := NewGenericRecord(env, partitionDate)
	msg := fmt.Sprintf("Received Unstructured Data of %s for device %s; MessageId: %s", rec.AdditionalData, rec.DeviceID, rec.MessageID)
	out := p.publisher.Publish(ctx, DataContainer, rec.PartitionKey, rec, raw)
	return Outcome{Success: out.Success, Message: msg + out.Message()}
}

// touchPresence records device liveness after a successful delivery. Tracking
// failures are logged and swallowed; presence is advisory state.
func (p *Processor) touchPresence(ctx context.Context, env *envelope.Envelope) {
	if p.presence == nil || env.DeviceID == "" {
		return
	}
	if err := p.presence.Touch(ctx, env.DeviceID, env.EventTypeCode); err != nil {
		p.logger.Warn().Err(err).Str("device_id", env.DeviceID).Msg("Failed to update device presence.")
	}
}
