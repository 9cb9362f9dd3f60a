package pipeline

import (
	"github.com/google/uuid"

	"github.com/illmade-knight/go-telemetry/pkg/envelope"
)

// Record is the publishable form of a classified message. Records are built
// once per inbound message and never mutated after being handed to the
// Publisher.
type Record interface {
	Device() string
	RecordID() string
}

// ensureMessageID keeps a caller-supplied identifier and generates one
// otherwise. The nil UUID counts as absent; legacy senders emit it for
// unset ids.
func ensureMessageID(id string) string {
	if id == "" || id == uuid.Nil.String() {
		return uuid.NewString()
	}
	return id
}

// Registration announces a device to the registry.
type Registration struct {
	MessageID     string              `json:"id"`
	PartitionKey  string              `json:"partitionKey,omitempty"`
	DeviceID      string              `json:"deviceId"`
	EventDateTime *envelope.Timestamp `json:"eventDateTime,omitempty"`
	EventTypeCode string              `json:"eventTypeCode"`
}

// NewRegistration builds a Registration from a scrubbed envelope. The
// registry is keyed by device alone, so the partition key carries no day
// bucket.
func NewRegistration(env *envelope.Envelope) *Registration {
	return &Registration{
		MessageID:     ensureMessageID(env.MessageID),
		PartitionKey:  env.DeviceID,
		DeviceID:      env.DeviceID,
		EventDateTime: env.EventDateTime,
		EventTypeCode: envelope.EventTypeRegister,
	}
}

func (r *Registration) Device() string   { return r.DeviceID }
func (r *Registration) RecordID() string { return r.MessageID }

// Heartbeat is a periodic reading. It needs a temperature or an opaque data
// payload to be worth storing.
type Heartbeat struct {
	MessageID      string              `json:"id"`
	PartitionKey   string              `json:"partitionKey,omitempty"`
	DeviceID       string              `json:"deviceId"`
	EventDateTime  *envelope.Timestamp `json:"eventDateTime,omitempty"`
	EventTypeCode  string              `json:"eventTypeCode"`
	Temperature    *float64            `json:"temperature,omitempty"`
	AdditionalData string              `json:"data,omitempty"`
}

// NewHeartbeat builds a Heartbeat from a scrubbed envelope, keyed into the
// device's day bucket.
func NewHeartbeat(env *envelope.Envelope, partitionDate string) *Heartbeat {
	return &Heartbeat{
		MessageID:      ensureMessageID(env.MessageID),
		PartitionKey:   envelope.PartitionKey(env.DeviceID, partitionDate),
		DeviceID:       env.DeviceID,
		EventDateTime:  env.EventDateTime,
		EventTypeCode:  envelope.EventTypeHeartbeat,
		Temperature:    env.Temperature,
		AdditionalData: env.AdditionalData,
	}
}

func (h *Heartbeat) Device() string   { return h.DeviceID }
func (h *Heartbeat) RecordID() string { return h.MessageID }

// HasReading reports whether the heartbeat carries anything storable.
func (h *Heartbeat) HasReading() bool {
	return h.Temperature != nil || h.AdditionalData != ""
}

// GenericRecord is the catch-all for envelopes whose shape matches no known
// kind; every device-bearing message still gets a delivery attempt.
type GenericRecord struct {
	MessageID        string              `json:"id"`
	PartitionKey     string              `json:"partitionKey,omitempty"`
	DeviceID         string              `json:"deviceId"`
	EventDateTime    *envelope.Timestamp `json:"eventDateTime,omitempty"`
	EventTypeCode    string              `json:"eventTypeCode,omitempty"`
	EventSubTypeCode string              `json:"eventSubTypeCode,omitempty"`
	AdditionalData   string              `json:"data,omitempty"`
}

// NewGenericRecord builds a GenericRecord from a scrubbed envelope.
func NewGenericRecord(env *envelope.Envelope, partitionDate string) *GenericRecord {
	return &GenericRecord{
		MessageID:        ensureMessageID(env.MessageID),
		PartitionKey:     envelope.PartitionKey(env.DeviceID, partitionDate),
		DeviceID:         env.DeviceID,
		EventDateTime:    env.EventDateTime,
		EventTypeCode:    env.EventTypeCode,
		EventSubTypeCode: env.EventSubTypeCode,
		AdditionalData:   env.AdditionalData,
	}
}

func (g *GenericRecord) Device() string   { return g.DeviceID }
func (g *GenericRecord) RecordID() string { return g.MessageID }
