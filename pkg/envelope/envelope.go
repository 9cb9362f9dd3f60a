// Package envelope normalizes the loosely-structured JSON payloads that devices
// and storage notifications deliver to the pipeline. Parsing resolves aliased
// fields once, derives a device identifier when the payload lacks one, and
// rejects anything that cannot be attributed to a device.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Canonical event kinds used for routing. Any eventTypeCode starting with the
// storage prefix (BlobCreated, BlobDeleted, ...) collapses into the single
// EventTypeStorage bucket during scrubbing.
const (
	EventTypeRegister  = "Register"
	EventTypeHeartbeat = "Heartbeat"
	EventTypeFirmware  = "Firmware"
	EventTypeStorage   = "Microsoft.Storage"

	// EventTypeBlobDeleted is the un-collapsed deletion notification. Deletions
	// carry no payload and are filtered before any file is fetched.
	EventTypeBlobDeleted = "Microsoft.Storage.BlobDeleted"
)

var (
	// ErrEmptyInput is returned when the raw payload is empty or whitespace.
	ErrEmptyInput = errors.New("empty message body")
	// ErrMalformedMessage is returned when the payload does not decode as a JSON object.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrMissingDeviceID is returned when no device identifier survives scrubbing.
	// This is the single required-field gate for the whole pipeline.
	ErrMissingDeviceID = errors.New("no deviceId found in message")
)

// timestampLayouts lists the formats devices have been observed to send,
// tried in order. RFC3339 first since well-behaved senders use it.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp is a time.Time that tolerates the timestamp variants found in
// device payloads, including values without a zone offset.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON decodes a JSON string against each known layout in turn.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// MarshalJSON renders the timestamp as RFC3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Envelope is the normalized, partially-typed view of one inbound payload.
// The json field names are the wire contract other systems rely on.
type Envelope struct {
	MessageID        string     `json:"id,omitempty"`
	PartitionKey     string     `json:"partitionKey,omitempty"`
	DeviceID         string     `json:"deviceId,omitempty"`
	EventDateTime    *Timestamp `json:"eventDateTime,omitempty"`
	EventTypeCode    string     `json:"eventTypeCode,omitempty"`
	EventSubTypeCode string     `json:"eventSubTypeCode,omitempty"`
	EventType        string     `json:"eventType,omitempty"`
	TimeStamp        *Timestamp `json:"timeStamp,omitempty"`
	ReadingDateTime  *Timestamp `json:"readingDateTime,omitempty"`
	AdditionalData   string     `json:"data,omitempty"`
	Temperature      *float64   `json:"temperature,omitempty"`
}

// StorageNotification is the shape of a blob-upload event. It carries a blob
// path rather than a device id; the device is derived from Subject.
type StorageNotification struct {
	Topic     string     `json:"topic"`
	Subject   string     `json:"subject"`
	EventType string     `json:"eventType"`
	EventTime *Timestamp `json:"eventTime,omitempty"`
	ID        string     `json:"id"`
	Data      BlobData   `json:"data"`
}

// BlobData is the metadata block of a storage notification.
type BlobData struct {
	ContentLength int64  `json:"contentLength"`
	URL           string `json:"url"`
}

// Parse decodes raw message bytes into a scrubbed Envelope.
//
// It fails with ErrEmptyInput for empty payloads, ErrMalformedMessage for
// anything that is not a JSON object, and ErrMissingDeviceID when no device
// identifier can be found or derived after scrubbing.
func Parse(raw []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrEmptyInput
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedMessage)
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}

	env.scrub(trimmed)

	if env.DeviceID == "" {
		return nil, ErrMissingDeviceID
	}
	return &env, nil
}

// scrub cleans up mis-named and aliased fields. Order matters: the event time
// aliases resolve first, then the event type, then storage canonicalization,
// and only then is a device id derived for storage notifications.
func (e *Envelope) scrub(raw []byte) {
	if e.EventDateTime == nil {
		if e.TimeStamp != nil {
			e.EventDateTime = e.TimeStamp
		} else if e.ReadingDateTime != nil {
			e.EventDateTime = e.ReadingDateTime
		}
	}

	if e.EventTypeCode == "" && e.EventType != "" {
		e.EventTypeCode = e.EventType
	}

	if strings.HasPrefix(e.EventTypeCode, EventTypeStorage) {
		e.EventTypeCode = EventTypeStorage
	}

	if e.DeviceID == "" && e.EventTypeCode == EventTypeStorage {
		var n StorageNotification
		if err := json.Unmarshal(raw, &n); err == nil && n.Subject != "" {
			e.DeviceID = DeviceIDFromSubject(n.Subject)
		}
	}
}

// PartitionDate formats the event's day bucket as YYYYMMDD, defaulting to the
// current day when the payload carried no usable timestamp. The date is
// computed in process-local time, matching how existing records were bucketed.
func (e *Envelope) PartitionDate() string {
	if e.EventDateTime != nil {
		return e.EventDateTime.Format("20060102")
	}
	return time.Now().Format("20060102")
}

// PartitionKey combines a device with its day bucket. A per-device partition
// alone grows without bound; the day suffix keeps partitions bounded while
// preserving per-device, per-day locality for range queries.
func PartitionKey(deviceID, partitionDate string) string {
	return deviceID + "-" + partitionDate
}
