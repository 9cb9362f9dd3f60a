// Package pipeline classifies inbound telemetry envelopes, routes them to
// type-specific handlers, and delivers the resulting records to a durable
// store and a live notification channel with independent per-sink outcomes.
// Batch files uploaded to blob storage re-enter the same per-message path one
// line at a time.
package pipeline

import (
	"context"
	"errors"
)

// Trigger sources, threaded through logging so operators can tell which
// entry point a message arrived on.
const (
	SourceUnknown    = "Unknown"
	SourceAPI        = "API"
	SourceQueue      = "Queue"
	SourceFileUpload = "FileUpload"
)

// Storage layout shared with the surrounding platform.
const (
	// DataContainer holds one immutable document per telemetry event.
	DataContainer = "DeviceData"
	// DeviceContainer is the device registry; registrations upsert into it.
	DeviceContainer = "DeviceList"
	// UploadContainer is where devices drop batch files and where audit logs
	// are written back.
	UploadContainer = "iothubuploads"
)

var (
	// ErrObjectNotFound is returned by BlobSource implementations when the
	// named object does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrSinkUnavailable marks a delivery failure caused by the sink's
	// connection or client, before the record was presented.
	ErrSinkUnavailable = errors.New("sink unavailable")
	// ErrSinkRejected marks a delivery the sink refused.
	ErrSinkRejected = errors.New("sink rejected record")
)

// RecordSink persists one normalized record into a named container. The
// registry container upserts by device; data containers create one document
// per record.
type RecordSink interface {
	CreateOrUpsert(ctx context.Context, container, partitionKey string, record Record) error
}

// NotifySink pushes one record to the live notification channel. A no-op
// implementation is a valid deployment choice.
type NotifySink interface {
	Publish(ctx context.Context, deviceID, messageID string, payload []byte) error
}

// BlobSource fetches and writes raw objects in the upload container.
type BlobSource interface {
	Fetch(ctx context.Context, objectName string) ([]byte, error)
	Write(ctx context.Context, objectName string, data []byte) error
}

// PresenceTracker records that a device was heard from. Tracking is
// best-effort: failures are logged and never affect message outcomes.
type PresenceTracker interface {
	Touch(ctx context.Context, deviceID, eventTypeCode string) error
}
