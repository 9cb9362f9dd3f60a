package pipeline_test

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-telemetry/pkg/pipeline"
)

// --- Mock implementations for testing ---

type recordedWrite struct {
	Container    string
	PartitionKey string
	Record       pipeline.Record
}

// mockRecordSink captures durable writes and can be primed to fail.
type mockRecordSink struct {
	mu     sync.Mutex
	writes []recordedWrite
	err    error
}

func (m *mockRecordSink) CreateOrUpsert(_ context.Context, container, partitionKey string, record pipeline.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes = append(m.writes, recordedWrite{Container: container, PartitionKey: partitionKey, Record: record})
	return nil
}

func (m *mockRecordSink) Writes() []recordedWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordedWrite, len(m.writes))
	copy(out, m.writes)
	return out
}

type recordedNotification struct {
	DeviceID  string
	MessageID string
	Payload   []byte
}

// mockNotifySink captures live notifications and can be primed to fail.
type mockNotifySink struct {
	mu            sync.Mutex
	notifications []recordedNotification
	err           error
}

func (m *mockNotifySink) Publish(_ context.Context, deviceID, messageID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.notifications = append(m.notifications, recordedNotification{DeviceID: deviceID, MessageID: messageID, Payload: payload})
	return nil
}

func (m *mockNotifySink) Notifications() []recordedNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordedNotification, len(m.notifications))
	copy(out, m.notifications)
	return out
}

type touched struct {
	DeviceID      string
	EventTypeCode string
}

// mockPresenceTracker captures liveness touches and can be primed to fail.
type mockPresenceTracker struct {
	mu      sync.Mutex
	touches []touched
	err     error
}

func (m *mockPresenceTracker) Touch(_ context.Context, deviceID, eventTypeCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.touches = append(m.touches, touched{DeviceID: deviceID, EventTypeCode: eventTypeCode})
	return nil
}

func (m *mockPresenceTracker) Touches() []touched {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]touched, len(m.touches))
	copy(out, m.touches)
	return out
}

// newBothLegsPublisher wires a publisher with both legs enabled over mocks.
func newBothLegsPublisher(durable *mockRecordSink, notify *mockNotifySink) *pipeline.Publisher {
	pub, err := pipeline.NewPublisher(
		pipeline.PublisherConfig{DurableEnabled: true, NotifyEnabled: true},
		durable, notify, zerolog.Nop(),
	)
	if err != nil {
		panic(err)
	}
	return pub
}
