package pipeline_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-telemetry/pkg/pipeline"
)

func newTestProcessor(t *testing.T, durable *mockRecordSink, notify *mockNotifySink, presence *mockPresenceTracker) *pipeline.Processor {
	t.Helper()
	pub := newBothLegsPublisher(durable, notify)
	var tracker pipeline.PresenceTracker
	if presence != nil {
		tracker = presence
	}
	proc, err := pipeline.NewProcessor(pub, nil, tracker, zerolog.Nop())
	require.NoError(t, err)
	return proc
}

func TestNewProcessor_RequiresPublisher(t *testing.T) {
	_, err := pipeline.NewProcessor(nil, nil, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestProcessMessage_ParseFailures(t *testing.T) {
	testCases := []struct {
		name        string
		raw         []byte
		wantMessage string
	}{
		{name: "Empty body", raw: []byte(""), wantMessage: "No message body found!"},
		{name: "Missing device id", raw: []byte(`{"eventTypeCode":"Heartbeat","temperature":20}`), wantMessage: "Invalid message - no DeviceId found in message!"},
		{name: "Not JSON", raw: []byte("garbage"), wantMessage: "Invalid message!"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			durable := &mockRecordSink{}
			notify := &mockNotifySink{}
			proc := newTestProcessor(t, durable, notify, nil)

			// Act
			out := proc.ProcessMessage(context.Background(), tc.raw, pipeline.SourceAPI)

			// Assert
			assert.False(t, out.Success)
			assert.Equal(t, tc.wantMessage, out.Message)
			assert.Empty(t, durable.Writes(), "rejected messages must not reach a sink")
			assert.Empty(t, notify.Notifications())
		})
	}
}

func TestProcessMessage_Registration(t *testing.T) {
	// Arrange
	durable := &mockRecordSink{}
	notify := &mockNotifySink{}
	proc := newTestProcessor(t, durable, notify, nil)
	raw := []byte(`{"deviceId":"mydevice","eventTypeCode":"Register","eventDateTime":"2022-06-29T10:00:00Z"}`)

	// Act
	out := proc.ProcessMessage(context.Background(), raw, pipeline.SourceAPI)

	// Assert
	require.True(t, out.Success)
	assert.Contains(t, out.Message, "Device 'mydevice' Registration received")
	assert.Contains(t, out.Message, "Device Time: 2022-06-29 10:00:00Z")
	assert.Contains(t, out.Message, "message processed successfully!")

	writes := durable.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, pipeline.DeviceContainer, writes[0].Container)
	assert.Equal(t, "mydevice", writes[0].PartitionKey, "registry partitions by device alone")
	reg, ok := writes[0].Record.(*pipeline.Registration)
	require.True(t, ok)
	assert.Equal(t, "mydevice", reg.DeviceID)
	assert.NotEmpty(t, reg.MessageID, "an id is generated when the payload has none")
}

func TestProcessMessage_Heartbeat(t *testing.T) {
	t.Run("temperature reading lands in the day bucket", func(t *testing.T) {
		// Arrange
		durable := &mockRecordSink{}
		notify := &mockNotifySink{}
		proc := newTestProcessor(t, durable, notify, nil)
		raw := []byte(`{"id":"msg-42","deviceId":"mydevice","eventTypeCode":"Heartbeat","temperature":68.5,"timeStamp":"2022-06-29T10:00:00Z"}`)

		// Act
		out := proc.ProcessMessage(context.Background(), raw, pipeline.SourceQueue)

		// Assert
		require.True(t, out.Success)
		assert.Contains(t, out.Message, "Received Temperature of 68.5 for device mydevice")
		assert.Contains(t, out.Message, "MessageId: msg-42")

		writes := durable.Writes()
		require.Len(t, writes, 1)
		assert.Equal(t, pipeline.DataContainer, writes[0].Container)
		assert.Equal(t, "mydevice-20220629", writes[0].PartitionKey)
		hb, ok := writes[0].Record.(*pipeline.Heartbeat)
		require.True(t, ok)
		assert.Equal(t, "msg-42", hb.MessageID, "a supplied id is preserved")
		require.NotNil(t, hb.Temperature)
		assert.InDelta(t, 68.5, *hb.Temperature, 0.001)

		require.Len(t, notify.Notifications(), 1)
		assert.Equal(t, raw, notify.Notifications()[0].Payload, "the notify leg carries the raw payload")
	})

	t.Run("unstructured data is enough", func(t *testing.T) {
		// Arrange
		durable := &mockRecordSink{}
		notify := &mockNotifySink{}
		proc := newTestProcessor(t, durable, notify, nil)
		raw := []byte(`{"deviceId":"mydevice","eventTypeCode":"Heartbeat","data":"0xDEAD","timeStamp":"2022-06-29T10:00:00Z"}`)

		// Act
		out := proc.ProcessMessage(context.Background(), raw, pipeline.SourceQueue)

		// Assert
		require.True(t, out.Success)
		assert.Contains(t, out.Message, "Received Unstructured Data of 0xDEAD for device mydevice")
	})

	t.Run("empty heartbeat never reaches a sink", func(t *testing.T) {
		// Arrange
		durable := &mockRecordSink{}
		notify := &mockNotifySink{}
		proc := newTestProcessor(t, durable, notify, nil)
		raw := []byte(`{"deviceId":"mydevice","eventTypeCode":"Heartbeat"}`)

		// Act
		out := proc.ProcessMessage(context.Background(), raw, pipeline.SourceQueue)

		// Assert
		require.False(t, out.Success)
		assert.Contains(t, out.Message, "Body does not have valid data (needs Temperature or AdditionalData)!")
		assert.Contains(t, out.Message, "error processing message!")
		assert.Empty(t, durable.Writes())
		assert.Empty(t, notify.Notifications())
	})
}

func TestProcessMessage_GenericCatchAll(t *testing.T) {
	testCases := []struct {
		name string
		raw  []byte
	}{
		{name: "Unknown event type", raw: []byte(`{"deviceId":"mydevice","eventTypeCode":"Firmware","data":"v1.2.3","timeStamp":"2022-06-29T10:00:00Z"}`)},
		{name: "No event type at all", raw: []byte(`{"deviceId":"mydevice","data":"opaque","timeStamp":"2022-06-29T10:00:00Z"}`)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			durable := &mockRecordSink{}
			notify := &mockNotifySink{}
			proc := newTestProcessor(t, durable, notify, nil)

			// Act
			out := proc.ProcessMessage(context.Background(), tc.raw, pipeline.SourceAPI)

			// Assert
			require.True(t, out.Success, "every device-bearing message gets a delivery attempt")
			writes := durable.Writes()
			require.Len(t, writes, 1)
			assert.Equal(t, pipeline.DataContainer, writes[0].Container)
			assert.Equal(t, "mydevice-20220629", writes[0].PartitionKey)
			_, ok := writes[0].Record.(*pipeline.GenericRecord)
			assert.True(t, ok)
		})
	}
}

func TestProcessMessage_SinkFailureFailsTheMessage(t *testing.T) {
	// Arrange
	durable := &mockRecordSink{err: assert.AnError}
	notify := &mockNotifySink{}
	proc := newTestProcessor(t, durable, notify, nil)
	raw := []byte(`{"deviceId":"mydevice","eventTypeCode":"Heartbeat","temperature":20,"timeStamp":"2022-06-29T10:00:00Z"}`)

	// Act
	out := proc.ProcessMessage(context.Background(), raw, pipeline.SourceQueue)

	// Assert
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "write to store failed!")
	assert.Contains(t, out.Message, "error processing message!")
}

func TestProcessMessage_PresenceTouch(t *testing.T) {
	t.Run("successful delivery touches presence", func(t *testing.T) {
		// Arrange
		presence := &mockPresenceTracker{}
		proc := newTestProcessor(t, &mockRecordSink{}, &mockNotifySink{}, presence)
		raw := []byte(`{"deviceId":"mydevice","eventTypeCode":"Heartbeat","temperature":20}`)

		// Act
		out := proc.ProcessMessage(context.Background(), raw, pipeline.SourceQueue)

		// Assert
		require.True(t, out.Success)
		touches := presence.Touches()
		require.Len(t, touches, 1)
		assert.Equal(t, "mydevice", touches[0].DeviceID)
		assert.Equal(t, "Heartbeat", touches[0].EventTypeCode)
	})

	t.Run("failed delivery leaves presence alone", func(t *testing.T) {
		// Arrange
		presence := &mockPresenceTracker{}
		proc := newTestProcessor(t, &mockRecordSink{err: assert.AnError}, &mockNotifySink{}, presence)
		raw := []byte(`{"deviceId":"mydevice","eventTypeCode":"Heartbeat","temperature":20}`)

		// Act
		out := proc.ProcessMessage(context.Background(), raw, pipeline.SourceQueue)

		// Assert
		require.False(t, out.Success)
		assert.Empty(t, presence.Touches())
	})

	t.Run("presence failure does not fail the message", func(t *testing.T) {
		// Arrange
		presence := &mockPresenceTracker{err: assert.AnError}
		proc := newTestProcessor(t, &mockRecordSink{}, &mockNotifySink{}, presence)
		raw := []byte(`{"deviceId":"mydevice","eventTypeCode":"Heartbeat","temperature":20}`)

		// Act
		out := proc.ProcessMessage(context.Background(), raw, pipeline.SourceQueue)

		// Assert
		assert.True(t, out.Success, "presence is advisory state")
	})
}
