package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-telemetry/pkg/pipeline"
)

func testRecord() pipeline.Record {
	return &pipeline.Registration{MessageID: "msg-1", PartitionKey: "mydevice", DeviceID: "mydevice"}
}

func TestNewPublisher_Validation(t *testing.T) {
	t.Run("enabled durable leg requires a sink", func(t *testing.T) {
		_, err := pipeline.NewPublisher(pipeline.PublisherConfig{DurableEnabled: true}, nil, &mockNotifySink{}, zerolog.Nop())
		require.Error(t, err)
	})

	t.Run("enabled notify leg requires a sink", func(t *testing.T) {
		_, err := pipeline.NewPublisher(pipeline.PublisherConfig{NotifyEnabled: true}, &mockRecordSink{}, nil, zerolog.Nop())
		require.Error(t, err)
	})

	t.Run("disabled legs accept nil sinks", func(t *testing.T) {
		pub, err := pipeline.NewPublisher(pipeline.PublisherConfig{}, nil, nil, zerolog.Nop())
		require.NoError(t, err)
		require.NotNil(t, pub)
	})
}

func TestPublisher_LegCombinations(t *testing.T) {
	sinkFailure := errors.New("sink exploded")

	testCases := []struct {
		name          string
		cfg           pipeline.PublisherConfig
		durableErr    error
		notifyErr     error
		wantSuccess   bool
		wantDurable   pipeline.SinkResult
		wantNotifyLeg pipeline.SinkResult
	}{
		{
			name:          "Both enabled, both succeed",
			cfg:           pipeline.PublisherConfig{DurableEnabled: true, NotifyEnabled: true},
			wantSuccess:   true,
			wantDurable:   pipeline.SinkResult{Attempted: true, Delivered: true},
			wantNotifyLeg: pipeline.SinkResult{Attempted: true, Delivered: true},
		},
		{
			name:          "Both enabled, notify fails",
			cfg:           pipeline.PublisherConfig{DurableEnabled: true, NotifyEnabled: true},
			notifyErr:     sinkFailure,
			wantSuccess:   false,
			wantDurable:   pipeline.SinkResult{Attempted: true, Delivered: true},
			wantNotifyLeg: pipeline.SinkResult{Attempted: true, Delivered: false, Detail: "sink exploded"},
		},
		{
			name:          "Both enabled, durable fails",
			cfg:           pipeline.PublisherConfig{DurableEnabled: true, NotifyEnabled: true},
			durableErr:    sinkFailure,
			wantSuccess:   false,
			wantDurable:   pipeline.SinkResult{Attempted: true, Delivered: false, Detail: "sink exploded"},
			wantNotifyLeg: pipeline.SinkResult{Attempted: true, Delivered: true},
		},
		{
			name:        "Durable only, succeeds",
			cfg:         pipeline.PublisherConfig{DurableEnabled: true},
			wantSuccess: true,
			wantDurable: pipeline.SinkResult{Attempted: true, Delivered: true},
		},
		{
			name:        "Durable only, fails",
			cfg:         pipeline.PublisherConfig{DurableEnabled: true},
			durableErr:  sinkFailure,
			wantSuccess: false,
			wantDurable: pipeline.SinkResult{Attempted: true, Delivered: false, Detail: "sink exploded"},
		},
		{
			name:          "Notify only, succeeds",
			cfg:           pipeline.PublisherConfig{NotifyEnabled: true},
			wantSuccess:   true,
			wantNotifyLeg: pipeline.SinkResult{Attempted: true, Delivered: true},
		},
		{
			name:        "Neither enabled is a calm non-success",
			cfg:         pipeline.PublisherConfig{},
			wantSuccess: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			durable := &mockRecordSink{err: tc.durableErr}
			notify := &mockNotifySink{err: tc.notifyErr}
			pub, err := pipeline.NewPublisher(tc.cfg, durable, notify, zerolog.Nop())
			require.NoError(t, err)

			// Act
			out := pub.Publish(context.Background(), pipeline.DataContainer, "mydevice-20220629", testRecord(), []byte(`{}`))

			// Assert
			assert.Equal(t, tc.wantSuccess, out.Success)
			assert.Equal(t, tc.wantDurable, out.Durable)
			assert.Equal(t, tc.wantNotifyLeg, out.Notify)
		})
	}
}

func TestPublisher_FailedLegDoesNotBlockTheOther(t *testing.T) {
	// Arrange
	durable := &mockRecordSink{err: errors.New("store down")}
	notify := &mockNotifySink{}
	pub := newBothLegsPublisher(durable, notify)

	// Act
	out := pub.Publish(context.Background(), pipeline.DataContainer, "mydevice-20220629", testRecord(), []byte(`{"a":1}`))

	// Assert
	assert.False(t, out.Success)
	require.Len(t, notify.Notifications(), 1, "notify leg must still be attempted after a durable failure")
	assert.Equal(t, "mydevice", notify.Notifications()[0].DeviceID)
	assert.Equal(t, []byte(`{"a":1}`), notify.Notifications()[0].Payload)
}

func TestPublishOutcome_Message(t *testing.T) {
	testCases := []struct {
		name    string
		outcome pipeline.PublishOutcome
		want    string
	}{
		{
			name: "Both delivered, store reported first",
			outcome: pipeline.PublishOutcome{
				Durable: pipeline.SinkResult{Attempted: true, Delivered: true},
				Notify:  pipeline.SinkResult{Attempted: true, Delivered: true},
			},
			want: "; written to store; written to notify",
		},
		{
			name: "Notify failure carries its detail",
			outcome: pipeline.PublishOutcome{
				Durable: pipeline.SinkResult{Attempted: true, Delivered: true},
				Notify:  pipeline.SinkResult{Attempted: true, Detail: "timeout"},
			},
			want: "; written to store; write to notify failed! timeout",
		},
		{
			name: "Disabled legs read as not enabled",
			outcome: pipeline.PublishOutcome{
				Durable: pipeline.SinkResult{Attempted: true, Delivered: true},
			},
			want: "; written to store; notify not enabled",
		},
		{
			name:    "Nothing enabled",
			outcome: pipeline.PublishOutcome{},
			want:    "; store not enabled; notify not enabled",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.outcome.Message())
		})
	}
}

func TestEnabledFlagConvention(t *testing.T) {
	testCases := []struct {
		value string
		want  bool
	}{
		{value: "", want: true},
		{value: "Y", want: true},
		{value: "yes", want: true},
		{value: "N", want: false},
		{value: "n", want: false},
		{value: "No", want: false},
		{value: "anything-else", want: true},
	}

	for _, tc := range testCases {
		t.Run("value "+tc.value, func(t *testing.T) {
			t.Setenv("WRITE_TO_STORE", tc.value)
			t.Setenv("WRITE_TO_NOTIFY", tc.value)
			cfg := pipeline.LoadPublisherConfigFromEnv()
			assert.Equal(t, tc.want, cfg.DurableEnabled)
			assert.Equal(t, tc.want, cfg.NotifyEnabled)
		})
	}
}
