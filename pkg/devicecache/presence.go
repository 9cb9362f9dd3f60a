package devicecache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// DeviceStatus is the last-seen state kept per device. The dashboard reads
// it for the live device list instead of scanning the document store.
type DeviceStatus struct {
	DeviceID      string    `json:"deviceId"`
	LastSeen      time.Time `json:"lastSeen"`
	LastEventType string    `json:"lastEventType"`
}

// PresenceTracker records device liveness into a Cache after successful
// deliveries.
type PresenceTracker struct {
	cache  Cache[string, DeviceStatus]
	logger zerolog.Logger
	now    func() time.Time
}

// NewPresenceTracker creates a tracker over the given cache.
func NewPresenceTracker(cache Cache[string, DeviceStatus], logger zerolog.Logger) (*PresenceTracker, error) {
	if cache == nil {
		return nil, errors.New("presence cache cannot be nil")
	}
	return &PresenceTracker{
		cache:  cache,
		logger: logger.With().Str("component", "PresenceTracker").Logger(),
		now:    time.Now,
	}, nil
}

// Touch marks a device as just heard from.
func (t *PresenceTracker) Touch(ctx context.Context, deviceID, eventTypeCode string) error {
	return t.cache.Set(ctx, deviceID, DeviceStatus{
		DeviceID:      deviceID,
		LastSeen:      t.now().UTC(),
		LastEventType: eventTypeCode,
	})
}

// Status returns the last-seen state for one device.
func (t *PresenceTracker) Status(ctx context.Context, deviceID string) (DeviceStatus, error) {
	return t.cache.Fetch(ctx, deviceID)
}
