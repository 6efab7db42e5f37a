package device

import (
	"context"

	"github.com/smarthomesven/duuxbridge/internal/model"
)

// Event is one capability transition, fired when a watched boolean flips
// between two observed polls.
type Event struct {
	DeviceID   string
	Capability string
	Enabled    bool
}

// Name renders the host-facing event name, e.g. "ionizer_enabled".
func (e Event) Name() string {
	if e.Enabled {
		return e.Capability + "_enabled"
	}
	return e.Capability + "_disabled"
}

// Host is the adapter boundary towards the home-automation platform. The
// core publishes through it and never registers host callbacks itself.
// Implementations must treat unknown capabilities as a no-op.
type Host interface {
	SetCapability(deviceID, capability string, value any)
	SetAvailable(deviceID string)
	SetUnavailable(deviceID, reason string)
	FireEvent(ev Event)
}

// Cloud is the slice of the cloud client a device needs.
type Cloud interface {
	Status(ctx context.Context, mac string) (model.Status, error)
	SendCommand(ctx context.Context, mac, command string) error
}

// Recorder receives capability samples for long-term history. Optional.
type Recorder interface {
	Record(deviceID, capability string, value float64)
}
