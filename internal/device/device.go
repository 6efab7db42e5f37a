package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smarthomesven/duuxbridge/internal/cloudgarden"
	"github.com/smarthomesven/duuxbridge/internal/model"
)

// ReauthReason is the availability reason shown on authentication
// failures. Kept stable so automations can branch on it.
const ReauthReason = "Authentication required. Please re-login."

const DefaultPollInterval = 15 * time.Second

// Device is one paired appliance: it owns the polling loop for its cloud
// endpoint and the last observed capability values.
type Device struct {
	ID       string
	MAC      string
	TenantID int

	desc     *model.Descriptor
	cloud    Cloud
	host     Host
	recorder Recorder
	log      zerolog.Logger
	interval time.Duration

	mu       sync.Mutex
	values   map[string]any
	firstRun bool
	inFlight bool
	stopped  bool
	cancel   context.CancelFunc
}

func New(id, mac string, tenantID int, desc *model.Descriptor, cloud Cloud, host Host, recorder Recorder, interval time.Duration, log zerolog.Logger) *Device {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Device{
		ID:       id,
		MAC:      mac,
		TenantID: tenantID,
		desc:     desc,
		cloud:    cloud,
		host:     host,
		recorder: recorder,
		interval: interval,
		log:      log.With().Str("device", id).Str("model", desc.Model).Logger(),
		values:   make(map[string]any),
		firstRun: true,
	}
}

// Model returns the descriptor this device was paired with.
func (d *Device) Model() *model.Descriptor { return d.desc }

// Value returns the last observed value of a capability.
func (d *Device) Value(capability string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[capability]
	return v, ok
}

// Start begins polling: one immediate poll, then one per interval. It
// stops any previous loop first, so a double start never runs two timers.
// The first completed poll establishes the baseline and fires no events.
func (d *Device) Start() {
	d.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.stopped = false
	d.firstRun = true
	d.mu.Unlock()

	go func() {
		d.pollOnce(ctx)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.pollOnce(ctx)
			}
		}
	}()
}

// Stop cancels the polling timer before any other teardown. A poll still
// in flight discards its result once it returns.
func (d *Device) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.stopped = true
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// pollOnce fetches one status snapshot and applies it. Overlapping
// invocations for the same device collapse to one; the loser returns
// without touching anything.
func (d *Device) pollOnce(ctx context.Context) {
	d.mu.Lock()
	if d.inFlight || d.stopped {
		d.mu.Unlock()
		return
	}
	d.inFlight = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	}()

	status, err := d.cloud.Status(ctx, d.MAC)
	if err != nil {
		pollFailure.WithLabelValues(d.ID).Inc()
		if errors.Is(err, cloudgarden.ErrUnauthorized) {
			d.log.Warn().Msg("status fetch unauthorized")
			d.host.SetUnavailable(d.ID, ReauthReason)
			availability.WithLabelValues(d.ID).Set(0)
			return
		}
		// Transient failures are tolerated silently; the next tick
		// retries. Availability is left as it was.
		d.log.Debug().Err(err).Msg("status fetch failed")
		return
	}
	if len(status) == 0 {
		d.log.Debug().Msg("empty status snapshot")
		return
	}

	d.apply(ctx, status)
}

// apply decodes a snapshot and publishes the results. Events fire in
// descriptor declaration order, one per changed capability, and never on
// the baseline poll.
func (d *Device) apply(ctx context.Context, status model.Status) {
	d.mu.Lock()
	if d.stopped || ctx.Err() != nil {
		// Stopped while the fetch was in flight: the device may
		// already be removed, so the result is dropped.
		d.mu.Unlock()
		return
	}

	values, misses := d.desc.Decode(status)

	type firing struct {
		capability string
		enabled    bool
	}
	var events []firing

	for _, v := range values {
		prev, seen := d.values[v.CapabilityID]
		if seen && !d.firstRun && prev != v.Value {
			if c, ok := d.desc.Capability(v.CapabilityID); ok && c.Triggers {
				if enabled, isBool := v.Value.(bool); isBool {
					events = append(events, firing{v.CapabilityID, enabled})
				}
			}
		}
		d.values[v.CapabilityID] = v.Value
	}
	d.firstRun = false
	d.mu.Unlock()

	pollSuccess.WithLabelValues(d.ID).Inc()
	availability.WithLabelValues(d.ID).Set(1)
	d.host.SetAvailable(d.ID)

	for _, m := range misses {
		decodeMisses.WithLabelValues(d.ID, m.CapabilityID).Inc()
		d.log.Warn().Str("capability", m.CapabilityID).Str("field", m.Field).
			Float64("raw", m.Raw).Msg("decode miss, keeping last value")
	}

	if code, ok := status.Err(); ok {
		deviceError.WithLabelValues(d.ID).Set(float64(code))
		d.log.Warn().Int("code", code).Msg("device reported error code")
	} else {
		deviceError.WithLabelValues(d.ID).Set(0)
	}

	for _, v := range values {
		d.host.SetCapability(d.ID, v.CapabilityID, v.Value)
		d.record(v.CapabilityID, v.Value)
	}
	for _, ev := range events {
		transitions.WithLabelValues(d.ID, ev.capability).Inc()
		d.host.FireEvent(Event{DeviceID: d.ID, Capability: ev.capability, Enabled: ev.enabled})
	}
}

// Write encodes a capability write and sends the resulting command
// sequence. Multi-command writes are sent in order and are not atomic; a
// failure partway is returned and may leave the device in a mixed state.
//
// On success the new value is adopted optimistically, so the host shows
// it immediately and the next poll does not fire a transition event for a
// change the user made themselves.
func (d *Device) Write(ctx context.Context, capability string, value any) error {
	commands, err := d.desc.Encode(capability, value)
	if err != nil {
		return err
	}

	for _, cmd := range commands {
		if err := d.cloud.SendCommand(ctx, d.MAC, cmd); err != nil {
			return err
		}
		d.log.Debug().Str("command", cmd).Msg("command sent")
	}

	d.mu.Lock()
	if !d.stopped {
		if c, ok := d.desc.Capability(capability); ok && c.Field != "" {
			d.values[capability] = value
		}
	}
	d.mu.Unlock()

	d.host.SetCapability(d.ID, capability, value)
	return nil
}

func (d *Device) record(capability string, value any) {
	if d.recorder == nil {
		return
	}
	switch v := value.(type) {
	case float64:
		d.recorder.Record(d.ID, capability, v)
	case bool:
		if v {
			d.recorder.Record(d.ID, capability, 1)
		} else {
			d.recorder.Record(d.ID, capability, 0)
		}
	}
}
