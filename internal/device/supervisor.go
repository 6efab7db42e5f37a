package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smarthomesven/duuxbridge/internal/model"
)

// Supervisor owns the lifecycle of all paired devices: it starts one
// polling loop per device, routes capability writes, and tears devices
// down when they are removed. Failures stay scoped to one device.
type Supervisor struct {
	cloud    Cloud
	host     Host
	recorder Recorder
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	devices map[string]*Device
}

func NewSupervisor(cloud Cloud, host Host, recorder Recorder, interval time.Duration, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cloud:    cloud,
		host:     host,
		recorder: recorder,
		interval: interval,
		log:      log,
		devices:  make(map[string]*Device),
	}
}

// SetHost installs the host adapter. It breaks the construction cycle
// between the supervisor and a host that routes writes back into it;
// call it before the first Add.
func (s *Supervisor) SetHost(host Host) {
	s.mu.Lock()
	s.host = host
	s.mu.Unlock()
}

// Add registers a device and starts polling it. Adding an already known
// id restarts its loop with the new attributes.
func (s *Supervisor) Add(id, mac string, tenantID int, modelName string) error {
	desc, ok := model.ByModel(modelName)
	if !ok {
		return fmt.Errorf("unknown model %q for device %s", modelName, id)
	}

	s.mu.Lock()
	host := s.host
	s.mu.Unlock()

	dev := New(id, mac, tenantID, desc, s.cloud, host, s.recorder, s.interval, s.log)

	s.mu.Lock()
	if prev, ok := s.devices[id]; ok {
		prev.Stop()
	}
	s.devices[id] = dev
	s.mu.Unlock()

	dev.Start()
	s.log.Info().Str("device", id).Str("model", modelName).Msg("device started")
	return nil
}

// Remove stops a device's polling before dropping it.
func (s *Supervisor) Remove(id string) {
	s.mu.Lock()
	dev, ok := s.devices[id]
	delete(s.devices, id)
	s.mu.Unlock()

	if ok {
		dev.Stop()
		s.log.Info().Str("device", id).Msg("device removed")
	}
}

// Device looks up a running device by id.
func (s *Supervisor) Device(id string) (*Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[id]
	return dev, ok
}

// Devices returns all running devices sorted by id.
func (s *Supervisor) Devices() []*Device {
	s.mu.Lock()
	devices := make([]*Device, 0, len(s.devices))
	for _, dev := range s.devices {
		devices = append(devices, dev)
	}
	s.mu.Unlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// HandleWrite routes a capability write from the host to the right
// device.
func (s *Supervisor) HandleWrite(ctx context.Context, deviceID, capability string, value any) error {
	dev, ok := s.Device(deviceID)
	if !ok {
		return fmt.Errorf("unknown device %q", deviceID)
	}
	if err := dev.Write(ctx, capability, value); err != nil {
		s.log.Error().Err(err).Str("device", deviceID).Str("capability", capability).
			Msg("capability write failed")
		return err
	}
	return nil
}

// StopAll stops every device. Used on shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	devices := make([]*Device, 0, len(s.devices))
	for _, dev := range s.devices {
		devices = append(devices, dev)
	}
	s.devices = make(map[string]*Device)
	s.mu.Unlock()

	for _, dev := range devices {
		dev.Stop()
	}
}
