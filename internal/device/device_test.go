package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/smarthomesven/duuxbridge/internal/cloudgarden"
	"github.com/smarthomesven/duuxbridge/internal/model"
)

type fakeCloud struct {
	mu       sync.Mutex
	status   model.Status
	err      error
	gate     chan struct{}
	calls    int
	commands []string
	cmdErr   error
}

func (f *fakeCloud) Status(ctx context.Context, _ string) (model.Status, error) {
	f.mu.Lock()
	f.calls++
	status, err, gate := f.status, f.err, f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	// Copy so the test can mutate its snapshot between polls.
	out := make(model.Status, len(status))
	for k, v := range status {
		out[k] = v
	}
	return out, ctx.Err()
}

func (f *fakeCloud) SendCommand(_ context.Context, _ string, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmdErr != nil {
		return f.cmdErr
	}
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeCloud) set(status model.Status, err error) {
	f.mu.Lock()
	f.status, f.err = status, err
	f.mu.Unlock()
}

func (f *fakeCloud) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCloud) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type fakeHost struct {
	mu           sync.Mutex
	capabilities map[string]any
	events       []Event
	available    bool
	reason       string
	availSet     bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{capabilities: make(map[string]any)}
}

func (h *fakeHost) SetCapability(_, capability string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capabilities[capability] = value
}

func (h *fakeHost) SetAvailable(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = true
	h.availSet = true
	h.reason = ""
}

func (h *fakeHost) SetUnavailable(_, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = false
	h.availSet = true
	h.reason = reason
}

func (h *fakeHost) FireEvent(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *fakeHost) capability(id string) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.capabilities[id]
}

func (h *fakeHost) firedEvents() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

// testDescriptor watches power for transitions, which no production model
// does; it exercises the detector without depending on a model table.
func testDescriptor() *model.Descriptor {
	return &model.Descriptor{
		Model: "testmodel",
		Capabilities: []model.Capability{
			{ID: "onoff", Field: "power", Param: "power", Kind: model.Bool, Triggers: true},
			{ID: "target_humidity", Field: "sp", Param: "sp", Kind: model.Scaled, Scale: 100},
			{ID: "swing", Field: "swing", Param: "swing", Kind: model.Bool, Triggers: true},
		},
	}
}

func newTestDevice(desc *model.Descriptor, cloud Cloud, host Host) *Device {
	return New("dev-1", "aa:bb", 7, desc, cloud, host, nil, time.Hour, zerolog.Nop())
}

func TestFirstPollEstablishesBaseline(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1, "sp": 2150}}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	d.pollOnce(context.Background())

	if events := host.firedEvents(); len(events) != 0 {
		t.Fatalf("baseline poll must not fire events: %+v", events)
	}
	if host.capability("onoff") != true || host.capability("target_humidity") != 21.5 {
		t.Fatalf("unexpected capabilities: %+v", host.capabilities)
	}
	if !host.available {
		t.Fatalf("device must be available after a successful poll")
	}

	// Second poll: power flips, setpoint stays.
	cloud.set(model.Status{"power": 0, "sp": 2150}, nil)
	d.pollOnce(context.Background())

	events := host.firedEvents()
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %+v", events)
	}
	if events[0].Capability != "onoff" || events[0].Enabled || events[0].Name() != "onoff_disabled" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if host.capability("onoff") != false || host.capability("target_humidity") != 21.5 {
		t.Fatalf("unexpected capabilities after flip: %+v", host.capabilities)
	}
}

func TestUnchangedValueFiresNoEvent(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1}}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	d.pollOnce(context.Background())
	d.pollOnce(context.Background())
	d.pollOnce(context.Background())

	if events := host.firedEvents(); len(events) != 0 {
		t.Fatalf("unchanged value fired events: %+v", events)
	}
}

func TestAbsentFieldLeavesValueUnchanged(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1, "sp": 2150}}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	d.pollOnce(context.Background())

	cloud.set(model.Status{"power": 1}, nil)
	d.pollOnce(context.Background())

	if v, ok := d.Value("target_humidity"); !ok || v != 21.5 {
		t.Fatalf("absent field must not reset the value: %v %v", v, ok)
	}
}

func TestLateFieldAdoptedSilently(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1}}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	d.pollOnce(context.Background())

	// The swing field appears for the first time after the baseline:
	// adopt it without an event.
	cloud.set(model.Status{"power": 1, "swing": 1}, nil)
	d.pollOnce(context.Background())
	if events := host.firedEvents(); len(events) != 0 {
		t.Fatalf("first sighting of a field fired events: %+v", events)
	}

	cloud.set(model.Status{"power": 1, "swing": 0}, nil)
	d.pollOnce(context.Background())
	events := host.firedEvents()
	if len(events) != 1 || events[0].Capability != "swing" || events[0].Enabled {
		t.Fatalf("expected swing disabled event, got %+v", events)
	}
}

func TestUnauthorizedMarksUnavailable(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1, "sp": 2150}}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	d.pollOnce(context.Background())

	cloud.set(nil, cloudgarden.ErrUnauthorized)
	d.pollOnce(context.Background())

	if host.available {
		t.Fatalf("device must be unavailable after 401")
	}
	if host.reason != ReauthReason {
		t.Fatalf("unexpected reason: %q", host.reason)
	}
	if v, _ := d.Value("target_humidity"); v != 21.5 {
		t.Fatalf("401 must not alter capability values: %v", v)
	}
}

func TestTransientErrorKeepsAvailability(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1}}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	d.pollOnce(context.Background())
	if !host.available {
		t.Fatalf("expected available after first poll")
	}

	cloud.set(nil, errors.New("connection reset"))
	d.pollOnce(context.Background())

	if !host.available {
		t.Fatalf("transient failure must not flip availability")
	}
}

func TestDeviceErrorCodeDoesNotFlipAvailability(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1, "err": 5}}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	d.pollOnce(context.Background())

	if !host.available {
		t.Fatalf("device-reported error code must not flip availability")
	}
}

func TestDecodeMissKeepsLastValue(t *testing.T) {
	desc, ok := model.ByModel("bright")
	if !ok {
		t.Fatalf("bright model missing")
	}
	cloud := &fakeCloud{status: model.Status{"power": 1, "speed": 2}}
	host := newFakeHost()
	d := newTestDevice(desc, cloud, host)

	d.pollOnce(context.Background())
	if v, _ := d.Value("fan_speed_bright"); v != "medium" {
		t.Fatalf("unexpected fan speed: %v", v)
	}

	cloud.set(model.Status{"power": 1, "speed": 9}, nil)
	d.pollOnce(context.Background())
	if v, _ := d.Value("fan_speed_bright"); v != "medium" {
		t.Fatalf("decode miss must keep the last value, got %v", v)
	}
}

func TestFailedPollKeepsBaselineFlag(t *testing.T) {
	cloud := &fakeCloud{err: errors.New("boom")}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	// A poll that fails before decoding must not clear first-run.
	d.pollOnce(context.Background())

	cloud.set(model.Status{"power": 1}, nil)
	d.pollOnce(context.Background())
	if events := host.firedEvents(); len(events) != 0 {
		t.Fatalf("first successful poll must stay silent: %+v", events)
	}
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	gate := make(chan struct{})
	cloud := &fakeCloud{status: model.Status{"power": 1}, gate: gate}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	done := make(chan struct{})
	go func() {
		d.pollOnce(context.Background())
		close(done)
	}()

	// Let the fetch start, then stop the device and release the fetch.
	for cloud.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	d.Stop()
	close(gate)
	<-done

	if len(host.capabilities) != 0 {
		t.Fatalf("in-flight result applied after stop: %+v", host.capabilities)
	}
}

func TestOverlappingPollsCollapse(t *testing.T) {
	gate := make(chan struct{})
	cloud := &fakeCloud{status: model.Status{"power": 1}, gate: gate}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	done := make(chan struct{})
	go func() {
		d.pollOnce(context.Background())
		close(done)
	}()
	for cloud.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	// Second invocation while the first is in flight: must bail out
	// without fetching.
	d.pollOnce(context.Background())
	if got := cloud.callCount(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}

	close(gate)
	<-done
}

func TestStartStopLifecycle(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1}}
	host := newFakeHost()
	d := New("dev-1", "aa:bb", 7, testDescriptor(), cloud, host, nil, 5*time.Millisecond, zerolog.Nop())

	d.Start()
	d.Start() // idempotent restart, never two timers

	deadline := time.After(time.Second)
	for cloud.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("polling did not run")
		case <-time.After(time.Millisecond):
		}
	}

	d.Stop()
	settled := cloud.callCount()
	time.Sleep(30 * time.Millisecond)
	if got := cloud.callCount(); got > settled+1 {
		t.Fatalf("polling continued after stop: %d -> %d", settled, got)
	}
}

func TestWriteOptimisticAdoption(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1}}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	d.pollOnce(context.Background())

	if err := d.Write(context.Background(), "onoff", false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if cmds := cloud.sentCommands(); len(cmds) != 1 || cmds[0] != "tune set power 0" {
		t.Fatalf("unexpected commands: %v", cmds)
	}
	if host.capability("onoff") != false {
		t.Fatalf("write must update host state optimistically")
	}

	// The confirming poll sees the value the write already adopted, so
	// no event fires for the user's own change.
	cloud.set(model.Status{"power": 0}, nil)
	d.pollOnce(context.Background())
	if events := host.firedEvents(); len(events) != 0 {
		t.Fatalf("self-initiated change fired events: %+v", events)
	}
}

func TestWriteRejectedBeforeSend(t *testing.T) {
	cloud := &fakeCloud{}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	if err := d.Write(context.Background(), "onoff", "banana"); err == nil {
		t.Fatalf("expected encode rejection")
	}
	if err := d.Write(context.Background(), "nope", true); err == nil {
		t.Fatalf("expected unknown capability rejection")
	}
	if cmds := cloud.sentCommands(); len(cmds) != 0 {
		t.Fatalf("rejected writes must not send commands: %v", cmds)
	}
}

func TestCompositeWriteSendsSequence(t *testing.T) {
	desc, ok := model.ByModel("beam")
	if !ok {
		t.Fatalf("beam model missing")
	}
	cloud := &fakeCloud{}
	host := newFakeHost()
	d := newTestDevice(desc, cloud, host)

	if err := d.Write(context.Background(), "fan_speed_neo", "high"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cmds := cloud.sentCommands()
	if len(cmds) != 2 || cmds[0] != "tune set mode 0" || cmds[1] != "tune set speed 2" {
		t.Fatalf("unexpected sequence: %v", cmds)
	}
}

func TestEventOrderFollowsDeclaration(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 0, "swing": 0}}
	host := newFakeHost()
	d := newTestDevice(testDescriptor(), cloud, host)

	d.pollOnce(context.Background())

	cloud.set(model.Status{"power": 1, "swing": 1}, nil)
	d.pollOnce(context.Background())

	events := host.firedEvents()
	if len(events) != 2 {
		t.Fatalf("expected two events, got %+v", events)
	}
	if events[0].Capability != "onoff" || events[1].Capability != "swing" {
		t.Fatalf("events out of declaration order: %+v", events)
	}
}
