package device

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/smarthomesven/duuxbridge/internal/model"
)

func newTestSupervisor(cloud Cloud, host Host) *Supervisor {
	return NewSupervisor(cloud, host, nil, time.Hour, zerolog.Nop())
}

func TestSupervisorAddUnknownModel(t *testing.T) {
	s := newTestSupervisor(&fakeCloud{}, newFakeHost())
	defer s.StopAll()

	if err := s.Add("dev-1", "aa:bb", 7, "toaster"); err == nil {
		t.Fatalf("expected unknown model error")
	}
	if _, ok := s.Device("dev-1"); ok {
		t.Fatalf("failed add must not register the device")
	}
}

func TestSupervisorAddAndRemove(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1}}
	s := newTestSupervisor(cloud, newFakeHost())
	defer s.StopAll()

	if err := s.Add("dev-1", "aa:bb", 7, "whisper-flex"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	dev, ok := s.Device("dev-1")
	if !ok {
		t.Fatalf("device not registered")
	}
	if dev.Model().Model != "whisper-flex" {
		t.Fatalf("wrong descriptor: %s", dev.Model().Model)
	}

	deadline := time.After(time.Second)
	for cloud.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("device never polled")
		case <-time.After(time.Millisecond):
		}
	}

	s.Remove("dev-1")
	if _, ok := s.Device("dev-1"); ok {
		t.Fatalf("device still registered after remove")
	}
}

func TestSupervisorReAddRestartsLoop(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1}}
	s := newTestSupervisor(cloud, newFakeHost())
	defer s.StopAll()

	if err := s.Add("dev-1", "aa:bb", 7, "whisper-flex"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	first, _ := s.Device("dev-1")

	if err := s.Add("dev-1", "cc:dd", 7, "bora"); err != nil {
		t.Fatalf("re-Add: %v", err)
	}
	second, ok := s.Device("dev-1")
	if !ok || second == first {
		t.Fatalf("re-add must replace the device instance")
	}
	if second.MAC != "cc:dd" || second.Model().Model != "bora" {
		t.Fatalf("re-add kept stale attributes: %s %s", second.MAC, second.Model().Model)
	}
}

func TestSupervisorHandleWrite(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1}}
	s := newTestSupervisor(cloud, newFakeHost())
	defer s.StopAll()

	if err := s.Add("dev-1", "aa:bb", 7, "whisper-flex"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.HandleWrite(context.Background(), "dev-1", "onoff", true); err != nil {
		t.Fatalf("HandleWrite: %v", err)
	}
	cmds := cloud.sentCommands()
	if len(cmds) != 1 || cmds[0] != "tune set power 1" {
		t.Fatalf("unexpected commands: %v", cmds)
	}

	if err := s.HandleWrite(context.Background(), "ghost", "onoff", true); err == nil {
		t.Fatalf("expected unknown device error")
	}
}

func TestSupervisorStopAll(t *testing.T) {
	cloud := &fakeCloud{status: model.Status{"power": 1}}
	s := newTestSupervisor(cloud, newFakeHost())

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Add(id, id+":mac", 7, "whisper-flex"); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}

	s.StopAll()

	for _, id := range []string{"a", "b", "c"} {
		if _, ok := s.Device(id); ok {
			t.Fatalf("device %s survived StopAll", id)
		}
	}

	settled := cloud.callCount()
	time.Sleep(20 * time.Millisecond)
	if got := cloud.callCount(); got > settled {
		t.Fatalf("polling continued after StopAll: %d -> %d", settled, got)
	}
}
