package btreg

import (
	"context"
	"sync"
	"testing"
	"time"
)

func epoch() time.Time { return time.Now() }

type fakeBus struct {
	mu        sync.Mutex
	connected []string // "path:uuid"
	disconnected []string
}

func (f *fakeBus) ConnectProfile(ctx context.Context, objectPath, profileUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, objectPath+":"+profileUUID)
	return nil
}

func (f *fakeBus) Disconnect(ctx context.Context, objectPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, objectPath)
	return nil
}

type fakeCollaborator struct {
	mu           sync.Mutex
	started      []string
	suspended    []string
	suspendErr   error
}

func (f *fakeCollaborator) Start(d *Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, d.ObjectPath)
	return nil
}

func (f *fakeCollaborator) SuspendConnectedDevice(d *Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = append(f.suspended, d.ObjectPath)
	return f.suspendErr
}

func TestCreateIsIdempotent(t *testing.T) {
	r := New(&fakeBus{}, &fakeCollaborator{}, &fakeCollaborator{})
	a := r.Create("/bt/D1", "/org/bluez/hci0")
	b := r.Create("/bt/D1", "/org/bluez/hci0")
	if a != b {
		t.Fatal("Create should return the existing entry for a known path")
	}
}

func TestUpdatePropertiesAppliesChangesAndInvalidations(t *testing.T) {
	r := New(&fakeBus{}, &fakeCollaborator{}, &fakeCollaborator{})
	r.Create("/bt/D1", "/org/bluez/hci0")

	connected := true
	r.UpdateProperties("/bt/D1", PropertyUpdate{Name: "Headset", Connected: &connected}, epoch())

	d, _ := r.Get("/bt/D1")
	if d.Name != "Headset" || !d.Connected {
		t.Fatalf("got %+v, want Name=Headset Connected=true", d)
	}

	r.UpdateProperties("/bt/D1", PropertyUpdate{Invalidated: []string{"Connected"}}, epoch())
	if d.Connected {
		t.Fatal("expected Connected to be invalidated back to false")
	}
}

func TestRemoveTearsDownAttachedProfiles(t *testing.T) {
	a2dp := &fakeCollaborator{}
	hfpAG := &fakeCollaborator{}
	r := New(&fakeBus{}, a2dp, hfpAG)
	r.Create("/bt/D1", "/org/bluez/hci0")

	supported := A2DPSink | HFPHandsfree
	r.UpdateProperties("/bt/D1", PropertyUpdate{SupportedProfiles: &supported}, epoch())

	r.Remove("/bt/D1")

	if len(a2dp.suspended) != 1 || a2dp.suspended[0] != "/bt/D1" {
		t.Fatalf("expected a2dp teardown, got %v", a2dp.suspended)
	}
	if len(hfpAG.suspended) != 1 || hfpAG.suspended[0] != "/bt/D1" {
		t.Fatalf("expected hfp-ag teardown, got %v", hfpAG.suspended)
	}
	if _, ok := r.Get("/bt/D1"); ok {
		t.Fatal("device should be gone after Remove")
	}
}

func TestRemoveUnknownDeviceIsNoop(t *testing.T) {
	r := New(&fakeBus{}, &fakeCollaborator{}, &fakeCollaborator{})
	r.Remove("/bt/does-not-exist")
}

func TestSCORefcountEstablishesOnceAndTearsDownOnLastPut(t *testing.T) {
	r := New(&fakeBus{}, &fakeCollaborator{}, &fakeCollaborator{})
	d := r.Create("/bt/D1", "/org/bluez/hci0")

	established := 0
	tornDown := 0
	establish := func() error { established++; return nil }
	teardown := func() { tornDown++ }

	if err := d.GetSCO(establish); err != nil {
		t.Fatal(err)
	}
	if err := d.GetSCO(establish); err != nil {
		t.Fatal(err)
	}
	if established != 1 {
		t.Fatalf("establish called %d times, want 1", established)
	}

	d.PutSCO(teardown)
	if d.SCORefcount() != 1 {
		t.Fatalf("refcount = %d, want 1 after first put", d.SCORefcount())
	}
	if tornDown != 0 {
		t.Fatal("should not tear down until the last put")
	}

	d.PutSCO(teardown)
	if tornDown != 1 {
		t.Fatalf("tornDown = %d, want 1 after last put", tornDown)
	}
}

func TestRemoveConflictDisconnectsOthersNotKeep(t *testing.T) {
	bus := &fakeBus{}
	r := New(bus, &fakeCollaborator{}, &fakeCollaborator{})
	keep := r.Create("/bt/keep", "/org/bluez/hci0")
	other := r.Create("/bt/other", "/org/bluez/hci0")

	connected := A2DPSink
	r.UpdateProperties(other.ObjectPath, PropertyUpdate{ConnectedProfiles: &connected}, epoch())

	r.RemoveConflict(context.Background(), keep)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.disconnected) != 1 || bus.disconnected[0] != "/bt/other" {
		t.Fatalf("got disconnected=%v, want only /bt/other", bus.disconnected)
	}
}
