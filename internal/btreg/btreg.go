// Package btreg implements the BT Device Registry (spec.md §4.2): a
// process-wide table of remote Bluetooth endpoints keyed by D-Bus object
// path, their profile bitmasks, and the up-to-two iodev slots each may
// have attached. Grounded on the teacher's device_monitor.go polling
// idiom for lifecycle bookkeeping and on bluetuith-org-bluetuith's
// adapter/device property shapes for what a BT endpoint's state looks
// like from the host bus's point of view.
package btreg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shaban/audiosrvd/internal/iodev"
	"github.com/shaban/audiosrvd/internal/logging"
)

var log = logging.For("btreg")

// ProfileCollaborator is the narrow A2DP/HFP-AG surface BTREG and BTPOL
// share (spec.md §6 "A2DP and HFP-AG collaborators"): start a profile
// session, or suspend one already connected.
type ProfileCollaborator interface {
	Start(d *Device) error
	SuspendConnectedDevice(d *Device) error
}

// Device is one remote Bluetooth endpoint (spec.md §3 BTDevice).
type Device struct {
	mu sync.Mutex

	ObjectPath string
	Adapter    string
	Address    string
	Name       string

	Paired    bool
	Trusted   bool
	Connected bool

	SupportedProfiles Profile
	ConnectedProfiles Profile
	ActiveProfile     Profile

	// IODevs is indexed by iodev.Direction; a nil entry means no iodev is
	// currently attached for that direction.
	IODevs [2]*iodev.Device

	UseHardwareVolume bool

	scoRefcount int
}

// SupportsProfile reports whether p is in the device's advertised profile
// set.
func (d *Device) SupportsProfile(p Profile) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.SupportedProfiles.Has(p)
}

// IsProfileConnected reports whether p is currently connected.
func (d *Device) IsProfileConnected(p Profile) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ConnectedProfiles.Has(p)
}

// SetActiveProfile records which profile is currently driving audio.
func (d *Device) SetActiveProfile(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ActiveProfile = p
}

// ActiveProfileNow returns the currently active profile.
func (d *Device) ActiveProfileNow() Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ActiveProfile
}

// AttachIODev records dev as the attached iodev for dir. Replaces any
// previous attachment for that direction without tearing it down; callers
// that need a clean swap should RemoveIODev first.
func (d *Device) AttachIODev(dir iodev.Direction, dev *iodev.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.IODevs[dir] = dev
}

// IODev returns the iodev attached for dir, if any.
func (d *Device) IODev(dir iodev.Direction) (*iodev.Device, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := d.IODevs[dir]
	return dev, dev != nil
}

// RemoveIODev detaches and returns the iodev for dir, if any.
func (d *Device) RemoveIODev(dir iodev.Direction) *iodev.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := d.IODevs[dir]
	d.IODevs[dir] = nil
	return dev
}

// GetSCO acquires the device's SCO link, establishing it on the first
// call and incrementing a refcount on subsequent calls (spec.md §5 "SCO
// refcount"). establish is invoked only on the first acquisition; if it
// errors, the refcount is left unchanged and the error is returned.
func (d *Device) GetSCO(establish func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scoRefcount == 0 {
		if establish != nil {
			if err := establish(); err != nil {
				return fmt.Errorf("btreg: establish sco for %s: %w", d.ObjectPath, err)
			}
		}
	}
	d.scoRefcount++
	return nil
}

// PutSCO releases one SCO acquisition, tearing the connection down via
// teardown only when the refcount reaches zero. Calling PutSCO with no
// outstanding acquisition is a no-op.
func (d *Device) PutSCO(teardown func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scoRefcount == 0 {
		return
	}
	d.scoRefcount--
	if d.scoRefcount == 0 && teardown != nil {
		teardown()
	}
}

// SCORefcount returns the current SCO acquisition count, for tests.
func (d *Device) SCORefcount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scoRefcount
}

// Registry is the process-wide BT device table. All methods are
// main-thread-only except where noted.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device

	bus   HostBus
	a2dp  ProfileCollaborator
	hfpAG ProfileCollaborator
}

// New creates a Registry that issues connection requests through bus and
// tears down attached sessions through a2dp/hfpAG on removal.
func New(bus HostBus, a2dp, hfpAG ProfileCollaborator) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		bus:     bus,
		a2dp:    a2dp,
		hfpAG:   hfpAG,
	}
}

// Create adds a new Device for objectPath, realizing BTREG's creation on
// first bus announcement. Returns the existing entry if objectPath is
// already registered.
func (r *Registry) Create(objectPath, adapter string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[objectPath]; ok {
		return d
	}
	d := &Device{ObjectPath: objectPath, Adapter: adapter}
	r.devices[objectPath] = d
	return d
}

// Get looks up a Device by object path.
func (r *Registry) Get(objectPath string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[objectPath]
	return d, ok
}

// PropertyUpdate is one batch of bus-reported property changes, mirroring
// the host bus's "properties changed" signal shape (spec.md §6).
type PropertyUpdate struct {
	Address           string
	Name              string
	Paired            *bool
	Trusted           *bool
	Connected         *bool
	SupportedProfiles *Profile
	ConnectedProfiles *Profile
	Invalidated       []string
}

// UpdateProperties applies a batch of property changes to the device at
// objectPath, realizing BTREG's update_properties. Unset pointer fields in
// upd are left unchanged; names in upd.Invalidated are reset to their zero
// value. No-op if objectPath is unknown.
func (r *Registry) UpdateProperties(objectPath string, upd PropertyUpdate, at time.Time) {
	r.mu.Lock()
	d, ok := r.devices[objectPath]
	r.mu.Unlock()
	if !ok {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if upd.Address != "" {
		d.Address = upd.Address
	}
	if upd.Name != "" {
		d.Name = upd.Name
	}
	if upd.Paired != nil {
		d.Paired = *upd.Paired
	}
	if upd.Trusted != nil {
		d.Trusted = *upd.Trusted
	}
	if upd.Connected != nil {
		d.Connected = *upd.Connected
	}
	if upd.SupportedProfiles != nil {
		d.SupportedProfiles = *upd.SupportedProfiles
	}
	if upd.ConnectedProfiles != nil {
		d.ConnectedProfiles = *upd.ConnectedProfiles
	}
	for _, key := range upd.Invalidated {
		switch key {
		case "Connected":
			d.Connected = false
		case "Paired":
			d.Paired = false
		case "Trusted":
			d.Trusted = false
		}
	}
}

// Remove tears down any attached A2DP/HFP-AG session and forgets
// objectPath, realizing BTREG's removal-on-"interface removed" behavior.
// No-op if objectPath is unknown.
func (r *Registry) Remove(objectPath string) {
	r.mu.Lock()
	d, ok := r.devices[objectPath]
	if ok {
		delete(r.devices, objectPath)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if d.SupportedProfiles.Has(A2DPSink) || d.SupportedProfiles.Has(A2DPSource) {
		if err := r.a2dp.SuspendConnectedDevice(d); err != nil {
			log.Error("a2dp teardown on remove failed", "device", objectPath, "err", err)
		}
	}
	if d.SupportedProfiles.Has(HFPHandsfree) || d.SupportedProfiles.Has(HFPAudioGateway) {
		if err := r.hfpAG.SuspendConnectedDevice(d); err != nil {
			log.Error("hfp-ag teardown on remove failed", "device", objectPath, "err", err)
		}
	}
}

// ConnectProfile asks the host bus to connect profileUUID on d.
func (r *Registry) ConnectProfile(ctx context.Context, d *Device, profileUUID string) error {
	return r.bus.ConnectProfile(ctx, d.ObjectPath, profileUUID)
}

// Disconnect asks the host bus to tear down all connections to d.
func (r *Registry) Disconnect(ctx context.Context, d *Device) error {
	return r.bus.Disconnect(ctx, d.ObjectPath)
}

// RemoveConflict disconnects every registered device other than keep that
// has any audio profile connected, realizing the Connection Watch FSM's
// last-wins conflict policy (spec.md §4.3 "conflict-removal collaborator").
func (r *Registry) RemoveConflict(ctx context.Context, keep *Device) {
	r.mu.Lock()
	var others []*Device
	for path, d := range r.devices {
		if path == keep.ObjectPath {
			continue
		}
		if d.ConnectedProfiles != 0 {
			others = append(others, d)
		}
	}
	r.mu.Unlock()

	for _, d := range others {
		if err := r.Disconnect(ctx, d); err != nil {
			log.Error("conflict removal disconnect failed", "device", d.ObjectPath, "err", err)
		}
	}
}
