// Package devlist implements the Device List (spec.md §2 DEVLIST): the set
// of devices the server currently knows about, and the suspend_dev/
// resume_dev operations the BT Policy Engine's Profile Switch FSM drives
// directly (spec.md §6 "DEVLIST"). It is deliberately thin — device
// identity, format and node state all live in internal/iodev.Device; this
// package only tracks which devices are registered and whether each is
// currently suspended, grounded on the teacher's engine.go channel-map
// idiom (a plain map keyed by identity, guarded by one mutex, no
// per-device locking).
package devlist

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shaban/audiosrvd/internal/iodev"
	"github.com/shaban/audiosrvd/internal/logging"
)

var log = logging.For("devlist")

// List is the process-wide registry of known devices. The zero value is
// not usable; use New. All methods are main-thread-only.
type List struct {
	mu        sync.Mutex
	devices   map[uuid.UUID]*iodev.Device
	suspended map[uuid.UUID]bool
}

// New returns an empty List.
func New() *List {
	return &List{
		devices:   make(map[uuid.UUID]*iodev.Device),
		suspended: make(map[uuid.UUID]bool),
	}
}

// Add registers d with the list. Re-adding an already-registered device is
// a no-op.
func (l *List) Add(d *iodev.Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.devices[d.ID]; ok {
		return
	}
	l.devices[d.ID] = d
}

// Remove drops d from the list. If d is currently suspended the entry is
// forgotten without resuming it; callers that need a clean teardown should
// ResumeDev first.
func (l *List) Remove(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.devices, id)
	delete(l.suspended, id)
}

// Get returns the device registered under id, if any.
func (l *List) Get(id uuid.UUID) (*iodev.Device, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.devices[id]
	return d, ok
}

// IsSuspended reports whether id is currently suspended.
func (l *List) IsSuspended(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suspended[id]
}

// SuspendDev closes the device's backend and marks it suspended, realizing
// the DEVLIST "suspend_dev" operation the Profile Switch FSM calls before
// mutating active-node selection out from under the audio thread.
// Suspending an already-suspended device is a no-op.
func (l *List) SuspendDev(id uuid.UUID) error {
	l.mu.Lock()
	d, ok := l.devices[id]
	already := l.suspended[id]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("devlist: unknown device %s", id)
	}
	if already {
		return nil
	}
	if err := d.Close(); err != nil {
		return fmt.Errorf("devlist: suspend %s: %w", id, err)
	}
	l.mu.Lock()
	l.suspended[id] = true
	l.mu.Unlock()
	log.Debug("device suspended", "device", id)
	return nil
}

// ResumeDev reopens a suspended device's backend, realizing DEVLIST's
// "resume_dev" operation. Resuming a device that isn't suspended is a
// no-op.
func (l *List) ResumeDev(id uuid.UUID) error {
	l.mu.Lock()
	d, ok := l.devices[id]
	suspended := l.suspended[id]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("devlist: unknown device %s", id)
	}
	if !suspended {
		return nil
	}
	if err := d.Open(); err != nil {
		return fmt.Errorf("devlist: resume %s: %w", id, err)
	}
	l.mu.Lock()
	l.suspended[id] = false
	l.mu.Unlock()
	log.Debug("device resumed", "device", id)
	return nil
}
