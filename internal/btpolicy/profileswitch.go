package btpolicy

import (
	"github.com/shaban/audiosrvd/internal/btreg"
	"github.com/shaban/audiosrvd/internal/iodev"
)

// SwitchProfile realizes the Profile Switch FSM (spec.md §4.3), invoked
// when a BT device's active profile must change — typically because a
// capture stream just arrived and the device needs to move from A2DP to
// HFP. For each direction with an attached iodev: suspend it. Input
// resumes immediately after refreshing its active node. Output resumes
// only after a coalescing 500ms delay, since the audio thread may already
// have a reasonable profile picked and a rapid flip confuses some headsets.
func (e *Engine) SwitchProfile(d *btreg.Device) {
	if in, ok := d.IODev(iodev.Input); ok {
		e.devices.SuspendDev(in.ID)
		in.RefreshActiveNode()
		e.devices.ResumeDev(in.ID)
	}

	if _, ok := d.IODev(iodev.Output); ok {
		e.switchOutputWithDelay(d)
	}
}

// switchOutputWithDelay suspends the output iodev and (re)arms the 500ms
// coalescing timer: a burst of K switch requests within the window results
// in exactly one delayed resume, timed from the last request (spec.md §8
// "Profile switch serialization").
func (e *Engine) switchOutputWithDelay(d *btreg.Device) {
	out, ok := d.IODev(iodev.Output)
	if !ok {
		return
	}
	e.devices.SuspendDev(out.ID)

	e.mu.Lock()
	rec, ok := e.profileSwitch[d.ObjectPath]
	if ok {
		e.tm.CancelTimer(rec.handle)
	} else {
		rec = &profileSwitchRecord{}
		e.profileSwitch[d.ObjectPath] = rec
	}
	e.mu.Unlock()

	handle := e.tm.CreateTimer(int(e.profileSwitchDelay.Milliseconds()), func(any) {
		e.profileSwitchDelayFire(d.ObjectPath)
	}, nil)

	e.mu.Lock()
	if r, ok := e.profileSwitch[d.ObjectPath]; ok && r == rec {
		r.handle = handle
	} else {
		e.tm.CancelTimer(handle)
	}
	e.mu.Unlock()
}

// profileSwitchDelayFire is the delayed-resume callback. It must guard on
// the owning device still being registered and on the output iodev still
// being attached — spec.md §9 open question (b): "the interaction between
// a profile-switch timer firing after the owning BT device has been
// removed relies on checking bt_iodevs[OUTPUT]; implementers should
// additionally guard on device liveness."
func (e *Engine) profileSwitchDelayFire(objectPath string) {
	e.mu.Lock()
	delete(e.profileSwitch, objectPath)
	e.mu.Unlock()

	d, ok := e.reg.Get(objectPath)
	if !ok {
		return
	}
	out, ok := d.IODev(iodev.Output)
	if !ok {
		return
	}
	out.RefreshActiveNode()
	e.devices.ResumeDev(out.ID)
}
