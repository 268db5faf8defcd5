package btpolicy

import (
	"time"

	"github.com/shaban/audiosrvd/internal/btreg"
)

// StartConnectionWatch arms the Connection Watch FSM for d (spec.md §4.3).
// Starting the watch for a device that already has one running cancels the
// previous timer and restarts with fresh retries, per spec.md §4.3
// "Multiple calls to start the watch for the same device cancel the
// previous timer and restart with fresh retries."
func (e *Engine) StartConnectionWatch(d *btreg.Device) {
	e.mu.Lock()
	if existing, ok := e.connWatch[d.ObjectPath]; ok {
		e.tm.CancelTimer(existing.handle)
	}
	rec := &connWatchRecord{retriesLeft: e.connWatchMaxRetries}
	e.connWatch[d.ObjectPath] = rec
	e.mu.Unlock()

	e.armConnWatchTimer(d.ObjectPath, rec)
}

func (e *Engine) armConnWatchTimer(objectPath string, rec *connWatchRecord) {
	handle := e.tm.CreateTimer(int(e.connWatchPeriod.Milliseconds()), func(any) {
		e.connWatchTick(objectPath)
	}, nil)
	e.mu.Lock()
	if r, ok := e.connWatch[objectPath]; ok && r == rec {
		r.handle = handle
	} else {
		// The record was replaced or freed while the timer was being
		// created; cancel the new timer immediately rather than let it
		// fire for a watch that no longer exists.
		e.tm.CancelTimer(handle)
	}
	e.mu.Unlock()
}

// StopConnectionWatch cancels and frees the watch record for objectPath, if
// any. Safe to call when no watch is running.
func (e *Engine) StopConnectionWatch(objectPath string) {
	e.mu.Lock()
	rec, ok := e.connWatch[objectPath]
	if ok {
		delete(e.connWatch, objectPath)
	}
	e.mu.Unlock()
	if ok {
		e.tm.CancelTimer(rec.handle)
	}
}

// connWatchTick realizes conn_watch_cb: compare supported vs. connected
// profiles for A2DP-Sink and HFP-HandsFree, connect whichever single
// profile is missing, and either re-arm, declare the watch satisfied, or
// give up and schedule a suspend once retries are exhausted.
func (e *Engine) connWatchTick(objectPath string) {
	e.mu.Lock()
	rec, ok := e.connWatch[objectPath]
	e.mu.Unlock()
	if !ok {
		return
	}

	d, ok := e.reg.Get(objectPath)
	if !ok {
		e.StopConnectionWatch(objectPath)
		return
	}

	a2dpSupported := d.SupportsProfile(btreg.A2DPSink)
	hfpSupported := d.SupportsProfile(btreg.HFPHandsfree)

	if !a2dpSupported && !hfpSupported {
		// Idle: no audio profile advertised at all.
		e.StopConnectionWatch(objectPath)
		return
	}

	var missing []string
	if a2dpSupported && !d.IsProfileConnected(btreg.A2DPSink) {
		missing = append(missing, btreg.UUIDA2DPSink)
	}
	if hfpSupported && !d.IsProfileConnected(btreg.HFPHandsfree) {
		missing = append(missing, btreg.UUIDHFPHandsFree)
	}

	if len(missing) == 0 {
		e.connectionWatchSatisfied(d, objectPath)
		return
	}

	if len(missing) == 1 {
		if err := e.reg.ConnectProfile(backgroundCtx, d, missing[0]); err != nil {
			e.log.Error("connect profile request failed", "device", objectPath, "err", err)
		}
	}

	e.mu.Lock()
	rec.retriesLeft--
	retriesLeft := rec.retriesLeft
	e.mu.Unlock()

	if retriesLeft <= 0 {
		e.StopConnectionWatch(objectPath)
		e.ScheduleSuspend(d, ConnWatchTimeout)
		return
	}

	e.armConnWatchTimer(objectPath, rec)
}

// connectionWatchSatisfied realizes the Satisfied transition: remove
// conflicting devices (last-wins), start A2DP and HFP-AG for the surviving
// device, and mark its nodes plugged.
func (e *Engine) connectionWatchSatisfied(d *btreg.Device, objectPath string) {
	e.StopConnectionWatch(objectPath)

	e.reg.RemoveConflict(backgroundCtx, d)

	if err := e.a2dp.Start(d); err != nil {
		e.log.Error("a2dp start failed", "device", objectPath, "err", err)
	}
	if err := e.hfpAG.Start(d); err != nil {
		e.log.Error("hfp-ag start failed", "device", objectPath, "err", err)
		e.ScheduleSuspend(d, HFPAGStartFailure)
		return
	}

	markNodesPlugged(d, time.Now())
}
