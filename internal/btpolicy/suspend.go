package btpolicy

import (
	"github.com/shaban/audiosrvd/internal/btreg"
	"github.com/shaban/audiosrvd/internal/metrics"
)

// ScheduleSuspend arms the Suspend FSM for d with the given reason
// (spec.md §4.3). Idempotent per device: if a suspend is already pending
// the call is dropped and the first reason wins (spec.md §8 "Policy
// idempotence").
func (e *Engine) ScheduleSuspend(d *btreg.Device, reason SuspendReason) {
	e.mu.Lock()
	if _, ok := e.suspend[d.ObjectPath]; ok {
		e.mu.Unlock()
		return
	}
	rec := &suspendRecord{reason: reason}
	e.suspend[d.ObjectPath] = rec
	e.mu.Unlock()

	handle := e.tm.CreateTimer(0, func(any) {
		e.suspendFire(d.ObjectPath)
	}, nil)

	e.mu.Lock()
	if r, ok := e.suspend[d.ObjectPath]; ok && r == rec {
		r.handle = handle
	} else {
		e.tm.CancelTimer(handle)
	}
	e.mu.Unlock()
}

// CancelSuspend removes any pending suspend for d, freeing its timer.
func (e *Engine) CancelSuspend(d *btreg.Device) {
	e.mu.Lock()
	rec, ok := e.suspend[d.ObjectPath]
	if ok {
		delete(e.suspend, d.ObjectPath)
	}
	e.mu.Unlock()
	if ok {
		e.tm.CancelTimer(rec.handle)
	}
}

// suspendFire realizes suspend_cb: log the reason, suspend A2DP, suspend
// HFP-AG, then force-disconnect via the registry. A device already removed
// from the registry by the time the timer fires is dropped silently
// (spec.md §9 open question (a)).
func (e *Engine) suspendFire(objectPath string) {
	e.mu.Lock()
	rec, ok := e.suspend[objectPath]
	if ok {
		delete(e.suspend, objectPath)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	d, ok := e.reg.Get(objectPath)
	if !ok {
		return
	}

	e.log.Error("suspending bt device", "device", objectPath, "reason", rec.reason.String())
	recordSuspendMetric(rec.reason)

	if err := e.a2dp.SuspendConnectedDevice(d); err != nil {
		e.log.Error("a2dp suspend failed", "device", objectPath, "err", err)
	}
	if err := e.hfpAG.SuspendConnectedDevice(d); err != nil {
		e.log.Error("hfp-ag suspend failed", "device", objectPath, "err", err)
	}
	if err := e.reg.Disconnect(backgroundCtx, d); err != nil {
		e.log.Error("force disconnect failed", "device", objectPath, "err", err)
	}
}

// recordSuspendMetric maps a SuspendReason onto the A2DP-exit or SCO-error
// taxonomy suspendFire's transition actually belongs to (spec.md §6
// "Metrics", cras_server_metrics.h's A2DP_EXIT_CODE / BT_SCO_ERROR_TYPE).
func recordSuspendMetric(reason SuspendReason) {
	switch reason {
	case A2DPLongTxFailure:
		metrics.Default.A2DPExit(metrics.A2DPExitLongTxFailure)
	case A2DPTxFatalError:
		metrics.Default.A2DPExit(metrics.A2DPExitTxFatalError)
	case ConnWatchTimeout:
		metrics.Default.A2DPExit(metrics.A2DPExitIdle)
	case HFPSCOSocketError:
		metrics.Default.HFPSCOConnectionError(metrics.SCOOpenError)
	case HFPAGStartFailure:
		metrics.Default.HFPSCOConnectionError(metrics.SCOConnectError)
	case UnexpectedProfileDrop:
		metrics.Default.A2DPExit(metrics.A2DPExitConnReset)
	}
}
