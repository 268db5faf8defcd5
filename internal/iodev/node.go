package iodev

import "time"

// NodeType enumerates the physical or logical port a Node represents
// (spec.md §3 cras_ionode.type). Values are stable and appear in logs, so
// existing names are never renumbered.
type NodeType int

const (
	NodeUnknown NodeType = iota
	NodeInternalSpeaker
	NodeHeadphone
	NodeHDMI
	NodeInternalMic
	NodeMic
	NodeUSB
	NodeBluetooth
	NodeLineout
	NodePostMixLoopback
	NodePostDSPLoopback
)

// Node is one selectable port on a Device (spec.md §3 cras_ionode). It
// carries a non-owning back-reference to its owning Device, mirroring the
// original's `struct cras_iodev *dev` pointer field: Node never outlives
// the Device that created it and never frees it.
type Node struct {
	dev *Device

	Index       uint32
	Plugged     bool
	PluggedTime time.Time

	// Volume is the node-relative attenuation in 0-100, applied on top of
	// the system volume (spec.md §4.1 "Volume and gain").
	Volume uint
	// CaptureGain is additional capture gain in hundredths of a dBFS,
	// added to the system capture gain.
	CaptureGain int64

	SwapChannels bool

	Type NodeType
	Name string

	MicPositions string

	// SoftvolScalers is a lookup table from desired attenuation step to
	// linear scaler, used when SoftwareVolumeNeeded is true because the
	// backend has no hardware volume control steep enough on its own.
	SoftvolScalers       []float32
	SoftwareVolumeNeeded bool
	MaxSoftwareGain      int64

	// StableID survives device replug and reboot for nodes the backend can
	// re-identify (e.g. by USB descriptor or BT MAC), so UI node selection
	// persists.
	StableID uint32
}

// Device returns the Node's owning Device.
func (n *Node) Device() *Device { return n.dev }

// nodeTypePriority ranks NodeType for NodeBetter's tie-breaking, mirroring
// the original ionode_better's preference for line-level outputs over
// speakers and headsets over bare mics. Lower is more preferred.
var nodeTypePriority = map[NodeType]int{
	NodeHDMI:             0,
	NodeLineout:          1,
	NodeHeadphone:        2,
	NodeUSB:              3,
	NodeBluetooth:        4,
	NodeInternalSpeaker:  5,
	NodeMic:              2,
	NodeInternalMic:      5,
	NodePostMixLoopback:  90,
	NodePostDSPLoopback:  91,
	NodeUnknown:          100,
}

// NodeBetter reports whether a is the preferred default node over b,
// realizing cras_iodev.h's ionode_better ranking: a plugged node beats an
// unplugged one, then the node's type priority, then more-recently-plugged,
// then higher stable ID (spec.md §4.1 "default node selection").
func NodeBetter(a, b *Node) bool {
	if a.Plugged != b.Plugged {
		return a.Plugged
	}
	pa, pb := nodeTypePriority[a.Type], nodeTypePriority[b.Type]
	if pa != pb {
		return pa < pb
	}
	if !a.PluggedTime.Equal(b.PluggedTime) {
		return a.PluggedTime.After(b.PluggedTime)
	}
	return a.StableID > b.StableID
}
