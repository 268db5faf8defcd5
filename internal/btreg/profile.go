package btreg

// Profile is a bitmask of Bluetooth audio/media profiles a device may
// support or have connected, mirroring cras_bt_device.h's
// cras_bt_device_profile enum. Values and bit positions are part of the
// wire contract with UpdateProperties callers and are never renumbered.
type Profile uint32

const (
	A2DPSource Profile = 1 << iota
	A2DPSink
	AVRCPRemote
	AVRCPTarget
	HFPHandsfree
	HFPAudioGateway
	HSPHeadset
	HSPAudioGateway
)

// Has reports whether all bits in want are set in p.
func (p Profile) Has(want Profile) bool { return p&want == want }

// Well-known Bluetooth SIG profile UUIDs, used when asking the host bus to
// connect a specific profile (spec.md §8 scenario 1's "connect_profile").
const (
	UUIDHFPHandsFree = "0000111e-0000-1000-8000-00805f9b34fb"
	UUIDA2DPSink     = "0000110b-0000-1000-8000-00805f9b34fb"
)
