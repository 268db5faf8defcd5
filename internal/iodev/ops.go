// Package iodev implements the I/O Device Core (spec.md §4.1): the
// polymorphic contract every hardware backend realizes, plus the per-device
// stream set, buffer accounting, rate estimation, software volume/gain
// adjustment, and DSP hook points. It is the neutral realization of
// spec.md §9's "capability-set abstraction": backends implement Ops instead
// of embedding function pointers on a struct.
package iodev

// Direction is whether a Device is a playback (output) or capture (input)
// endpoint.
type Direction int

const (
	Output Direction = iota
	Input
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// SampleType enumerates the PCM sample encodings a backend may support.
type SampleType int

const (
	S16LE SampleType = iota
	S24LE
	S32LE
	Float32LE
)

// Ops is the capability set a concrete backend (ALSA, loopback, A2DP,
// HFP-AG, test-stub — spec.md §6) must supply. Every method is invoked only
// on the main thread except FramesQueued, DelayFrames, GetBuffer and
// PutBuffer, which the audio thread calls under the discipline of
// spec.md §5.
type Ops interface {
	// OpenDev must leave the device ready to serve FramesQueued >=
	// min_buffer_level. Returns an error on failure.
	OpenDev(d *Device) error
	CloseDev(d *Device) error
	IsOpen(d *Device) bool

	// UpdateSupportedFormats refreshes d.SupportedRates,
	// d.SupportedChannelCounts and d.SupportedFormats.
	UpdateSupportedFormats(d *Device) error

	// FramesQueued returns the number of frames in the hardware buffer.
	// Audio-thread-callable.
	FramesQueued(d *Device) (int, error)

	// DelayFrames returns the backend's hardware delay, in frames.
	// Audio-thread-callable. The DSP pipeline delay is added on top of
	// this by Device.DelayFrames.
	DelayFrames(d *Device) (int, error)

	// GetBuffer returns a contiguous audio area and the number of frames
	// available in it. Concurrent GetBuffer calls on the same device are
	// not permitted. Audio-thread-callable.
	GetBuffer(d *Device, requested int) (area []byte, avail int, err error)

	// PutBuffer commits nwritten frames; nwritten must not exceed what
	// GetBuffer returned. Audio-thread-callable.
	PutBuffer(d *Device, nwritten int) error

	// FlushBuffer discards the buffer's contents and returns the number of
	// frames flushed.
	FlushBuffer(d *Device) (int, error)

	// DevRunning reports whether hardware is actively moving samples.
	// Audio-thread-callable.
	DevRunning(d *Device) bool

	// UpdateActiveNode is the only legal way a backend learns that node
	// selection changed.
	UpdateActiveNode(d *Device, nodeIdx uint32, enabled bool)

	// UpdateChannelLayout fills in channel ordering for the format already
	// set on d, after cras_iodev_set_format picks rate/channels/type.
	UpdateChannelLayout(d *Device) error

	SetVolume(d *Device)
	SetMute(d *Device)
	SetCaptureGain(d *Device)
	SetCaptureMute(d *Device)
	SetSwapModeForNode(d *Device, n *Node, enable bool) error
}
