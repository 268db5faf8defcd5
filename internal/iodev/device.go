package iodev

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaban/audiosrvd/internal/logging"
	"github.com/shaban/audiosrvd/internal/metrics"
	"github.com/shaban/audiosrvd/internal/rate"
)

// Device is one hardware or virtual audio endpoint (spec.md §3
// cras_iodev): a direction, a negotiated format, a set of selectable Nodes,
// the stream set attached to it, and the backend Ops realizing its I/O.
// All methods except the audio-thread-callable subset documented on Ops are
// main-thread-only, mirroring the original's single-writer-thread
// discipline (spec.md §5) — Device itself holds a mutex only to guard the
// fields the audio thread and main thread both touch (buffer/stream state),
// not to make arbitrary concurrent access safe.
type Device struct {
	mu sync.Mutex

	ID        uuid.UUID
	Name      string
	Direction Direction

	Format    Format // negotiated hardware format
	ExtFormat Format // format requested by the mixer/stream layer

	SupportedRates         []int
	SupportedChannelCounts []int
	SupportedFormats       []SampleType

	BufferSize     int
	MinBufferLevel uint
	MinCbLevel     uint
	MaxCbLevel     uint

	Nodes      []*Node
	ActiveNode *Node

	// SystemVolume/SystemCaptureGain are the device-independent controls
	// combined with the active node's own setting by EffectiveVolume and
	// EffectiveCaptureGain.
	SystemVolume      uint
	SystemCaptureGain int64
	Muted             bool
	CaptureMuted      bool

	// SoftwareVolumeScaler and SoftwareCaptureGain are only meaningful
	// while SoftwareVolumeNeeded() is true. SetVolume/SetCaptureGain
	// recompute them from the SoftvolScalers table and MaximumSoftwareGain
	// respectively; a software-path Ops implementation reads them instead
	// of driving a (nonexistent) hardware control.
	SoftwareVolumeScaler float32
	SoftwareCaptureGain  int64

	streams *BufferShare
	RateEst *rate.Estimator

	DSPName    string
	PreDSP     DSPHook
	PostDSP    DSPHook
	dspDelayFn DSPDelayFrames

	Enabled     bool
	IdleTimeout time.Duration
	idleSince   time.Time
	openedAt    time.Time

	ops Ops
	log *slog.Logger
}

// defaultBufferSizeFrames seeds every new Device's BufferSize, overridable
// at process start from config.Config.BufferSizeFrames via
// SetDefaultBufferSize. A caller may still set BufferSize explicitly
// immediately after calling UpdateSupportedFormats to override it per
// device.
var defaultBufferSizeFrames = 512

// SetDefaultBufferSize changes the BufferSize every subsequently created
// Device starts with. Call once at startup, before any device is opened.
func SetDefaultBufferSize(frames int) {
	if frames > 0 {
		defaultBufferSizeFrames = frames
	}
}

// New creates a Device named name for the given direction, backed by ops.
// MinCbLevel and MaxCbLevel are left at zero; a caller typically sets them
// immediately after calling UpdateSupportedFormats.
func New(name string, dir Direction, ops Ops) *Device {
	return &Device{
		ID:         uuid.New(),
		Name:       name,
		Direction:  dir,
		streams:    NewBufferShare(),
		RateEst:    rate.New(48000),
		BufferSize: defaultBufferSizeFrames,
		ops:        ops,
		Enabled:    true,
		log:        logging.For("iodev." + name),
	}
}

// AddNode appends n to the device's node list and, if n is a better default
// than the current ActiveNode (or none is active yet), makes it active.
// Realizes cras_iodev_add_node plus the ionode_better-driven
// default-selection behavior described in spec.md §4.1.
func (d *Device) AddNode(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n.dev = d
	n.Index = uint32(len(d.Nodes))
	d.Nodes = append(d.Nodes, n)
	if d.ActiveNode == nil || NodeBetter(n, d.ActiveNode) {
		d.setActiveNodeLocked(n)
	}
}

// RemoveNode removes n from the device's node list, realizing
// cras_iodev_rm_node. If n was active, the best remaining node (if any)
// becomes active.
func (d *Device) RemoveNode(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.Nodes {
		if existing == n {
			d.Nodes = append(d.Nodes[:i], d.Nodes[i+1:]...)
			break
		}
	}
	if d.ActiveNode != n {
		return
	}
	d.ActiveNode = nil
	var best *Node
	for _, candidate := range d.Nodes {
		if best == nil || NodeBetter(candidate, best) {
			best = candidate
		}
	}
	if best != nil {
		d.setActiveNodeLocked(best)
	}
}

// SetActiveNode makes n the device's active node, realizing
// cras_iodev_set_active_node. n must already belong to the device.
func (d *Device) SetActiveNode(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setActiveNodeLocked(n)
}

func (d *Device) setActiveNodeLocked(n *Node) {
	d.ActiveNode = n
	if d.ops != nil {
		d.ops.UpdateActiveNode(d, n.Index, true)
	}
}

// RefreshActiveNode re-invokes the backend's UpdateActiveNode for the
// currently active node, used after an external profile change that may
// have left backend-side node state stale without changing which node is
// logically active.
func (d *Device) RefreshActiveNode() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ActiveNode != nil && d.ops != nil {
		d.ops.UpdateActiveNode(d, d.ActiveNode.Index, true)
	}
}

// SetNodePlugged updates a node's plugged state and plug timestamp, and
// re-runs default selection if the change affects which node ranks best
// (cras_iodev.h's ionode_plug_event).
func (d *Device) SetNodePlugged(n *Node, plugged bool, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n.Plugged = plugged
	n.PluggedTime = at
	if plugged && (d.ActiveNode == nil || NodeBetter(n, d.ActiveNode)) {
		d.setActiveNodeLocked(n)
	}
}

// Open opens the device's backend and resets its rate estimator, realizing
// cras_iodev_open.
func (d *Device) Open() error {
	if err := d.ops.OpenDev(d); err != nil {
		return fmt.Errorf("iodev: open %s: %w", d.Name, err)
	}
	d.RateEst.Reset(float64(d.Format.Rate))
	d.idleSince = time.Time{}
	d.openedAt = time.Now()
	return nil
}

// Close closes the device's backend and frees its negotiated format,
// realizing cras_iodev_close. Reports the elapsed open duration to
// metrics.Default.DeviceRuntime (spec.md §6 "Metrics").
func (d *Device) Close() error {
	if err := d.ops.CloseDev(d); err != nil {
		return fmt.Errorf("iodev: close %s: %w", d.Name, err)
	}
	if !d.openedAt.IsZero() {
		metrics.Default.DeviceRuntime(d.Name, d.Direction.String(), time.Since(d.openedAt).Seconds())
		d.openedAt = time.Time{}
	}
	d.FreeFormat()
	return nil
}

// IsOpen reports whether the backend is currently open.
func (d *Device) IsOpen() bool { return d.ops.IsOpen(d) }

// AttachStream begins buffer-share accounting for id.
func (d *Device) AttachStream(id StreamID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams.AddStream(id)
	metrics.Default.StreamCreated(d.Direction.String())
}

// DetachStream stops buffer-share accounting for id.
func (d *Device) DetachStream(id StreamID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams.RemoveStream(id)
	metrics.Default.StreamDestroyed(d.Direction.String())
}

// StreamWritten records that stream id consumed n more frames, realizing
// cras_iodev_stream_written.
func (d *Device) StreamWritten(id StreamID, n uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams.StreamWritten(id, n)
}

// AllStreamsWritten returns the number of frames every attached stream has
// now consumed, rotating the shared buffer origin forward by that amount.
func (d *Device) AllStreamsWritten() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams.AllStreamsWritten()
}

// MaxStreamOffset returns the largest per-stream offset currently recorded.
func (d *Device) MaxStreamOffset() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams.MaxStreamOffset()
}

// StreamOffset returns id's current offset from the shared origin.
func (d *Device) StreamOffset(id StreamID) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams.StreamOffset(id)
}

// FramesQueued returns the backend's queued frame count. Audio-thread-safe.
func (d *Device) FramesQueued() (int, error) { return d.ops.FramesQueued(d) }

// DelayFrames returns total latency in frames: backend hardware delay plus
// any DSP pipeline delay, realizing cras_iodev_delay_frames's
// `delay_frames() + dsp_delay()` composition.
func (d *Device) DelayFrames() (int, error) {
	hw, err := d.ops.DelayFrames(d)
	if err != nil {
		return 0, err
	}
	if d.dspDelayFn == nil {
		return hw, nil
	}
	return hw + d.dspDelayFn(), nil
}

// RegisterPreDSPHook installs fn as the device's pre-DSP processing hook.
func (d *Device) RegisterPreDSPHook(fn DSPHook) { d.PreDSP = fn }

// RegisterPostDSPHook installs fn as the device's post-DSP processing hook.
func (d *Device) RegisterPostDSPHook(fn DSPHook) { d.PostDSP = fn }

// RegisterDSPDelayFunc installs fn as the source of additional DSP latency
// for DelayFrames.
func (d *Device) RegisterDSPDelayFunc(fn DSPDelayFrames) { d.dspDelayFn = fn }

// SetVolume applies d.SystemVolume (combined with the active node's own
// setting) to the backend, or to the software scaler path if the active
// node requires it.
func (d *Device) SetVolume(systemVolume uint) {
	d.mu.Lock()
	d.SystemVolume = systemVolume
	if d.SoftwareVolumeNeeded() {
		d.SoftwareVolumeScaler = d.SoftvolScaler(EffectiveVolume(systemVolume, d.ActiveNode))
	} else {
		d.SoftwareVolumeScaler = 1.0
	}
	d.mu.Unlock()
	d.ops.SetVolume(d)
	metrics.Default.DeviceVolume(d.Name, systemVolume)
}

// SetMute applies muted state to the backend.
func (d *Device) SetMute(muted bool) {
	d.mu.Lock()
	d.Muted = muted
	d.mu.Unlock()
	d.ops.SetMute(d)
}

// SetCaptureGain applies d.SystemCaptureGain to the backend.
func (d *Device) SetCaptureGain(gain int64) {
	d.mu.Lock()
	d.SystemCaptureGain = gain
	if d.SoftwareVolumeNeeded() {
		eff := gain
		if d.ActiveNode != nil {
			eff = EffectiveCaptureGain(gain, d.ActiveNode)
		}
		if max := d.MaximumSoftwareGain(); max > 0 && eff > max {
			eff = max
		}
		d.SoftwareCaptureGain = eff
	} else {
		d.SoftwareCaptureGain = 0
	}
	d.mu.Unlock()
	d.ops.SetCaptureGain(d)
	metrics.Default.DeviceGain(d.Name, gain)
}

// SetCaptureMute applies capture-muted state to the backend.
func (d *Device) SetCaptureMute(muted bool) {
	d.mu.Lock()
	d.CaptureMuted = muted
	d.mu.Unlock()
	d.ops.SetCaptureMute(d)
}
