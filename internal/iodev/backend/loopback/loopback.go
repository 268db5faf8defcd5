// Package loopback implements the loopback capture backend named in
// spec.md §6's backend list: an input device whose frames come from
// another device's post-DSP (or pre-DSP) hook rather than hardware,
// letting something like a screen recorder capture exactly what is
// being played. Grounded on the pack's in-process ring-buffer plumbing
// style (internal/iodev's own BufferShare) rather than any one teacher
// file, since the teacher repo has no loopback-shaped device.
package loopback

import (
	"fmt"
	"sync"

	"github.com/shaban/audiosrvd/internal/iodev"
)

// ring is a small fixed-capacity byte FIFO used to decouple the producer
// (the hook callback, invoked on the source device's audio thread) from
// the consumer (GetBuffer, invoked on the loopback device's own thread).
type ring struct {
	mu   sync.Mutex
	buf  []byte
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]byte, capacity)}
}

func (r *ring) write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range p {
		tail := (r.head + r.size) % len(r.buf)
		r.buf[tail] = b
		if r.size < len(r.buf) {
			r.size++
		} else {
			r.head = (r.head + 1) % len(r.buf)
		}
	}
}

func (r *ring) read(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.size {
		n = r.size
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
	return out
}

func (r *ring) available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Backend is a loopback capture device fed by Feed, which a source
// device's pre-DSP or post-DSP hook calls with the frames it sees.
type Backend struct {
	frames *ring
	open   bool
}

// New returns a Backend with room for roughly capacityFrames frames at
// frameBytes bytes each.
func New(capacityFrames, frameBytes int) *Backend {
	return &Backend{frames: newRing(capacityFrames * frameBytes)}
}

// Feed is installed as a source device's DSP hook (via
// iodev.Device.RegisterPreDSPHook / RegisterPostDSPHook) and mirrors its
// frames into the loopback ring. It must not block, per the hook
// contract.
func (b *Backend) Feed(area []byte, nframes int) int {
	b.frames.write(area)
	return nframes
}

func (b *Backend) OpenDev(d *iodev.Device) error {
	b.open = true
	return nil
}

func (b *Backend) CloseDev(d *iodev.Device) error {
	b.open = false
	return nil
}

func (b *Backend) IsOpen(d *iodev.Device) bool { return b.open }

func (b *Backend) UpdateSupportedFormats(d *iodev.Device) error {
	d.SupportedRates = []int{44100, 48000}
	d.SupportedChannelCounts = []int{1, 2}
	d.SupportedFormats = []iodev.SampleType{iodev.S16LE, iodev.Float32LE}
	return nil
}

func (b *Backend) FramesQueued(d *iodev.Device) (int, error) {
	frameSize := d.Format.Channels * sampleBytes(d.Format.SampleType)
	if frameSize == 0 {
		return 0, fmt.Errorf("loopback: format not set")
	}
	return b.frames.available() / frameSize, nil
}

func (b *Backend) DelayFrames(d *iodev.Device) (int, error) { return 0, nil }

func (b *Backend) GetBuffer(d *iodev.Device, requested int) ([]byte, int, error) {
	frameSize := d.Format.Channels * sampleBytes(d.Format.SampleType)
	data := b.frames.read(requested * frameSize)
	return data, len(data) / frameSize, nil
}

func (b *Backend) PutBuffer(d *iodev.Device, nwritten int) error { return nil }

func (b *Backend) FlushBuffer(d *iodev.Device) (int, error) { return 0, nil }

func (b *Backend) DevRunning(d *iodev.Device) bool { return b.open }

func (b *Backend) UpdateActiveNode(d *iodev.Device, nodeIdx uint32, enabled bool) {}

func (b *Backend) UpdateChannelLayout(d *iodev.Device) error { return nil }

func (b *Backend) SetVolume(d *iodev.Device) {}
func (b *Backend) SetMute(d *iodev.Device)   {}

func (b *Backend) SetCaptureGain(d *iodev.Device) {}
func (b *Backend) SetCaptureMute(d *iodev.Device) {}

func (b *Backend) SetSwapModeForNode(d *iodev.Device, n *iodev.Node, enable bool) error {
	return nil
}

func sampleBytes(t iodev.SampleType) int {
	switch t {
	case iodev.S16LE:
		return 2
	case iodev.S24LE:
		return 3
	case iodev.S32LE, iodev.Float32LE:
		return 4
	default:
		return 2
	}
}
