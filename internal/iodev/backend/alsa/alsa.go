// Package alsa is the ALSA-backed iodev.Ops implementation (spec.md §6
// "Audio backend plugins" lists ALSA as one of the concrete backends).
// It is grounded on the pack's gen2brain/alsa binding (other_examples/
// gen2brain-alsa__*.go): a pure-Go PCM ioctl layer with no cgo dependency,
// used here in its non-mmap raw read/write mode via the PCM's file
// descriptor, since that binding's mmap ring buffer is not part of its
// exported surface.
package alsa

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	alsalib "github.com/gen2brain/alsa"

	"github.com/shaban/audiosrvd/internal/iodev"
)

// Backend opens one ALSA hw:card,device PCM as either a playback or
// capture endpoint.
type Backend struct {
	CardName string // e.g. "hw:0,0"

	pcm         *alsalib.PCM
	openedAt    time.Time
	framesMoved uint64
	staging     []byte // area handed out by GetBuffer, flushed by PutBuffer
}

// New returns a Backend for the given ALSA device name.
func New(cardName string) *Backend {
	return &Backend{CardName: cardName}
}

func (b *Backend) flags(d *iodev.Device) alsalib.PcmFlag {
	if d.Direction == iodev.Input {
		return alsalib.PcmIn
	}
	return alsalib.PcmOut
}

func (b *Backend) OpenDev(d *iodev.Device) error {
	cfg := &alsalib.Config{
		Channels:    uint32(d.Format.Channels),
		Rate:        uint32(d.Format.Rate),
		PeriodSize:  uint32(d.BufferSize / 4),
		PeriodCount: 4,
		Format:      alsaFormat(d.Format.SampleType),
	}
	pcm, err := alsalib.PcmOpenByName(b.CardName, b.flags(d), cfg)
	if err != nil {
		return fmt.Errorf("alsa: open %s: %w", b.CardName, err)
	}
	if err := pcm.Prepare(); err != nil {
		pcm.Close()
		return fmt.Errorf("alsa: prepare %s: %w", b.CardName, err)
	}
	b.pcm = pcm
	b.openedAt = time.Now()
	b.framesMoved = 0
	return nil
}

func (b *Backend) CloseDev(d *iodev.Device) error {
	if b.pcm == nil {
		return nil
	}
	err := b.pcm.Close()
	b.pcm = nil
	return err
}

func (b *Backend) IsOpen(d *iodev.Device) bool { return b.pcm != nil }

func (b *Backend) UpdateSupportedFormats(d *iodev.Device) error {
	d.SupportedRates = []int{44100, 48000, 96000}
	d.SupportedChannelCounts = []int{1, 2}
	d.SupportedFormats = []iodev.SampleType{iodev.S16LE, iodev.S32LE}
	return nil
}

func (b *Backend) FramesQueued(d *iodev.Device) (int, error) {
	if b.pcm == nil {
		return 0, fmt.Errorf("alsa: device not open")
	}
	return int(b.pcm.BufferSize()), nil
}

func (b *Backend) DelayFrames(d *iodev.Device) (int, error) {
	if b.pcm == nil {
		return 0, fmt.Errorf("alsa: device not open")
	}
	delay, err := b.pcm.Delay()
	if err != nil {
		return 0, fmt.Errorf("alsa: delay: %w", err)
	}
	return delay, nil
}

func (b *Backend) GetBuffer(d *iodev.Device, requested int) ([]byte, int, error) {
	if b.pcm == nil {
		return nil, 0, fmt.Errorf("alsa: device not open")
	}
	frameSize := d.Format.Channels * sampleBytes(d.Format.SampleType)
	b.staging = make([]byte, requested*frameSize)
	if d.Direction == iodev.Input {
		n, err := unix.Read(int(b.pcm.Fd()), b.staging)
		if err != nil {
			return nil, 0, fmt.Errorf("alsa: read: %w", err)
		}
		nframes := n / frameSize
		if d.SoftwareVolumeNeeded() {
			iodev.ScaleSamples(b.staging[:n], d.Format.SampleType, iodev.DBToLinearScaler(d.SoftwareCaptureGain))
		}
		return b.staging, nframes, nil
	}
	return b.staging, requested, nil
}

func (b *Backend) PutBuffer(d *iodev.Device, nwritten int) error {
	if b.pcm == nil {
		return fmt.Errorf("alsa: device not open")
	}
	if d.Direction == iodev.Output {
		frameSize := d.Format.Channels * sampleBytes(d.Format.SampleType)
		out := b.staging[:nwritten*frameSize]
		if d.SoftwareVolumeNeeded() {
			iodev.ScaleSamples(out, d.Format.SampleType, d.SoftwareVolumeScaler)
		}
		if _, err := unix.Write(int(b.pcm.Fd()), out); err != nil {
			return fmt.Errorf("alsa: write: %w", err)
		}
	}
	b.framesMoved += uint64(nwritten)
	d.RateEst.Update(b.framesMoved, time.Now())
	return nil
}

func (b *Backend) FlushBuffer(d *iodev.Device) (int, error) {
	if b.pcm == nil {
		return 0, nil
	}
	if err := b.pcm.Drain(); err != nil {
		return 0, fmt.Errorf("alsa: drain: %w", err)
	}
	return 0, nil
}

func (b *Backend) DevRunning(d *iodev.Device) bool {
	if b.pcm == nil {
		return false
	}
	state, err := b.pcm.State()
	if err != nil {
		return false
	}
	return state == alsalib.PcmStateRunning
}

func (b *Backend) UpdateActiveNode(d *iodev.Device, nodeIdx uint32, enabled bool) {}

func (b *Backend) UpdateChannelLayout(d *iodev.Device) error { return nil }

// SetVolume is a no-op: gen2brain/alsa exposes no mixer-element control, so
// every node attached to this backend carries SoftwareVolumeNeeded, and
// GetBuffer/PutBuffer read d.SoftwareVolumeScaler/d.SoftwareCaptureGain
// (set by Device.SetVolume/SetCaptureGain) directly instead.
func (b *Backend) SetVolume(d *iodev.Device) {}
func (b *Backend) SetMute(d *iodev.Device)   {}

func (b *Backend) SetCaptureGain(d *iodev.Device) {}
func (b *Backend) SetCaptureMute(d *iodev.Device) {}

func (b *Backend) SetSwapModeForNode(d *iodev.Device, n *iodev.Node, enable bool) error {
	return nil
}

func alsaFormat(t iodev.SampleType) alsalib.PcmFormat {
	switch t {
	case iodev.S32LE:
		return alsalib.PcmFormatS32LE
	case iodev.Float32LE:
		return alsalib.PcmFormatFloatLE
	default:
		return alsalib.PcmFormatS16LE
	}
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
