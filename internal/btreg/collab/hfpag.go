package collab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/shaban/audiosrvd/internal/btreg"
	"github.com/shaban/audiosrvd/internal/iodev"
	"github.com/shaban/audiosrvd/internal/logging"
	"github.com/shaban/audiosrvd/internal/mainbus"
)

// HFPAG is the audio-gateway collaborator for hands-free telephony: Start
// opens the SCO link via the device's GetSCO refcount (spec.md §3 BTDevice
// "per-device SCO refcount"), SuspendConnectedDevice releases it.
type HFPAG struct {
	conn *dbus.Conn
	mb   *mainbus.Bus
	log  *slog.Logger

	mu           sync.Mutex
	sock         map[string]int     // object path -> SCO socket fd
	volumeScaler map[string]float32 // object path -> software playback scaler
	captureGain  map[string]int64   // object path -> software capture gain, hundredths of dBFS
}

// NewHFPAG wraps an established D-Bus system bus connection. mb is where
// a failed SCO connect is reported once BlueZ actually replies, since
// GetSCO's establish callback only dispatches the request.
func NewHFPAG(conn *dbus.Conn, mb *mainbus.Bus) *HFPAG {
	return &HFPAG{
		conn:         conn,
		mb:           mb,
		log:          logging.For("btreg.hfpag"),
		sock:         make(map[string]int),
		volumeScaler: make(map[string]float32),
		captureGain:  make(map[string]int64),
	}
}

// Start's establish callback must return quickly since GetSCO runs it
// under the device's own lock on the policy thread — it only dispatches
// ConnectProfile and returns, leaving the actual fd install to
// awaitConnect once BlueZ replies.
func (h *HFPAG) Start(d *btreg.Device) error {
	return d.GetSCO(func() error {
		obj := h.conn.Object("org.bluez", dbus.ObjectPath(d.ObjectPath))
		ch := make(chan *dbus.Call, 1)
		call := obj.GoWithContext(context.Background(), "org.bluez.Device1.ConnectProfile", 0, ch, btreg.UUIDHFPHandsFree)
		if call.Err != nil {
			return fmt.Errorf("hfp-ag: dispatch SCO connect for %s: %w", d.ObjectPath, call.Err)
		}
		go h.awaitConnect(d.ObjectPath, ch)
		return nil
	})
}

func (h *HFPAG) awaitConnect(objectPath string, ch chan *dbus.Call) {
	completed := <-ch
	if completed.Err != nil {
		h.reportFailure(objectPath, "hfpag_start", completed.Err)
		return
	}
	var fdVariant dbus.Variant
	_ = completed.Store(&fdVariant)
	fd, _ := fdVariant.Value().(dbus.UnixFD)

	h.mu.Lock()
	h.sock[objectPath] = int(fd)
	h.volumeScaler[objectPath] = 1.0
	h.mu.Unlock()
	h.log.Info("hfp-ag sco established", "device", objectPath)
}

func (h *HFPAG) SuspendConnectedDevice(d *btreg.Device) error {
	d.PutSCO(func() {
		h.mu.Lock()
		delete(h.sock, d.ObjectPath)
		delete(h.volumeScaler, d.ObjectPath)
		delete(h.captureGain, d.ObjectPath)
		h.mu.Unlock()
		h.log.Info("hfp-ag sco torn down", "device", d.ObjectPath)
	})
	return nil
}

func (h *HFPAG) reportFailure(objectPath, operation string, err error) {
	h.log.Error("hfp-ag async call failed", "device", objectPath, "operation", operation, "err", err)
	if h.mb == nil {
		return
	}
	h.mb.Send(mainbus.Message{
		Type: btreg.MsgAsyncCallFailed,
		Payload: btreg.AsyncCallFailedPayload{
			ObjectPath: objectPath,
			Operation:  operation,
			Err:        err,
		},
	})
}

// Ops returns an iodev.Ops bound to the named device's SCO socket.
func (h *HFPAG) Ops(objectPath string) iodev.Ops {
	return &hfpagOps{backend: h, objectPath: objectPath}
}

type hfpagOps struct {
	backend    *HFPAG
	objectPath string
	openedAt   time.Time
	staging    []byte
}

func (o *hfpagOps) fd() (int, bool) {
	o.backend.mu.Lock()
	defer o.backend.mu.Unlock()
	fd, ok := o.backend.sock[o.objectPath]
	return fd, ok
}

func (o *hfpagOps) OpenDev(d *iodev.Device) error {
	if _, ok := o.fd(); !ok {
		return fmt.Errorf("hfp-ag: no SCO socket for %s", o.objectPath)
	}
	o.openedAt = time.Now()
	return nil
}

func (o *hfpagOps) CloseDev(d *iodev.Device) error { return nil }

func (o *hfpagOps) IsOpen(d *iodev.Device) bool {
	_, ok := o.fd()
	return ok
}

func (o *hfpagOps) UpdateSupportedFormats(d *iodev.Device) error {
	d.SupportedRates = []int{8000, 16000}
	d.SupportedChannelCounts = []int{1}
	d.SupportedFormats = []iodev.SampleType{iodev.S16LE}
	return nil
}

func (o *hfpagOps) FramesQueued(d *iodev.Device) (int, error) { return 0, nil }
func (o *hfpagOps) DelayFrames(d *iodev.Device) (int, error)  { return 0, nil }

func (o *hfpagOps) GetBuffer(d *iodev.Device, requested int) ([]byte, int, error) {
	frameSize := d.Format.Channels * 2
	o.staging = make([]byte, requested*frameSize)
	if d.Direction == iodev.Input && d.SoftwareVolumeNeeded() {
		o.backend.mu.Lock()
		gain := o.backend.captureGain[o.objectPath]
		o.backend.mu.Unlock()
		iodev.ScaleSamples(o.staging, d.Format.SampleType, iodev.DBToLinearScaler(gain))
	}
	return o.staging, requested, nil
}

func (o *hfpagOps) PutBuffer(d *iodev.Device, nwritten int) error {
	if _, ok := o.fd(); !ok {
		return fmt.Errorf("hfp-ag: socket gone for %s", o.objectPath)
	}
	if d.Direction == iodev.Output && d.SoftwareVolumeNeeded() {
		o.backend.mu.Lock()
		scaler := o.backend.volumeScaler[o.objectPath]
		o.backend.mu.Unlock()
		frameSize := d.Format.Channels * 2
		iodev.ScaleSamples(o.staging[:nwritten*frameSize], d.Format.SampleType, scaler)
	}
	d.RateEst.Update(uint64(nwritten), time.Now())
	return nil
}

func (o *hfpagOps) FlushBuffer(d *iodev.Device) (int, error) { return 0, nil }

func (o *hfpagOps) DevRunning(d *iodev.Device) bool {
	_, ok := o.fd()
	return ok
}

func (o *hfpagOps) UpdateActiveNode(d *iodev.Device, nodeIdx uint32, enabled bool) {}
func (o *hfpagOps) UpdateChannelLayout(d *iodev.Device) error                      { return nil }

// SetVolume and SetCaptureGain store the software scaler/gain Device already
// computed (every HFP-AG node reports SoftwareVolumeNeeded, since a SCO
// socket has no hardware mixer) for GetBuffer/PutBuffer to apply.
func (o *hfpagOps) SetVolume(d *iodev.Device) {
	o.backend.mu.Lock()
	o.backend.volumeScaler[o.objectPath] = d.SoftwareVolumeScaler
	o.backend.mu.Unlock()
}
func (o *hfpagOps) SetMute(d *iodev.Device) {}
func (o *hfpagOps) SetCaptureGain(d *iodev.Device) {
	o.backend.mu.Lock()
	o.backend.captureGain[o.objectPath] = d.SoftwareCaptureGain
	o.backend.mu.Unlock()
}
func (o *hfpagOps) SetCaptureMute(d *iodev.Device) {}
func (o *hfpagOps) SetSwapModeForNode(d *iodev.Device, n *iodev.Node, enable bool) error {
	return nil
}
