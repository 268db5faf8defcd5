package iodev

import (
	"testing"
	"time"
)

// fakeOps is a minimal local Ops implementation, kept inside the package
// test so these tests stay independent of any particular backend.
type fakeOps struct {
	rates          []int
	channels       []int
	sampleTypes    []SampleType
	opened         bool
	volume         uint
	captureGain    int64
	activeNode     uint32
	softwareScaler float32
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		rates:       []int{44100, 48000},
		channels:    []int{2},
		sampleTypes: []SampleType{S16LE},
	}
}

func (f *fakeOps) OpenDev(d *Device) error  { f.opened = true; return nil }
func (f *fakeOps) CloseDev(d *Device) error { f.opened = false; return nil }
func (f *fakeOps) IsOpen(d *Device) bool    { return f.opened }
func (f *fakeOps) UpdateSupportedFormats(d *Device) error {
	d.SupportedRates = f.rates
	d.SupportedChannelCounts = f.channels
	d.SupportedFormats = f.sampleTypes
	return nil
}
func (f *fakeOps) FramesQueued(d *Device) (int, error) { return 256, nil }
func (f *fakeOps) DelayFrames(d *Device) (int, error)  { return 32, nil }
func (f *fakeOps) GetBuffer(d *Device, requested int) ([]byte, int, error) {
	return make([]byte, requested*4), requested, nil
}
func (f *fakeOps) PutBuffer(d *Device, nwritten int) error { return nil }
func (f *fakeOps) FlushBuffer(d *Device) (int, error)      { return 0, nil }
func (f *fakeOps) DevRunning(d *Device) bool               { return f.opened }
func (f *fakeOps) UpdateActiveNode(d *Device, idx uint32, enabled bool) {
	if enabled {
		f.activeNode = idx
	}
}
func (f *fakeOps) UpdateChannelLayout(d *Device) error { return nil }
func (f *fakeOps) SetVolume(d *Device) {
	if d.SoftwareVolumeNeeded() {
		f.softwareScaler = d.SoftwareVolumeScaler
		return
	}
	if d.ActiveNode != nil {
		f.volume = EffectiveVolume(d.SystemVolume, d.ActiveNode)
	}
}
func (f *fakeOps) SetMute(d *Device) {}
func (f *fakeOps) SetCaptureGain(d *Device) {
	if d.SoftwareVolumeNeeded() {
		f.captureGain = d.SoftwareCaptureGain
		return
	}
	if d.ActiveNode != nil {
		f.captureGain = EffectiveCaptureGain(d.SystemCaptureGain, d.ActiveNode)
	}
}
func (f *fakeOps) SetCaptureMute(d *Device) {}
func (f *fakeOps) SetSwapModeForNode(d *Device, n *Node, enable bool) error { return nil }

func TestAddNodeSelectsBetterDefault(t *testing.T) {
	ops := newFakeOps()
	d := New("speakers", Output, ops)

	speaker := &Node{Type: NodeInternalSpeaker, Plugged: true, Volume: 100}
	d.AddNode(speaker)
	if d.ActiveNode != speaker {
		t.Fatal("first node should become active")
	}

	headphone := &Node{Type: NodeHeadphone, Plugged: true, Volume: 100}
	d.AddNode(headphone)
	if d.ActiveNode != headphone {
		t.Fatal("headphone should displace speaker as active node")
	}
	if ops.activeNode != headphone.Index {
		t.Fatalf("backend was not told about the new active node")
	}
}

func TestRemoveActiveNodePromotesNextBest(t *testing.T) {
	ops := newFakeOps()
	d := New("speakers", Output, ops)

	speaker := &Node{Type: NodeInternalSpeaker, Plugged: true}
	headphone := &Node{Type: NodeHeadphone, Plugged: true}
	d.AddNode(speaker)
	d.AddNode(headphone)

	d.RemoveNode(headphone)
	if d.ActiveNode != speaker {
		t.Fatal("removing the active node should promote the next-best remaining node")
	}
}

func TestSetFormatPicksSupportedRateAndPreservesRequested(t *testing.T) {
	ops := newFakeOps()
	d := New("mic", Input, ops)
	if err := ops.UpdateSupportedFormats(d); err != nil {
		t.Fatal(err)
	}

	requested := Format{Rate: 96000, Channels: 2, SampleType: S16LE}
	if err := d.SetFormat(requested); err != nil {
		t.Fatal(err)
	}

	if d.Format.Rate != 48000 {
		t.Fatalf("negotiated rate = %d, want closest supported rate 48000", d.Format.Rate)
	}
	if d.ExtFormat != requested {
		t.Fatalf("ExtFormat = %+v, want the original request preserved", d.ExtFormat)
	}
}

func TestSetFormatWithoutSupportedFormatsErrors(t *testing.T) {
	ops := newFakeOps()
	d := New("mic", Input, ops)
	if err := d.SetFormat(Format{Rate: 48000, Channels: 2, SampleType: S16LE}); err == nil {
		t.Fatal("expected an error when UpdateSupportedFormats was never called")
	}
}

func TestOpenResetsRateEstimator(t *testing.T) {
	ops := newFakeOps()
	d := New("speakers", Output, ops)
	ops.UpdateSupportedFormats(d)
	d.SetFormat(Format{Rate: 48000, Channels: 2, SampleType: S16LE})

	// Perturb the estimator away from unity before Open.
	now := time.Now()
	d.RateEst.Update(0, now)
	d.RateEst.Update(96000, now.Add(time.Second))

	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	if got := d.RateEst.Ratio(); got != 1.0 {
		t.Fatalf("ratio after Open = %v, want 1.0", got)
	}
}

func TestDelayFramesAddsDSPDelay(t *testing.T) {
	ops := newFakeOps()
	d := New("speakers", Output, ops)
	d.RegisterDSPDelayFunc(func() int { return 10 })

	got, err := d.DelayFrames()
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 32 (hw) + 10 (dsp) = 42", got)
	}
}

func TestEffectiveVolumeAndGainComposition(t *testing.T) {
	ops := newFakeOps()
	d := New("speakers", Output, ops)
	node := &Node{Type: NodeInternalSpeaker, Plugged: true, Volume: 80, CaptureGain: 500}
	d.AddNode(node)

	d.SetVolume(90)
	if ops.volume != 70 {
		t.Fatalf("got volume %d, want 90-(100-80)=70", ops.volume)
	}

	d.SetCaptureGain(1200)
	if ops.captureGain != 1700 {
		t.Fatalf("got capture gain %d, want 1200+500=1700", ops.captureGain)
	}
}

func TestSoftwareVolumeAndCaptureGainComposition(t *testing.T) {
	ops := newFakeOps()
	d := New("bt-headset", Output, ops)
	node := &Node{
		Type:                 NodeBluetooth,
		Plugged:              true,
		Volume:               100,
		SoftwareVolumeNeeded: true,
		SoftvolScalers:       make([]float32, 101),
		MaxSoftwareGain:      1000,
	}
	for i := range node.SoftvolScalers {
		node.SoftvolScalers[i] = float32(i) / 100
	}
	d.AddNode(node)

	d.SetVolume(60)
	if !d.SoftwareVolumeNeeded() {
		t.Fatal("expected SoftwareVolumeNeeded to be true")
	}
	if want := node.SoftvolScalers[60]; ops.softwareScaler != want {
		t.Fatalf("got scaler %v, want %v", ops.softwareScaler, want)
	}
	if ops.volume != 0 {
		t.Fatalf("hardware volume path should not run, got %d", ops.volume)
	}

	d.SetCaptureGain(2000)
	if ops.captureGain != 1000 {
		t.Fatalf("got capture gain %d, want clamped to MaxSoftwareGain 1000", ops.captureGain)
	}
}

func TestEffectiveVolumeFloorsAtZero(t *testing.T) {
	node := &Node{Volume: 10}
	if got := EffectiveVolume(50, node); got != 0 {
		t.Fatalf("got %d, want floored at 0", got)
	}
}
