package rate

import (
	"testing"
	"time"
)

func TestNewStartsAtUnityRatio(t *testing.T) {
	e := New(48000)
	if got := e.Ratio(); got != 1.0 {
		t.Fatalf("got ratio %v, want 1.0", got)
	}
}

func TestUpdateConvergesTowardMeasuredRate(t *testing.T) {
	e := New(48000)
	now := time.Now()

	// Device actually runs at 48048 Hz (a common +0.1% crystal drift).
	var actualRate = 48048.0
	frames := uint64(0)

	e.Update(frames, now)
	for i := 0; i < 40; i++ {
		now = now.Add(200 * time.Millisecond)
		frames += uint64(actualRate * 0.2)
		e.Update(frames, now)
	}

	got := e.Ratio()
	want := actualRate / 48000.0
	if diff := got - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("ratio %v did not converge to %v", got, want)
	}
}

func TestResetRestoresUnityRatio(t *testing.T) {
	e := New(48000)
	now := time.Now()
	e.Update(0, now)
	now = now.Add(time.Second)
	e.Update(96000, now) // double rate, to move ratio away from 1.0

	if e.Ratio() == 1.0 {
		t.Fatal("ratio should have moved off 1.0 before reset")
	}

	e.Reset(48000)
	if got := e.Ratio(); got != 1.0 {
		t.Fatalf("got ratio %v after reset, want 1.0", got)
	}
}

func TestUpdateIgnoresSubWindowObservations(t *testing.T) {
	e := New(48000)
	now := time.Now()
	e.Update(0, now)

	// Well under windowMinDuration: must not fold into the estimate yet.
	now = now.Add(5 * time.Millisecond)
	e.Update(1000000, now) // would imply an absurd rate if counted
	if got := e.Ratio(); got != 1.0 {
		t.Fatalf("got ratio %v, want unchanged 1.0 for sub-window update", got)
	}
}
