package metrics

import "testing"

func TestSCOErrorTypeStrings(t *testing.T) {
	cases := map[SCOErrorType]string{
		SCOSuccess:      "success",
		SCOConnectError: "connect_error",
		SCOOpenError:    "open_error",
		SCOPollTimeout:  "poll_timeout",
		SCOPollErrHup:   "poll_err_hup",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("SCOErrorType(%d).String() = %q, want %q", code, got, want)
		}
	}
}

func TestA2DPExitCodeStrings(t *testing.T) {
	cases := map[A2DPExitCode]string{
		A2DPExitIdle:           "idle",
		A2DPExitWhileStreaming: "while_streaming",
		A2DPExitConnReset:      "conn_reset",
		A2DPExitLongTxFailure:  "long_tx_failure",
		A2DPExitTxFatalError:   "tx_fatal_error",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("A2DPExitCode(%d).String() = %q, want %q", code, got, want)
		}
	}
}

func TestDefaultSinkSatisfiesInterfaceAndDoesNotPanic(t *testing.T) {
	var s Sink = Default
	s.HFPSCOConnectionError(SCOConnectError)
	s.HFPBatteryReport(true)
	s.HFPWidebandSupport("dev1", true)
	s.HFPWidebandSelectedCodec("dev1", 2)
	s.HFPPacketLoss(0.02)
	s.DeviceRuntime("dev1", "output", 12.5)
	s.DeviceGain("dev1", 500)
	s.DeviceVolume("dev1", 70)
	s.HighestDeviceDelay(128)
	s.NumUnderruns("dev1")
	s.MissedCallbackEvent("dev1")
	s.StreamCreated("output")
	s.StreamDestroyed("output")
	s.Busyloop(3.5)
	s.A2DPExit(A2DPExitConnReset)
	s.A2DP20msFailure("dev1")
	s.A2DP100msFailure("dev1")
}
