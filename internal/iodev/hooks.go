package iodev

// DSPHook processes nframes of audio in area in place, returning the number
// of frames still valid after processing (a hook may shrink the block, as
// resamplers do). Realizes cras_iodev.h's pre_dsp_hook/post_dsp_hook
// function-pointer slots.
type DSPHook func(area []byte, nframes int) int

// DSPDelayFrames reports the extra latency, in frames, a DSP pipeline
// stage contributes on top of hardware delay. A device with no DSP
// configured returns 0.
type DSPDelayFrames func() int
