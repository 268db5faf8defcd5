package iodev

// StreamID identifies one stream attached to a Device for buffer-share
// accounting purposes. Callers mint these (e.g. from a mixer's own stream
// table); BufferShare treats them as opaque keys.
type StreamID uint64

// BufferShare tracks, per attached stream, how many frames of the device's
// shared buffer that stream has consumed relative to a common origin
// (spec.md §4.1 "Stream offset accounting", grounded on cras_iodev.h's
// stream_offset/max_stream_offset/stream_written/all_streams_written
// quartet). All offsets are measured from the same rotating origin: when
// every attached stream has consumed at least N frames, the origin
// advances by N and N is subtracted from every stream's recorded offset,
// so offsets cannot grow without bound across a long-running device.
type BufferShare struct {
	offsets map[StreamID]uint32
	order   []StreamID
}

// NewBufferShare returns an empty BufferShare.
func NewBufferShare() *BufferShare {
	return &BufferShare{offsets: make(map[StreamID]uint32)}
}

// AddStream begins tracking id at offset 0. Re-adding an already-tracked id
// is a no-op.
func (b *BufferShare) AddStream(id StreamID) {
	if _, ok := b.offsets[id]; ok {
		return
	}
	b.offsets[id] = 0
	b.order = append(b.order, id)
}

// RemoveStream stops tracking id. Safe to call on an id that was never
// added or was already removed.
func (b *BufferShare) RemoveStream(id StreamID) {
	if _, ok := b.offsets[id]; !ok {
		return
	}
	delete(b.offsets, id)
	for i, s := range b.order {
		if s == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// StreamWritten records that id has consumed n additional frames since its
// last StreamWritten call.
func (b *BufferShare) StreamWritten(id StreamID, n uint32) {
	if _, ok := b.offsets[id]; !ok {
		return
	}
	b.offsets[id] += n
}

// StreamOffset returns id's current offset from the shared origin.
func (b *BufferShare) StreamOffset(id StreamID) uint32 {
	return b.offsets[id]
}

// MaxStreamOffset returns the largest offset among all attached streams, or
// 0 if none are attached.
func (b *BufferShare) MaxStreamOffset() uint32 {
	var max uint32
	for _, off := range b.offsets {
		if off > max {
			max = off
		}
	}
	return max
}

// AllStreamsWritten returns the minimum offset across every attached
// stream — the number of frames every stream has now consumed — and
// rotates the shared origin forward by that amount, preserving each
// stream's delta above the minimum. Returns 0 when no streams are
// attached, since there is nothing common to commit.
func (b *BufferShare) AllStreamsWritten() uint32 {
	if len(b.order) == 0 {
		return 0
	}
	min := b.offsets[b.order[0]]
	for _, id := range b.order[1:] {
		if off := b.offsets[id]; off < min {
			min = off
		}
	}
	if min == 0 {
		return 0
	}
	for id := range b.offsets {
		b.offsets[id] -= min
	}
	return min
}
