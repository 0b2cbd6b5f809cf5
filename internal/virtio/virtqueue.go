package virtio

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/cohesix/queenroot/internal/kerr"
)

// DescSize and UsedElemSize are the fixed wire sizes used by the layout
// formulas in Layout.
const (
	DescSize     = 16
	UsedElemSize = 8
)

// Descriptor flags.
const (
	DescFlagNext  uint16 = 1
	DescFlagWrite uint16 = 2
)

func alignUp2(v, n uint64) uint64 { return (v + n - 1) &^ (n - 1) }

// Layout is the computed byte layout of a split virtqueue's three regions
// within one contiguous DMA frame: desc | avail | used.
type Layout struct {
	Size        uint64
	DescOffset  uint64
	DescLen     uint64
	AvailOffset uint64
	AvailLen    uint64
	UsedOffset  uint64
	UsedLen     uint64
	Total       uint64
}

// ComputeLayout lays out a virtqueue of the given size starting at offset
// 0 of its frame, per the desc|avail|used region formulas.
func ComputeLayout(size uint64) Layout {
	descLen := size * DescSize
	availOffset := alignUp2(descLen, 2)
	availLen := 6 + 2*size
	usedOffset := alignUp2(availOffset+availLen, 4)
	usedLen := 6 + UsedElemSize*size

	return Layout{
		Size:        size,
		DescOffset:  0,
		DescLen:     descLen,
		AvailOffset: availOffset,
		AvailLen:    availLen,
		UsedOffset:  usedOffset,
		UsedLen:     usedLen,
		Total:       usedOffset + usedLen,
	}
}

// Validate checks the region-ordering and alignment invariants §8.2
// requires of every virtqueue layout.
func (l Layout) Validate(frameLen uint64) error {
	descEnd := l.DescOffset + l.DescLen
	availEnd := l.AvailOffset + l.AvailLen
	usedEnd := l.UsedOffset + l.UsedLen

	if descEnd > l.AvailOffset {
		return kerr.NewError("Layout", kerr.CodeFatal, "desc region overlaps avail region")
	}
	if availEnd > l.UsedOffset {
		return kerr.NewError("Layout", kerr.CodeFatal, "avail region overlaps used region")
	}
	if usedEnd > frameLen {
		return kerr.NewError("Layout", kerr.CodeFatal, "used region exceeds frame")
	}
	if l.DescOffset%16 != 0 {
		return kerr.NewError("Layout", kerr.CodeFatal, "desc region misaligned")
	}
	if l.AvailOffset%2 != 0 {
		return kerr.NewError("Layout", kerr.CodeFatal, "avail region misaligned")
	}
	if l.UsedOffset%4 != 0 {
		return kerr.NewError("Layout", kerr.CodeFatal, "used region misaligned")
	}
	return nil
}

// Queue is one split virtqueue backed by a caller-owned DMA frame. Byte
// access goes through unsafe.Pointer arithmetic over the frame the same
// way the descriptor array is addressed elsewhere in this module;
// avail.idx and used.idx are updated through the 4-byte (flags|idx)
// header word so Go's 32-bit atomics give the required acquire/release
// semantics without a native 16-bit atomic type.
type Queue struct {
	frame  []byte
	layout Layout
	base   unsafe.Pointer

	lastUsed uint16 // driver's cursor into the used ring
}

// NewQueue wraps frame (which must be at least layout.Total bytes) as a
// virtqueue with the given layout. The frame is zeroed first so every
// descriptor starts "free".
func NewQueue(frame []byte, layout Layout) (*Queue, error) {
	if uint64(len(frame)) < layout.Total {
		return nil, kerr.NewError("NewQueue", kerr.CodeFatal, "frame too small for layout")
	}
	for i := range frame {
		frame[i] = 0
	}
	return &Queue{frame: frame, layout: layout, base: unsafe.Pointer(&frame[0])}, nil
}

func (q *Queue) descPtr(idx uint16) unsafe.Pointer {
	return unsafe.Add(q.base, q.layout.DescOffset+uint64(idx)*DescSize)
}

// SetDescriptor writes one descriptor's fields. Per the ordering
// invariant, callers must finish this before publishing the index via
// PublishAvail.
func (q *Queue) SetDescriptor(idx uint16, addr uint64, length uint32, flags uint16, next uint16) {
	p := q.descPtr(idx)
	binary.LittleEndian.PutUint64(unsafe.Slice((*byte)(p), 8), addr)
	binary.LittleEndian.PutUint32(unsafe.Slice((*byte)(unsafe.Add(p, 8)), 4), length)
	binary.LittleEndian.PutUint16(unsafe.Slice((*byte)(unsafe.Add(p, 12)), 2), flags)
	binary.LittleEndian.PutUint16(unsafe.Slice((*byte)(unsafe.Add(p, 14)), 2), next)
}

func (q *Queue) availHeaderPtr() *uint32 {
	return (*uint32)(unsafe.Add(q.base, q.layout.AvailOffset))
}

func (q *Queue) availRingPtr(slot uint16) *uint16 {
	return (*uint16)(unsafe.Add(q.base, q.layout.AvailOffset+4+uint64(slot)*2))
}

func (q *Queue) usedHeaderPtr() *uint32 {
	return (*uint32)(unsafe.Add(q.base, q.layout.UsedOffset))
}

func (q *Queue) usedElemPtr(slot uint16) unsafe.Pointer {
	return unsafe.Add(q.base, q.layout.UsedOffset+4+uint64(slot)*UsedElemSize)
}

// PublishAvail writes descIdx into the next avail-ring slot at position
// avail.idx mod size, then release-stores the incremented idx, matching
// "descriptor writes happen before the release-store of avail.idx".
func (q *Queue) PublishAvail(descIdx uint16) {
	header := atomic.LoadUint32(q.availHeaderPtr())
	flags := uint16(header)
	idx := uint16(header >> 16)

	slot := idx % uint16(q.layout.Size)
	*q.availRingPtr(slot) = descIdx

	newHeader := uint32(flags) | uint32(idx+1)<<16
	atomic.StoreUint32(q.availHeaderPtr(), newHeader)
}

// UsedIdx acquire-loads the device's used.idx.
func (q *Queue) UsedIdx() uint16 {
	return uint16(atomic.LoadUint32(q.usedHeaderPtr()) >> 16)
}

// UsedElem reads one used-ring entry (id, len) following an acquire-load
// of used.idx, which callers must have already performed via UsedIdx.
func (q *Queue) UsedElem(slot uint16) (id uint32, length uint32) {
	p := q.usedElemPtr(slot % uint16(q.layout.Size))
	id = binary.LittleEndian.Uint32(unsafe.Slice((*byte)(p), 4))
	length = binary.LittleEndian.Uint32(unsafe.Slice((*byte)(unsafe.Add(p, 4)), 4))
	return id, length
}

// LastUsed and AdvanceLastUsed track the driver's consumption cursor into
// the used ring.
func (q *Queue) LastUsed() uint16 { return q.lastUsed }
func (q *Queue) AdvanceLastUsed() { q.lastUsed++ }
func (q *Queue) Layout() Layout   { return q.layout }

// Notify signals the device that avail.idx advanced, via QueueNotify on
// the caller's MMIO window for this queue's index.
func Notify(m MMIO, queueIndex uint32) {
	m.Write32(RegQueueNotify, queueIndex)
}
