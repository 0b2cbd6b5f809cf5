package virtio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDMAAllocator hands out distinct 4KiB frames with incrementing
// physical addresses, the way a real bump allocator over reserved DMA
// memory would.
type fakeDMAAllocator struct {
	nextPaddr uint64
	frames    [][]byte
}

func newFakeDMAAllocator() *fakeDMAAllocator {
	return &fakeDMAAllocator{nextPaddr: 0x80000000}
}

func (a *fakeDMAAllocator) AllocFrame(label string) (uint64, uint64, []byte, error) {
	frame := make([]byte, 4096)
	a.frames = append(a.frames, frame)
	paddr := a.nextPaddr
	a.nextPaddr += 4096
	return paddr, paddr, frame, nil
}

func TestOpenNegotiatesAndBuildsQueues(t *testing.T) {
	m := NewFakeMMIO(16)
	mac := [6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	m.SetMAC(mac)

	dev, err := Open(m, newFakeDMAAllocator())
	require.NoError(t, err)

	assert.Equal(t, StatusAcknowledge|StatusDriver|StatusFeaturesOK|StatusDriverOK, m.status)
	gotMAC, ok := dev.MAC()
	require.True(t, ok)
	assert.Equal(t, mac, gotMAC)
	assert.NotZero(t, dev.Features()&FeatureVersion1)
}

func TestOpenFailsWithoutVersion1(t *testing.T) {
	m := NewFakeMMIO(16)
	m.hostFeatures = FeatureNetMAC // no VERSION_1 offered

	_, err := Open(m, newFakeDMAAllocator())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, m.status)
}

func TestOpenRecomputesLayoutOnClamp(t *testing.T) {
	m := NewFakeMMIO(16)
	m.ClampQueueTo = 8

	dev, err := Open(m, newFakeDMAAllocator())
	require.NoError(t, err)
	assert.Equal(t, uint64(8), dev.rx.size)
	assert.Equal(t, uint64(8), dev.tx.size)
}

func TestTransmitAndPollTXReturnsDescriptorToFreeList(t *testing.T) {
	m := NewFakeMMIO(16)
	dev, err := Open(m, newFakeDMAAllocator())
	require.NoError(t, err)

	freeBefore := len(dev.tx.free)
	ok := dev.Transmit([]byte("hello"))
	require.True(t, ok)
	assert.Equal(t, freeBefore-1, len(dev.tx.free))

	// Simulate the device completing the TX descriptor.
	usedSlot := dev.tx.queue.UsedIdx()
	idx := uint16(freeBefore - 1) // last popped index, per LIFO free-list
	writeUsedElem(dev.tx.queue.usedElemPtr(usedSlot), uint32(idx), 5+NetHeaderSize)
	advanceUsedIdx(dev.tx.queue)

	dev.PollTX()
	assert.Equal(t, freeBefore, len(dev.tx.free))
}

func TestTransmitDropsWhenFreeListExhausted(t *testing.T) {
	m := NewFakeMMIO(4)
	dev, err := Open(m, newFakeDMAAllocator())
	require.NoError(t, err)

	for len(dev.tx.free) > 0 {
		require.True(t, dev.Transmit([]byte("x")))
	}
	assert.False(t, dev.Transmit([]byte("overflow")))
	assert.Equal(t, uint64(1), dev.TXDrops())
}

func TestPollRXStripsHeaderAndRepostsDescriptor(t *testing.T) {
	m := NewFakeMMIO(16)
	dev, err := Open(m, newFakeDMAAllocator())
	require.NoError(t, err)

	idx := uint16(0)
	buf := dev.rx.rxBufs[idx]
	payload := []byte("ethernet-frame-payload")
	copy(buf[NetHeaderSize:], payload)

	usedSlot := dev.rx.queue.UsedIdx()
	writeUsedElem(dev.rx.queue.usedElemPtr(usedSlot), uint32(idx), uint32(NetHeaderSize+len(payload)))
	advanceUsedIdx(dev.rx.queue)

	frames := dev.PollRX()
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
}

func TestPollRXDropsMalformedShortFrame(t *testing.T) {
	m := NewFakeMMIO(16)
	dev, err := Open(m, newFakeDMAAllocator())
	require.NoError(t, err)

	usedSlot := dev.rx.queue.UsedIdx()
	writeUsedElem(dev.rx.queue.usedElemPtr(usedSlot), 0, 4) // shorter than NetHeaderSize
	advanceUsedIdx(dev.rx.queue)

	frames := dev.PollRX()
	assert.Empty(t, frames)
}

func TestProbeFindsMatchingSlot(t *testing.T) {
	open := func(slotBase uint64) (MMIO, error) {
		fm := NewFakeMMIO(16)
		if slotBase != 3*ProbeStride {
			fm.Identity.Magic = 0 // every slot but the third fails identity
		}
		return fm, nil
	}

	m, slotBase, err := Probe(0, open)
	require.NoError(t, err)
	assert.Equal(t, 3*ProbeStride, slotBase)
	assert.NotNil(t, m)
}

func TestProbeFailsWhenNoSlotMatches(t *testing.T) {
	_, _, err := Probe(0, func(slotBase uint64) (MMIO, error) {
		fm := NewFakeMMIO(16)
		fm.Identity.Magic = 0
		return fm, nil
	})
	require.Error(t, err)
}
