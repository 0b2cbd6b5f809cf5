package queenroot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohesix/queenroot/internal/cachedma"
	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/kernel"
)

func newTestSeam(t *testing.T) *cachedma.Seam {
	t.Helper()
	fake := kernel.NewFake()
	return cachedma.New(fake, 1, cachedma.DefaultPolicy())
}

func TestBumpDMAAllocatorAllocFrameAdvancesAndPins(t *testing.T) {
	seam := newTestSeam(t)
	a := newBumpDMAAllocator(seam, 0x40000000, 2*dmaFrameSize)

	vaddr1, paddr1, frame1, err := a.AllocFrame("rx")
	require.NoError(t, err)
	assert.Equal(t, vaddr1, paddr1)
	assert.Equal(t, uint64(0x40000000), vaddr1)
	assert.Len(t, frame1, dmaFrameSize)

	vaddr2, _, frame2, err := a.AllocFrame("tx")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x40000000+dmaFrameSize), vaddr2)
	assert.Len(t, frame2, dmaFrameSize)

	_, ringLen := seam.Snapshot()
	assert.Equal(t, 2, ringLen)
}

func TestBumpDMAAllocatorExhaustion(t *testing.T) {
	seam := newTestSeam(t)
	a := newBumpDMAAllocator(seam, 0x40000000, dmaFrameSize)

	_, _, _, err := a.AllocFrame("first")
	require.NoError(t, err)

	_, _, _, err = a.AllocFrame("second")
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeCapacity))
}
