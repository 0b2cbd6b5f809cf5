package queenroot

import (
	"sync"

	"github.com/cohesix/queenroot/internal/cachedma"
	"github.com/cohesix/queenroot/internal/kerr"
)

// bumpDMAAllocator hands out 4 KiB-aligned frames from a fixed pool,
// never reclaiming them — the virtio driver only ever allocates its two
// ring frames and the bootstrap IPC buffer frame once at startup. Every
// handed-out frame is pinned through the cache/DMA seam before use, so
// the driver's own Pin/Unpin discipline is exercised even though these
// frames outlive the process.
type bumpDMAAllocator struct {
	mu     sync.Mutex
	seam   *cachedma.Seam
	base   uint64
	end    uint64
	offset uint64

	// backing is the process-local memory standing in for the mapped DMA
	// pool; on real hardware this is the already-mapped device-visible
	// range the boot-info untyped plan carved out, not process heap.
	backing []byte
}

const dmaFrameSize = 4096

// newBumpDMAAllocator builds an allocator over [base, base+size), with a
// process-local backing buffer of the same size standing in for the
// mapped pool.
func newBumpDMAAllocator(seam *cachedma.Seam, base, size uint64) *bumpDMAAllocator {
	return &bumpDMAAllocator{
		seam:    seam,
		base:    base,
		end:     base + size,
		backing: make([]byte, size),
	}
}

// AllocFrame satisfies virtio.DMAAllocator: it reserves the next 4 KiB
// frame in the pool, pins it through the cache/DMA seam, and returns its
// vaddr/paddr pair plus a byte slice view onto the backing memory.
func (a *bumpDMAAllocator) AllocFrame(label string) (vaddr uint64, paddr uint64, frame []byte, err error) {
	a.mu.Lock()
	if a.base+a.offset+dmaFrameSize > a.end {
		a.mu.Unlock()
		return 0, 0, nil, kerr.NewError("bumpDMAAllocator.AllocFrame", kerr.CodeCapacity, "dma pool exhausted")
	}
	start := a.offset
	a.offset += dmaFrameSize
	a.mu.Unlock()

	addr := a.base + start
	frame = a.backing[start : start+dmaFrameSize]

	// This pool is identity-mapped for this allocator's purposes: the
	// same address serves as both vaddr and paddr, matching a root task
	// that already mapped the pool 1:1 during MemoryLayoutBuild.
	if _, err := a.seam.Pin(addr, addr, dmaFrameSize, label); err != nil {
		return 0, 0, nil, kerr.WrapError("bumpDMAAllocator.AllocFrame", err)
	}
	return addr, addr, frame, nil
}
