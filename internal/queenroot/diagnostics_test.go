package queenroot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohesix/queenroot/internal/bootinfo"
	"github.com/cohesix/queenroot/internal/bootstrap"
	"github.com/cohesix/queenroot/internal/cachedma"
	"github.com/cohesix/queenroot/internal/capalloc"
	"github.com/cohesix/queenroot/internal/kernel"
)

const diagInitCNode = kernel.Cap(1)
const diagInitCNodeBits = 12
const diagInitTCB = kernel.Cap(7)
const diagInitVSpace = kernel.Cap(8)

func sampleDiagBootInfo() bootinfo.BootInfo {
	return bootinfo.BootInfo{
		NodeID:        0,
		NumNodes:      1,
		InitCNode:     diagInitCNode,
		InitCNodeBits: diagInitCNodeBits,
		InitTCB:       diagInitTCB,
		InitVSpace:    diagInitVSpace,
		EmptyStart:    100,
		EmptyEnd:      4096,
	}
}

func TestDiagnosticsUnavailableBeforeBootstrap(t *testing.T) {
	fake := kernel.NewFake()
	alloc := capalloc.New(fake, diagInitCNode, diagInitCNodeBits, 100, 4096)
	seq := bootstrap.New(fake, alloc)
	seam := cachedma.New(fake, diagInitVSpace, cachedma.DefaultPolicy())

	d := newRootDiagnostics(seq, alloc, seam)

	_, ok := d.BootInfoSummary()
	assert.False(t, ok)

	_, ok = d.MemSummary()
	assert.False(t, ok)

	caps, ok := d.CapsSummary()
	assert.True(t, ok)
	assert.Equal(t, 0, caps["slots_used"])
}

func TestDiagnosticsAvailableAfterPhases(t *testing.T) {
	fake := kernel.NewFake()
	alloc := capalloc.New(fake, diagInitCNode, diagInitCNodeBits, 100, 4096)
	seq := bootstrap.New(fake, alloc)
	seam := cachedma.New(fake, diagInitVSpace, cachedma.DefaultPolicy())

	d := newRootDiagnostics(seq, alloc, seam)

	require.NoError(t, seq.RunBootInfoValidate(sampleDiagBootInfo()))

	bi, ok := d.BootInfoSummary()
	require.True(t, ok)
	assert.Equal(t, uint32(1), bi["num_nodes"])

	require.NoError(t, seq.RunMemoryLayoutBuild(bootstrap.MemoryLayout{
		HeapStart: 0, HeapEnd: 0x1000,
		StackStart: 0x1000, StackEnd: 0x2000,
		BootInfoStart: 0x2000, BootInfoEnd: 0x3000,
		DevicePTStart: 0x3000, DevicePTEnd: 0x4000,
	}))

	mem, ok := d.MemSummary()
	require.True(t, ok)
	assert.Equal(t, "MemoryLayoutBuild", mem["phase"])

	lines, ok := d.CacheLogLines(10)
	assert.True(t, ok)
	assert.Empty(t, lines)
}

func TestDiagnosticsCacheLogLinesReflectRecentOps(t *testing.T) {
	fake := kernel.NewFake()
	alloc := capalloc.New(fake, diagInitCNode, diagInitCNodeBits, 100, 4096)
	seq := bootstrap.New(fake, alloc)
	seam := cachedma.New(fake, diagInitVSpace, cachedma.DefaultPolicy())

	d := newRootDiagnostics(seq, alloc, seam)

	require.NoError(t, seam.Clean(0x1000, 64))
	lines, ok := d.CacheLogLines(5)
	require.True(t, ok)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "vaddr=0x1000")
}
