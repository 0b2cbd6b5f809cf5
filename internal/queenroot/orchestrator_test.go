package queenroot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohesix/queenroot/internal/bootinfo"
	"github.com/cohesix/queenroot/internal/bootstrap"
	"github.com/cohesix/queenroot/internal/console"
	"github.com/cohesix/queenroot/internal/kernel"
	"github.com/cohesix/queenroot/internal/ninedoor"
	"github.com/cohesix/queenroot/internal/virtio"
)

const orcInitCNode = kernel.Cap(1)
const orcInitCNodeBits = 12
const orcInitTCB = kernel.Cap(7)
const orcInitVSpace = kernel.Cap(8)

func orcBootInfo() bootinfo.BootInfo {
	return bootinfo.BootInfo{
		NodeID:        0,
		NumNodes:      1,
		InitCNode:     orcInitCNode,
		InitCNodeBits: orcInitCNodeBits,
		InitTCB:       orcInitTCB,
		InitVSpace:    orcInitVSpace,
		EmptyStart:    100,
		EmptyEnd:      4096,
		Untypeds: []bootinfo.Untyped{
			{Cap: 20, SizeBits: 20, IsDevice: false},
		},
	}
}

func orcLayout() bootstrap.MemoryLayout {
	return bootstrap.MemoryLayout{
		HeapStart: 0, HeapEnd: 0x1000,
		StackStart: 0x1000, StackEnd: 0x2000,
		BootInfoStart: 0x2000, BootInfoEnd: 0x3000,
		DevicePTStart: 0x3000, DevicePTEnd: 0x4000,
	}
}

func fakeVirtioSlotOpener(t *testing.T) virtio.SlotOpener {
	t.Helper()
	return func(slotBase uint64) (virtio.MMIO, error) {
		fm := virtio.NewFakeMMIO(16)
		if slotBase != 3*virtio.ProbeStride {
			fm.Identity.Magic = 0
		}
		return fm, nil
	}
}

func TestOrchestratorBootstrapAndStartIO(t *testing.T) {
	fake := kernel.NewFake()
	fake.SeedSlot(orcInitCNode, uint64(orcInitTCB), orcInitCNodeBits, kernel.ObjectTCB)
	fake.AddUntyped(20, 1<<20)

	cfg := DefaultConfig()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.MMIOBase = 0

	deps := Deps{
		Invoker:        fake,
		BootInfo:       orcBootInfo(),
		InitCNode:      orcInitCNode,
		CNodeDepth:     orcInitCNodeBits,
		InitTCB:        orcInitTCB,
		FaultBadge:     1,
		UARTMMIO:       console.NewFakeUART(),
		OpenVirtioSlot: fakeVirtioSlotOpener(t),
		Bridge:         ninedoor.NewStub(),
	}

	orc := New(cfg, deps)

	untypedMinPlan := []bootstrap.RetypePlanStep{
		{Type: kernel.ObjectNotification, SizeBits: 4, Count: 1},
		{Type: kernel.ObjectEndpoint, SizeBits: 4, Count: 2},
	}

	require.NoError(t, orc.Bootstrap(deps, orcLayout(), untypedMinPlan, nil, 0x5000, 30))
	assert.Equal(t, bootstrap.PhaseUserlandHandoff, orc.seq.Phase())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, orc.StartIO(ctx, deps))
	assert.NotNil(t, orc.net)
	assert.NotNil(t, orc.pump)
	assert.NotNil(t, orc.tcp)

	runDone := make(chan error, 1)
	go func() { runDone <- orc.Run(ctx, time.Millisecond) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	require.NoError(t, <-runDone)
}
