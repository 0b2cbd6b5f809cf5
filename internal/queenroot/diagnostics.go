package queenroot

import (
	"fmt"

	"github.com/cohesix/queenroot/internal/bootstrap"
	"github.com/cohesix/queenroot/internal/capalloc"
	"github.com/cohesix/queenroot/internal/cachedma"
)

// rootDiagnostics implements console.Diagnostics by reaching straight into
// the sequencer, allocator, and cache seam the orchestrator already owns —
// no separate copy of their state is kept.
type rootDiagnostics struct {
	seq   *bootstrap.Sequencer
	alloc *capalloc.Allocator
	seam  *cachedma.Seam
}

func newRootDiagnostics(seq *bootstrap.Sequencer, alloc *capalloc.Allocator, seam *cachedma.Seam) *rootDiagnostics {
	return &rootDiagnostics{seq: seq, alloc: alloc, seam: seam}
}

// BootInfoSummary reports the boot-info snapshot once past validation; it
// is unavailable before that phase has run.
func (d *rootDiagnostics) BootInfoSummary() (map[string]any, bool) {
	if d.seq.Phase() < bootstrap.PhaseBootInfoValidate {
		return nil, false
	}
	return d.seq.BootInfo().Summary(), true
}

// CapsSummary reports the allocator's window occupancy and per-type count.
func (d *rootDiagnostics) CapsSummary() (map[string]any, bool) {
	if d.alloc == nil {
		return nil, false
	}
	return d.alloc.Summary(), true
}

// MemSummary reports the memory layout recorded at MemoryLayoutBuild; it
// is unavailable before that phase has run.
func (d *rootDiagnostics) MemSummary() (map[string]any, bool) {
	if d.seq.Phase() < bootstrap.PhaseMemoryLayoutBuild {
		return nil, false
	}
	l := d.seq.Layout()
	return map[string]any{
		"heap":       fmt.Sprintf("%#x-%#x", l.HeapStart, l.HeapEnd),
		"stack":      fmt.Sprintf("%#x-%#x", l.StackStart, l.StackEnd),
		"boot_info":  fmt.Sprintf("%#x-%#x", l.BootInfoStart, l.BootInfoEnd),
		"device_pt":  fmt.Sprintf("%#x-%#x", l.DevicePTStart, l.DevicePTEnd),
		"phase":      d.seq.Phase().String(),
		"commit":     d.seq.CommitState(),
	}, true
}

// CacheLogLines renders the cache/DMA seam's most recent ring records as
// fixed-width lines for the `cachelog` verb.
func (d *rootDiagnostics) CacheLogLines(count int) ([]string, bool) {
	if d.seam == nil {
		return nil, false
	}
	records := d.seam.RecentRecords(count)
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("seq=%d ts=%d kind=%s vaddr=%#x len=%d err=%d",
			r.Seq, r.TSMs, r.Kind, r.Vaddr, r.Len, r.Err))
	}
	return lines, true
}
