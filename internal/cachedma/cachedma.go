// Package cachedma is the kernel-mediated cache-maintenance and DMA-pin
// seam: clean/invalidate/clean-invalidate/unify-instruction operations
// over address ranges, a pin/unpin audit for DMA-shared memory, and
// ring-buffered telemetry with rate-limited summaries.
package cachedma

import (
	"runtime"
	"sync"
	"time"

	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/kernel"
	"github.com/cohesix/queenroot/internal/logging"
)

// CacheLineSize is the fixed alignment every cache-maintenance range is
// normalized to before the kernel call.
const CacheLineSize = 64

// RingCapacity bounds the cache-op telemetry ring; the oldest record is
// dropped on overflow.
const RingCapacity = 4096

// SummaryOpThreshold and SummaryInterval gate periodic telemetry flushes:
// a summary is emitted when either has been exceeded since the last one.
const (
	SummaryOpThreshold = 1024
	SummaryInterval    = 1000 * time.Millisecond
)

// Policy controls whether cache operations reach the kernel at all and
// which pin/unpin side effects are automatic.
type Policy struct {
	KernelOpsEnabled     bool
	DMACleanOnPin        bool
	DMAInvalidateOnUnpin bool
	UnifyInstrOnPin      bool
}

// DefaultPolicy enables kernel ops and the conservative pin/unpin
// maintenance pairing.
func DefaultPolicy() Policy {
	return Policy{
		KernelOpsEnabled:     true,
		DMACleanOnPin:        true,
		DMAInvalidateOnUnpin: true,
		UnifyInstrOnPin:      false,
	}
}

// Range is a pinned DMA-shared region.
type Range struct {
	Vaddr uint64
	Paddr uint64
	Len   uint64
	Label string
}

// Record is one ring-buffered cache-op observation.
type Record struct {
	Seq          uint64
	TSMs         int64
	Kind         kernel.CacheOp
	VSpace       kernel.Cap
	Vaddr        uint64
	Len          uint64
	AlignedStart uint64
	AlignedLen   uint64
	Err          int32
	CallerFile   string
	CallerLine   int
}

// kindCounts accumulates a summary window's per-kind totals.
type kindCounts struct {
	ops            uint64
	requestedBytes uint64
	alignedBytes   uint64
	maxAlignedLen  uint64
	errors         uint64
}

// Seam is the cache/DMA maintenance entry point shared by every caller
// that touches device-visible memory.
type Seam struct {
	inv    kernel.Invoker
	vspace kernel.Cap
	policy Policy
	logger *logging.Logger

	mu      sync.Mutex // guards ring + summary accounting; bounded critical sections only
	ring    []Record
	ringPos int
	ringLen int
	seq     uint64

	lastSummary  time.Time
	opsSinceSumm uint64
	perKind      map[kernel.CacheOp]*kindCounts
	lastShape    map[kernel.CacheOp]shapeKey // last-seen shape per kind for suppressed-duplicate counting
	suppressed   uint64
}

type shapeKey struct {
	kind       kernel.CacheOp
	vspace     kernel.Cap
	lenBucket  uint64 // log2 bucket of aligned length
	callerFile string
	callerLine int
}

// New constructs a Seam over the given VSpace, enforcing policy on every
// call.
func New(inv kernel.Invoker, vspace kernel.Cap, policy Policy) *Seam {
	return &Seam{
		inv:         inv,
		vspace:      vspace,
		policy:      policy,
		logger:      logging.Default().With("component", "cachedma"),
		ring:        make([]Record, RingCapacity),
		lastSummary: time.Unix(0, 0),
		perKind:     make(map[kernel.CacheOp]*kindCounts),
		lastShape:   make(map[kernel.CacheOp]shapeKey),
	}
}

func alignDown(v uint64) uint64 { return v &^ (CacheLineSize - 1) }
func alignUp(v uint64) uint64   { return (v + CacheLineSize - 1) &^ (CacheLineSize - 1) }

func lenBucketOf(n uint64) uint64 {
	b := uint64(0)
	for n > 0 {
		n >>= 1
		b++
	}
	return b
}

// op runs one cache-maintenance call with normalization and telemetry.
func (s *Seam) op(kind kernel.CacheOp, vaddr, length uint64, callerFile string, callerLine int) error {
	if length == 0 {
		return nil
	}
	if !s.policy.KernelOpsEnabled {
		return kerr.NewError("CacheOp", kerr.CodeInvalidArgument, "kernel cache ops disabled by policy")
	}

	end := vaddr + length
	if end < vaddr {
		return kerr.NewError("CacheOp", kerr.CodeRange, "vaddr+len overflows")
	}

	alignedStart := alignDown(vaddr)
	alignedEnd := alignUp(end)

	rc := s.inv.CacheMaintenance(kind, s.vspace, alignedStart, alignedEnd)

	rec := Record{
		TSMs:         time.Now().UnixMilli(),
		Kind:         kind,
		VSpace:       s.vspace,
		Vaddr:        vaddr,
		Len:          length,
		AlignedStart: alignedStart,
		AlignedLen:   alignedEnd - alignedStart,
		Err:          rc,
		CallerFile:   callerFile,
		CallerLine:   callerLine,
	}
	s.record(rec)

	if rc != 0 {
		s.dumpRecent(rec)
		return kerr.NewKernelErrorAuto("CacheOp", rc, "kernel cache maintenance rejected")
	}
	return nil
}

// Clean, Invalidate, CleanInvalidate, and UnifyInstr are the four
// kernel-mediated cache-maintenance operations over [vaddr, vaddr+len).
func (s *Seam) Clean(vaddr, length uint64) error {
	file, line := callerSite()
	return s.op(kernel.CacheClean, vaddr, length, file, line)
}
func (s *Seam) Invalidate(vaddr, length uint64) error {
	file, line := callerSite()
	return s.op(kernel.CacheInvalidate, vaddr, length, file, line)
}
func (s *Seam) CleanInvalidate(vaddr, length uint64) error {
	file, line := callerSite()
	return s.op(kernel.CacheCleanInvalidate, vaddr, length, file, line)
}
func (s *Seam) UnifyInstr(vaddr, length uint64) error {
	file, line := callerSite()
	return s.op(kernel.CacheUnifyInstruction, vaddr, length, file, line)
}

// Pin validates and audits a DMA-shared range, performing the
// policy-selected cache maintenance before handing it to a device.
func (s *Seam) Pin(vaddr, paddr, length uint64, label string) (Range, error) {
	if vaddr == 0 || paddr == 0 || length == 0 {
		return Range{}, kerr.NewError("Pin", kerr.CodeInvalidArgument, "zero vaddr/paddr/len")
	}
	if vaddr%4096 != 0 || length%4096 != 0 {
		return Range{}, kerr.NewError("Pin", kerr.CodeInvalidArgument, "range is not 4KiB aligned")
	}
	if s.policy.DMACleanOnPin {
		if err := s.Clean(vaddr, length); err != nil {
			return Range{}, err
		}
	}
	if s.policy.UnifyInstrOnPin {
		if err := s.UnifyInstr(vaddr, length); err != nil {
			return Range{}, err
		}
	}
	return Range{Vaddr: vaddr, Paddr: paddr, Len: length, Label: label}, nil
}

// Unpin reverses Pin's maintenance, per policy.
func (s *Seam) Unpin(r Range) error {
	if s.policy.DMAInvalidateOnUnpin {
		return s.Invalidate(r.Vaddr, r.Len)
	}
	return nil
}

func (s *Seam) record(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec.Seq = s.seq

	key := shapeKey{kind: rec.Kind, vspace: rec.VSpace, lenBucket: lenBucketOf(rec.AlignedLen), callerFile: rec.CallerFile, callerLine: rec.CallerLine}
	if prev, ok := s.lastShape[rec.Kind]; ok && prev == key {
		s.suppressed++
	}
	s.lastShape[rec.Kind] = key

	s.ring[s.ringPos] = rec
	s.ringPos = (s.ringPos + 1) % RingCapacity
	if s.ringLen < RingCapacity {
		s.ringLen++
	}

	kc := s.perKind[rec.Kind]
	if kc == nil {
		kc = &kindCounts{}
		s.perKind[rec.Kind] = kc
	}
	kc.ops++
	kc.requestedBytes += rec.Len
	kc.alignedBytes += rec.AlignedLen
	if rec.AlignedLen > kc.maxAlignedLen {
		kc.maxAlignedLen = rec.AlignedLen
	}
	if rec.Err != 0 {
		kc.errors++
	}

	s.opsSinceSumm++
	if s.opsSinceSumm >= SummaryOpThreshold || time.Since(s.lastSummary) >= SummaryInterval {
		s.flushSummaryLocked()
	}
}

// flushSummaryLocked emits a structured summary and resets the window.
// Callers must hold s.mu.
func (s *Seam) flushSummaryLocked() {
	for kind, kc := range s.perKind {
		s.logger.Info("cache op summary", "kind", kind, "ops", kc.ops,
			"requested_bytes", kc.requestedBytes, "aligned_bytes", kc.alignedBytes,
			"max_aligned_len", kc.maxAlignedLen, "errors", kc.errors, "suppressed_duplicates", s.suppressed)
	}
	s.perKind = make(map[kernel.CacheOp]*kindCounts)
	s.suppressed = 0
	s.opsSinceSumm = 0
	s.lastSummary = time.Now()
}

// dumpRecent logs the offending record plus up to 64 recent records, per
// the non-zero kernel return code failure policy.
func (s *Seam) dumpRecent(offending Record) {
	recent := s.RecentRecords(64)
	s.logger.Warn("cache op failed", "seq", offending.Seq, "kind", offending.Kind,
		"vaddr", offending.Vaddr, "len", offending.Len, "kernel_err", offending.Err,
		"recent_count", len(recent), "recent", recent)
}

// RecentRecords returns up to n of the most recently recorded cache
// operations, newest first. It backs the console's `cachelog` verb as well
// as the failure-path dump above.
func (s *Seam) RecentRecords(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.ringLen {
		n = s.ringLen
	}
	recent := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.ringPos - 1 - i + RingCapacity) % RingCapacity
		recent = append(recent, s.ring[idx])
	}
	return recent
}

// Snapshot returns the current ring length and sequence counter for
// invariant checks (§8.5: seq strictly increasing, ring length bounded).
func (s *Seam) Snapshot() (seq uint64, ringLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, s.ringLen
}

func callerSite() (string, int) {
	_, file, line, _ := runtime.Caller(2)
	return file, line
}
