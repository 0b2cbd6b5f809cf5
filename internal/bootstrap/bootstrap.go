// Package bootstrap runs the root task's once-only phase sequence: it
// validates boot-info, carves the memory layout, snapshots boot-info for
// later canary checks, records the CSpace window, installs the IPC
// buffer, picks an untyped region, retypes the core objects, and hands
// off to userland with a two-stage commit discipline.
package bootstrap

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/cohesix/queenroot/internal/bootinfo"
	"github.com/cohesix/queenroot/internal/capalloc"
	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/kernel"
	"github.com/cohesix/queenroot/internal/logging"
)

// Phase identifies one step of the monotonic bootstrap sequence.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseBootInfoValidate
	PhaseMemoryLayoutBuild
	PhaseBootInfoSnapshot
	PhaseCSpaceRecord
	PhaseIPCInstall
	PhaseUntypedPlan
	PhaseRetypeCommit
	PhaseUserlandHandoff
)

func (p Phase) String() string {
	switch p {
	case PhaseBootInfoValidate:
		return "BootInfoValidate"
	case PhaseMemoryLayoutBuild:
		return "MemoryLayoutBuild"
	case PhaseBootInfoSnapshot:
		return "BootInfoSnapshot"
	case PhaseCSpaceRecord:
		return "CSpaceRecord"
	case PhaseIPCInstall:
		return "IPCInstall"
	case PhaseUntypedPlan:
		return "UntypedPlan"
	case PhaseRetypeCommit:
		return "RetypeCommit"
	case PhaseUserlandHandoff:
		return "UserlandHandoff"
	default:
		return "None"
	}
}

// CommitState tracks the two-stage commit discipline.
type CommitState int

const (
	CommitNone CommitState = iota
	CommitMinimal
	CommitFull
)

// MemoryLayout is the set of disjoint ranges MemoryLayoutBuild computes.
type MemoryLayout struct {
	HeapStart, HeapEnd           uint64
	StackStart, StackEnd         uint64
	BootInfoStart, BootInfoEnd   uint64
	DevicePTStart, DevicePTEnd   uint64
}

func overlaps(aStart, aEnd, bStart, bEnd uint64) bool {
	return aStart < bEnd && bStart < aEnd
}

func (l MemoryLayout) validate() error {
	ranges := [][2]uint64{
		{l.HeapStart, l.HeapEnd},
		{l.StackStart, l.StackEnd},
		{l.BootInfoStart, l.BootInfoEnd},
		{l.DevicePTStart, l.DevicePTEnd},
	}
	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			if overlaps(ranges[i][0], ranges[i][1], ranges[j][0], ranges[j][1]) {
				return kerr.NewPhaseError("MemoryLayoutBuild", "MemoryLayoutBuild", kerr.CodeInvalidArgument,
					fmt.Sprintf("range %d overlaps range %d", i, j))
			}
		}
	}
	return nil
}

// ErrSlotNotEmpty distinguishes "the probe slot was not actually empty"
// from a generic copy failure, the way the original IPC buffer sanity
// probe special-cases seL4_DeleteFirst.
var ErrSlotNotEmpty = kerr.NewError("IPCInstall", kerr.CodeFatal, "ipc buffer probe slot was not empty")

const sel4DeleteFirst = 11

// RetypePlanStep names one entry of the minimum retype plan RetypeCommit
// consumes from the chosen untyped.
type RetypePlanStep = capalloc.RetypeStep

// Sequencer drives the bootstrap phase state machine exactly once.
type Sequencer struct {
	inv     kernel.Invoker
	allocer *capalloc.Allocator
	logger  *logging.Logger

	phase  Phase
	commit CommitState

	bi           bootinfo.BootInfo
	layout       MemoryLayout
	snapshotSum  [sha256.Size]byte
	chosenUntyped kernel.Cap

	rootEndpoint  kernel.Cap
	faultEndpoint kernel.Cap
	notification  kernel.Cap

	watchdogSeq   uint64
	watchdogStale int
}

// New constructs a Sequencer; it does nothing until its Run* phase methods
// are called.
func New(inv kernel.Invoker, allocer *capalloc.Allocator) *Sequencer {
	return &Sequencer{
		inv:     inv,
		allocer: allocer,
		logger:  logging.Default().With("component", "bootstrap"),
	}
}

// Phase reports the last completed phase.
func (s *Sequencer) Phase() Phase { return s.phase }

// CommitState reports the current commit stage.
func (s *Sequencer) CommitState() CommitState { return s.commit }

// Layout returns the memory layout recorded at MemoryLayoutBuild, for
// diagnostics rendering once that phase has completed.
func (s *Sequencer) Layout() MemoryLayout { return s.layout }

// BootInfo returns the boot-info snapshot recorded at BootInfoValidate,
// for diagnostics rendering.
func (s *Sequencer) BootInfo() bootinfo.BootInfo { return s.bi }

func (s *Sequencer) enter(next Phase) error {
	if next != s.phase+1 {
		return kerr.NewPhaseError("Bootstrap", next.String(), kerr.CodeFatal,
			fmt.Sprintf("phase %s entered out of order from %s", next, s.phase))
	}
	s.phase = next
	s.watchdogSeq++
	s.watchdogStale = 0
	return nil
}

// WatchdogObserve is called periodically (e.g. once per pump iteration
// during bootstrap) to detect a stalled sequence. It never aborts
// bootstrap by itself.
func (s *Sequencer) WatchdogObserve() {
	s.watchdogStale++
	if s.watchdogStale == 512 {
		ff, end := uint64(0), uint64(0)
		if s.allocer != nil {
			ff, end = s.allocer.Window()
		}
		progress := 0.0
		if s.bi.EmptyEnd > s.bi.EmptyStart {
			progress = float64(ff-s.bi.EmptyStart) / float64(end-s.bi.EmptyStart)
		}
		s.logger.Warn("bootstrap watchdog: no phase advance in 512 observations",
			"phase", s.phase, "last_slot", ff, "progress", progress)
	}
}

func (s *Sequencer) bootInfoChecksum() [sha256.Size]byte {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%d|%d|%d|%d|%d",
		s.bi.NodeID, s.bi.NumNodes, s.bi.InitCNodeBits, s.bi.EmptyStart, s.bi.EmptyEnd, s.bi.Extras.Ptr, s.bi.Extras.Len)
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// checkCanary re-verifies the boot-info snapshot at every phase boundary
// after BootInfoSnapshot; divergence is fatal.
func (s *Sequencer) checkCanary() error {
	if s.phase < PhaseBootInfoSnapshot {
		return nil
	}
	if s.bootInfoChecksum() != s.snapshotSum {
		return kerr.NewPhaseError("CanaryProbe", s.phase.String(), kerr.CodeFatal, "boot-info snapshot diverged")
	}
	return nil
}

func codeOf(err error) kerr.Code {
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	return kerr.CodeFatal
}

func (s *Sequencer) lastInvariant() string {
	if s.phase >= PhaseBootInfoSnapshot {
		return "canary"
	}
	return "none"
}

// fail is the single funnel every operational failure in the sequence
// passes through. Before CommitMinimal it logs a structured abort block
// and panics; at or after CommitMinimal it logs the same block as a
// degraded-mode continuation and returns nil, letting bootstrap proceed
// without ever reaching CommitFull.
func (s *Sequencer) fail(substep string, err error) error {
	if err == nil {
		return nil
	}
	ff, end := uint64(0), uint64(0)
	if s.allocer != nil {
		ff, end = s.allocer.Window()
	}
	fields := []any{
		"phase", s.phase.String(),
		"substep", substep,
		"reason", err.Error(),
		"error_code", string(codeOf(err)),
		"last_mark", s.watchdogSeq,
		"last_invariant", s.lastInvariant(),
		"cspace_window", fmt.Sprintf("[%d,%d)", ff, end),
		"endpoint_slots", fmt.Sprintf("root=%d fault=%d notif=%d", s.rootEndpoint, s.faultEndpoint, s.notification),
	}

	if s.commit < CommitMinimal {
		s.logger.Error("bootstrap abort", fields...)
		panic(fmt.Sprintf("bootstrap abort: phase=%s substep=%s reason=%v", s.phase, substep, err))
	}

	s.logger.Warn("bootstrap degraded-mode continuation", fields...)
	return nil
}

// RunBootInfoValidate is phase 1: header sanity checks.
func (s *Sequencer) RunBootInfoValidate(bi bootinfo.BootInfo) error {
	if err := s.enter(PhaseBootInfoValidate); err != nil {
		return err
	}
	if err := bi.Validate(); err != nil {
		return s.fail("Validate", err)
	}
	s.bi = bi
	return nil
}

// RunMemoryLayoutBuild is phase 2: compute and verify disjoint ranges.
func (s *Sequencer) RunMemoryLayoutBuild(layout MemoryLayout) error {
	if err := s.enter(PhaseMemoryLayoutBuild); err != nil {
		return err
	}
	if err := layout.validate(); err != nil {
		return s.fail("LayoutValidate", err)
	}
	s.layout = layout
	return nil
}

// RunBootInfoSnapshot is phase 3: checksum the header+extras for later
// canary checks.
func (s *Sequencer) RunBootInfoSnapshot() error {
	if err := s.enter(PhaseBootInfoSnapshot); err != nil {
		return err
	}
	s.snapshotSum = s.bootInfoChecksum()
	return nil
}

// RunCSpaceRecord is phase 4: mint the canonical root CNode alias and
// perform a proof-of-path Copy+Delete against the first empty slot.
func (s *Sequencer) RunCSpaceRecord(aliasSlot capalloc.Slot) error {
	if err := s.enter(PhaseCSpaceRecord); err != nil {
		return err
	}
	if err := s.checkCanary(); err != nil {
		return s.fail("CanaryProbe", err)
	}
	s.allocer.MintRootCNodeCopy(aliasSlot)

	probe, err := s.allocer.AllocSlot()
	if err != nil {
		return s.fail("AllocProbeSlot", kerr.WrapError("CSpaceRecord", err))
	}
	depth := s.bi.InitCNodeBits
	if rc := s.inv.CNodeCopy(s.bi.InitCNode, uint64(probe), depth, s.bi.InitCNode, uint64(s.bi.InitTCB), depth, kernel.RightRead); rc != 0 {
		return s.fail("ProofOfPathCopy", kerr.NewKernelErrorAuto("CSpaceRecord", rc, "proof-of-path copy failed"))
	}
	if rc := s.inv.CNodeDelete(s.bi.InitCNode, uint64(probe), depth); rc != 0 {
		return s.fail("ProofOfPathDelete", kerr.NewKernelErrorAuto("CSpaceRecord", rc, "proof-of-path delete failed"))
	}
	return nil
}

// RunIPCInstall is phase 5: install the IPC buffer and run the
// Copy+Delete sanity probe in an unused empty-window slot.
func (s *Sequencer) RunIPCInstall(tcb kernel.Cap, ipcVaddr uint64, ipcFrame kernel.Cap) error {
	if err := s.enter(PhaseIPCInstall); err != nil {
		return err
	}
	if err := s.checkCanary(); err != nil {
		return s.fail("CanaryProbe", err)
	}
	if rc := s.inv.TCBSetIPCBuffer(tcb, ipcVaddr, ipcFrame); rc != 0 {
		return s.fail("SetIPCBuffer", kerr.NewKernelErrorAuto("IPCInstall", rc, "TCB_SetIPCBuffer failed"))
	}

	probe, err := s.allocer.AllocSlot()
	if err != nil {
		return s.fail("AllocProbeSlot", kerr.WrapError("IPCInstall", err))
	}
	depth := s.bi.InitCNodeBits
	rc := s.inv.CNodeCopy(s.bi.InitCNode, uint64(probe), depth, s.bi.InitCNode, uint64(tcb), depth, kernel.RightRead)
	if rc == sel4DeleteFirst {
		return s.fail("ProbeCopy", ErrSlotNotEmpty)
	}
	if rc != 0 {
		return s.fail("ProbeCopy", kerr.NewKernelErrorAuto("IPCInstall", rc, "ipc buffer probe copy failed"))
	}
	if rc := s.inv.CNodeDelete(s.bi.InitCNode, uint64(probe), depth); rc != 0 {
		return s.fail("ProbeDelete", kerr.NewKernelErrorAuto("IPCInstall", rc, "ipc buffer probe delete failed"))
	}
	return nil
}

// RunUntypedPlan is phase 6: pick an untyped large enough for minPlan.
func (s *Sequencer) RunUntypedPlan(minPlan []RetypePlanStep) (kernel.Cap, error) {
	if err := s.enter(PhaseUntypedPlan); err != nil {
		return 0, err
	}
	if err := s.checkCanary(); err != nil {
		return 0, s.fail("CanaryProbe", err)
	}
	var need uint64
	for _, step := range minPlan {
		need += (uint64(1) << step.SizeBits) * step.Count
	}
	for _, u := range s.bi.Untypeds {
		if !u.IsDevice && u.Size() >= need {
			s.chosenUntyped = u.Cap
			return u.Cap, nil
		}
	}
	err := kerr.NewPhaseError("UntypedPlan", "UntypedPlan", kerr.CodeNotEnoughMemory, "no untyped large enough for minimum retype plan")
	return 0, s.fail("SelectUntyped", err)
}

// RunRetypeCommit is phase 7: bootstrap the notification, root endpoint,
// fault endpoint, and fault handler. On failure it attempts a fallback
// to an already-existing Endpoint-typed slot before giving up.
func (s *Sequencer) RunRetypeCommit(plan []RetypePlanStep, initTCB kernel.Cap, faultBadge uint64) error {
	if err := s.enter(PhaseRetypeCommit); err != nil {
		return err
	}
	if err := s.checkCanary(); err != nil {
		return s.fail("CanaryProbe", err)
	}

	n, err := s.allocer.RetypeSelection(s.chosenUntyped, plan)
	if err != nil {
		return s.fail(fmt.Sprintf("RetypePlan(steps_completed=%d)", n), kerr.WrapError("RetypeCommit", err))
	}

	notifSlot, err := s.allocer.RetypeOne(s.chosenUntyped, kernel.ObjectNotification, 4)
	if err != nil {
		return s.fail("Notification", kerr.WrapError("RetypeCommit", err))
	}
	s.notification = kernel.Cap(notifSlot)

	epSlot, err := s.retypeEndpointOrFallback()
	if err != nil {
		return s.fail("RootEndpoint", kerr.WrapError("RetypeCommit", err))
	}
	s.rootEndpoint = epSlot

	faultSlot, err := s.retypeEndpointOrFallback()
	if err != nil {
		return s.fail("FaultEndpoint", kerr.WrapError("RetypeCommit", err))
	}
	s.faultEndpoint = faultSlot

	if rc := s.inv.TCBSetFaultHandler(initTCB, s.faultEndpoint, s.bi.InitCNode, 0, s.bi.InitVSpace); rc != 0 {
		return s.fail("SetFaultHandler", kerr.NewKernelErrorAuto("RetypeCommit", rc, "TCB_SetFaultHandler failed"))
	}

	s.commit = CommitMinimal
	return nil
}

// retypeEndpointOrFallback retypes a fresh Endpoint and, on failure, falls
// back to any slot this allocator has already retyped as an Endpoint
// rather than failing the whole commit.
func (s *Sequencer) retypeEndpointOrFallback() (kernel.Cap, error) {
	slot, err := s.allocer.RetypeOne(s.chosenUntyped, kernel.ObjectEndpoint, 4)
	if err == nil {
		return kernel.Cap(slot), nil
	}
	if existing, ok := s.allocer.FindByType(kernel.ObjectEndpoint); ok {
		s.logger.Warn("retype commit falling back to existing endpoint", "slot", existing, "retype_err", err)
		return kernel.Cap(existing), nil
	}
	return 0, err
}

// RunUserlandHandoff is the final phase: latch the full commit and
// unlock post-commit IPC logging.
func (s *Sequencer) RunUserlandHandoff() error {
	if err := s.enter(PhaseUserlandHandoff); err != nil {
		return err
	}
	if err := s.checkCanary(); err != nil {
		return s.fail("CanaryProbe", err)
	}
	s.commit = CommitFull
	return nil
}

// Endpoints exposes the minted endpoints for the IPC dispatcher once
// bootstrap reaches at least CommitMinimal.
func (s *Sequencer) Endpoints() (root, fault, notif kernel.Cap) {
	return s.rootEndpoint, s.faultEndpoint, s.notification
}
