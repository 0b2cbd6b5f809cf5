// Package capalloc tracks the init CSpace's empty-slot window and turns
// untyped memory into typed kernel objects on the root task's behalf. It
// is the only package allowed to allocate or release a raw slot index;
// everyone else holds a Slot handed back from here.
package capalloc

import (
	"runtime"
	"sync"

	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/kernel"
	"github.com/cohesix/queenroot/internal/logging"
)

// Slot is an allocated index inside the init CNode's empty window. It is
// never passed across subsystem boundaries as a raw integer — only as a
// Slot value handed out by Allocator.
type Slot uint64

// RetypeTraceEnabled gates the pre/post retype debug lines. It is a
// crash-forensics switch that defaults to off; nothing in this module
// sets it.
var RetypeTraceEnabled = false

// RetypeStep describes one entry of a retype plan: consume `count`
// objects of `Type` at `SizeBits` from the chosen untyped.
type RetypeStep struct {
	Type     kernel.ObjectType
	SizeBits uint8
	Count    uint64
}

// Allocator owns the init CSpace's empty window [firstFree, emptyEnd) and
// issues retypes against a canonical root CNode cap.
type Allocator struct {
	mu sync.Mutex

	inv    kernel.Invoker
	logger *logging.Logger

	root      kernel.Cap // canonical retype root; starts as the boot-provided init CNode
	depth     uint8
	firstFree uint64
	emptyEnd  uint64
	free      []Slot // slots returned by a successful ReleaseSlot, reused before firstFree advances

	typed map[Slot]kernel.ObjectType // slots successfully retyped by this allocator, by type
}

// New constructs an Allocator over the boot-info empty window, rooted at
// the boot-provided init CNode until MintRootCNodeCopy runs.
func New(inv kernel.Invoker, initCNode kernel.Cap, depth uint8, emptyStart, emptyEnd uint64) *Allocator {
	return &Allocator{
		inv:       inv,
		logger:    logging.Default().With("component", "capalloc"),
		root:      initCNode,
		depth:     depth,
		firstFree: emptyStart,
		emptyEnd:  emptyEnd,
		typed:     make(map[Slot]kernel.ObjectType),
	}
}

// MintRootCNodeCopy mints a writable canonical alias of the init CNode to
// use as the retype destination root. If the mint fails, the allocator
// keeps using the boot-provided init CNode cap as its root.
func (a *Allocator) MintRootCNodeCopy(aliasSlot Slot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rc := a.inv.CNodeMint(a.root, uint64(aliasSlot), a.depth, a.root, uint64(a.root), a.depth, kernel.RightRead|kernel.RightWrite|kernel.RightGrant, 0)
	if rc != 0 {
		a.logger.Warn("root cnode alias mint failed, falling back to boot-provided init cnode", "kernel_err", rc)
		return
	}
	a.root = kernel.Cap(aliasSlot)
}

// AllocSlot reserves a slot: a previously released one if the free pool
// is non-empty, otherwise the next unused index in the empty window.
func (a *Allocator) AllocSlot() (Slot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		s := a.free[n-1]
		a.free = a.free[:n-1]
		return s, nil
	}

	if a.firstFree >= a.emptyEnd {
		return 0, kerr.NewError("AllocSlot", kerr.CodeCapacity, "cspace empty window exhausted")
	}
	s := Slot(a.firstFree)
	a.firstFree++
	return s, nil
}

// ReleaseSlot deletes the slot's capability at the kernel and, only on
// success, returns it to the free pool. A failed delete leaves the slot
// considered allocated — retrying is the caller's responsibility.
func (a *Allocator) ReleaseSlot(s Slot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rc := a.inv.CNodeDelete(a.root, uint64(s), a.depth)
	if rc != 0 {
		return kerr.NewKernelErrorAuto("ReleaseSlot", rc, "delete failed, slot not returned to pool")
	}
	delete(a.typed, s)
	a.free = append(a.free, s)
	return nil
}

// RetypeOne allocates a slot and retypes a single object of the given
// type and size into it.
func (a *Allocator) RetypeOne(untyped kernel.Cap, objType kernel.ObjectType, sizeBits uint8) (Slot, error) {
	slot, err := a.AllocSlot()
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	root, depth := a.root, a.depth
	a.mu.Unlock()

	if err := a.tracedRetype(untyped, objType, sizeBits, root, uint64(slot), depth, 0, 1); err != nil {
		a.mu.Lock()
		if uint64(slot)+1 == a.firstFree {
			a.firstFree-- // slot index is not advanced on retype failure
		} else {
			a.free = append(a.free, slot) // a reused slot goes back to the pool
		}
		a.mu.Unlock()
		return 0, err
	}

	a.mu.Lock()
	a.typed[slot] = objType
	a.mu.Unlock()
	return slot, nil
}

// FindByType returns a previously retyped slot of the given object type,
// the way RetypeCommit falls back to an already-existing Endpoint when a
// fresh retype fails.
func (a *Allocator) FindByType(t kernel.ObjectType) (Slot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for slot, typ := range a.typed {
		if typ == t {
			return slot, true
		}
	}
	return 0, false
}

// RetypeSelection attempts a multi-step retype plan in order, returning
// the count of steps fully satisfied. On a NotEnoughMemory failure it
// returns the partial count without rolling back already-created
// objects, per the allocator's monotonic-consumption contract.
func (a *Allocator) RetypeSelection(untyped kernel.Cap, plan []RetypeStep) (int, error) {
	a.mu.Lock()
	root, depth := a.root, a.depth
	a.mu.Unlock()

	for i, step := range plan {
		slots := make([]Slot, 0, step.Count)
		for c := uint64(0); c < step.Count; c++ {
			s, err := a.AllocSlot()
			if err != nil {
				return i, err
			}
			slots = append(slots, s)
		}
		first := slots[0]
		if err := a.tracedRetype(untyped, step.Type, step.SizeBits, root, uint64(first), depth, 0, step.Count); err != nil {
			a.mu.Lock()
			for j := len(slots) - 1; j >= 0; j-- {
				if uint64(slots[j])+1 == a.firstFree {
					a.firstFree--
				} else {
					a.free = append(a.free, slots[j])
				}
			}
			a.mu.Unlock()
			if kerr.IsCode(err, kerr.CodeNotEnoughMemory) {
				return i, err
			}
			return i, err
		}
		a.mu.Lock()
		for _, s := range slots {
			a.typed[s] = step.Type
		}
		a.mu.Unlock()
	}
	return len(plan), nil
}

// tracedRetype issues a single retype invocation, logging a pre/post
// debug line keyed by the call site when RetypeTraceEnabled is set.
func (a *Allocator) tracedRetype(untyped kernel.Cap, objType kernel.ObjectType, sizeBits uint8, root kernel.Cap, index uint64, depth uint8, offset, count uint64) error {
	_, file, line, _ := runtime.Caller(2)

	if RetypeTraceEnabled {
		a.logger.Debug("retype pre", "ut", untyped, "type", objType.String(), "sz", sizeBits,
			"root", root, "idx", index, "depth", depth, "off", offset, "n", count,
			"caller", file, "line", line)
	}

	rc := a.inv.UntypedRetype(untyped, objType, sizeBits, root, index, depth, offset, count)

	if RetypeTraceEnabled {
		a.logger.Debug("retype post", "ut", untyped, "type", objType.String(), "err", rc,
			"caller", file, "line", line)
	}

	if rc != 0 {
		return kerr.NewKernelErrorAuto("Retype", rc, "untyped retype rejected")
	}
	return nil
}

// Window reports the current [firstFree, emptyEnd) window for diagnostics
// and watchdog progress reporting.
func (a *Allocator) Window() (firstFree, emptyEnd uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.firstFree, a.emptyEnd
}

// Summary renders the same structured dump the console's `caps` verb
// shows: window occupancy plus a per-type count of everything this
// allocator has retyped so far.
func (a *Allocator) Summary() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	byType := make(map[string]int, len(a.typed))
	for _, t := range a.typed {
		byType[t.String()]++
	}
	return map[string]any{
		"first_free":  a.firstFree,
		"empty_end":   a.emptyEnd,
		"slots_used":  len(a.typed),
		"slots_free":  a.emptyEnd - a.firstFree,
		"by_type":     byType,
		"root":        a.root,
	}
}
