// Package bootinfo parses and validates the boot-info structure the
// kernel hands the root task: node topology, the initial CSpace/VSpace
// caps, the empty-slot window, the untyped-object list, and the extras
// blob. The structure is treated as read-only for the lifetime of the
// boot.
package bootinfo

import (
	"fmt"

	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/kernel"
)

// Untyped describes one untyped memory region named in boot-info.
type Untyped struct {
	Cap      kernel.Cap
	Paddr    uint64
	SizeBits uint8
	IsDevice bool
}

// Size returns the byte size of the region.
func (u Untyped) Size() uint64 {
	return uint64(1) << u.SizeBits
}

// Extras describes the optional device-tree-bearing blob appended after
// the fixed boot-info header.
type Extras struct {
	Ptr uint64
	Len uint64
}

// BootInfo is the root task's read-only view of the kernel handoff.
type BootInfo struct {
	NodeID       uint32
	NumNodes     uint32
	IPCBufferPtr uint64

	InitCNode     kernel.Cap
	InitCNodeBits uint8
	InitTCB       kernel.Cap
	InitVSpace    kernel.Cap

	EmptyStart uint64
	EmptyEnd   uint64

	Untypeds []Untyped
	Extras   Extras
}

// Validate performs the BootInfoValidate phase's sanity checks: node id
// within the node count, a plausible CNode radix, a well-formed empty
// window, and an extras pointer/length pair that is either both-zero or
// both-nonzero.
func (bi BootInfo) Validate() error {
	if bi.NumNodes == 0 || bi.NodeID >= bi.NumNodes {
		return kerr.NewError("BootInfoValidate", kerr.CodeInvalidArgument,
			fmt.Sprintf("node id %d out of range for %d nodes", bi.NodeID, bi.NumNodes))
	}
	if bi.InitCNodeBits == 0 || bi.InitCNodeBits > 32 {
		return kerr.NewError("BootInfoValidate", kerr.CodeInvalidArgument,
			fmt.Sprintf("implausible init cnode bits %d", bi.InitCNodeBits))
	}
	if bi.EmptyStart >= bi.EmptyEnd {
		return kerr.NewError("BootInfoValidate", kerr.CodeInvalidArgument,
			fmt.Sprintf("empty window start %d not below end %d", bi.EmptyStart, bi.EmptyEnd))
	}
	if (bi.Extras.Ptr == 0) != (bi.Extras.Len == 0) {
		return kerr.NewError("BootInfoValidate", kerr.CodeInvalidArgument,
			fmt.Sprintf("inconsistent extras ptr=%#x len=%d", bi.Extras.Ptr, bi.Extras.Len))
	}
	for i, u := range bi.Untypeds {
		if u.SizeBits == 0 {
			return kerr.NewError("BootInfoValidate", kerr.CodeInvalidArgument,
				fmt.Sprintf("untyped[%d] has zero size bits", i))
		}
	}
	return nil
}

// Summary renders the same structured dump the `bi` console verb and the
// one-time boot report share: header fields, extras range, and the
// empty-slot window.
func (bi BootInfo) Summary() map[string]any {
	ram, device := 0, 0
	for _, u := range bi.Untypeds {
		if u.IsDevice {
			device++
		} else {
			ram++
		}
	}
	return map[string]any{
		"node_id":          bi.NodeID,
		"num_nodes":        bi.NumNodes,
		"ipc_buffer_ptr":   fmt.Sprintf("%#x", bi.IPCBufferPtr),
		"init_cnode_bits":  bi.InitCNodeBits,
		"empty_start":      bi.EmptyStart,
		"empty_end":        bi.EmptyEnd,
		"empty_slots":      bi.EmptyEnd - bi.EmptyStart,
		"untyped_ram":      ram,
		"untyped_device":   device,
		"extras_ptr":       fmt.Sprintf("%#x", bi.Extras.Ptr),
		"extras_len":       bi.Extras.Len,
	}
}
