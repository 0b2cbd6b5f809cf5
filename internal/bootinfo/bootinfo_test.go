package bootinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohesix/queenroot/internal/kerr"
)

func validBootInfo() BootInfo {
	return BootInfo{
		NodeID:        0,
		NumNodes:      1,
		IPCBufferPtr:  0x1000,
		InitCNode:     1,
		InitCNodeBits: 12,
		InitTCB:       2,
		InitVSpace:    3,
		EmptyStart:    100,
		EmptyEnd:      4096,
		Untypeds: []Untyped{
			{Cap: 10, Paddr: 0x80000000, SizeBits: 24, IsDevice: false},
			{Cap: 11, Paddr: 0x09000000, SizeBits: 12, IsDevice: true},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	require.NoError(t, validBootInfo().Validate())
}

func TestValidateRejectsNodeOutOfRange(t *testing.T) {
	bi := validBootInfo()
	bi.NodeID = 5
	err := bi.Validate()
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeInvalidArgument))
}

func TestValidateRejectsBadEmptyWindow(t *testing.T) {
	bi := validBootInfo()
	bi.EmptyStart = bi.EmptyEnd
	require.Error(t, bi.Validate())
}

func TestValidateRejectsInconsistentExtras(t *testing.T) {
	bi := validBootInfo()
	bi.Extras = Extras{Ptr: 0x2000, Len: 0}
	require.Error(t, bi.Validate())
}

func TestValidateRejectsZeroSizeUntyped(t *testing.T) {
	bi := validBootInfo()
	bi.Untypeds = append(bi.Untypeds, Untyped{Cap: 12, SizeBits: 0})
	require.Error(t, bi.Validate())
}

func TestSummary(t *testing.T) {
	bi := validBootInfo()
	s := bi.Summary()
	assert.Equal(t, uint32(0), s["node_id"])
	assert.Equal(t, 1, s["untyped_ram"])
	assert.Equal(t, 1, s["untyped_device"])
	assert.Equal(t, uint64(3996), s["empty_slots"])
}
