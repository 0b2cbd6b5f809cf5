package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRetypeConsumesBudget(t *testing.T) {
	f := NewFake()
	f.AddUntyped(1, 4096)

	rc := f.UntypedRetype(1, ObjectEndpoint, 4, 10 /*root*/, 0, 16, 0, 1)
	require.Equal(t, ErrNone, rc)
	assert.Equal(t, uint64(4096-16), f.RemainingBytes(1))
}

func TestFakeRetypeExhaustion(t *testing.T) {
	f := NewFake()
	f.AddUntyped(1, 8)

	rc := f.UntypedRetype(1, ObjectEndpoint, 4, 10, 0, 16, 0, 1)
	assert.Equal(t, ErrNotEnoughMemory, rc)
}

func TestFakeRetypeOccupiedSlotFails(t *testing.T) {
	f := NewFake()
	f.AddUntyped(1, 4096)

	require.Equal(t, ErrNone, f.UntypedRetype(1, ObjectEndpoint, 4, 10, 0, 16, 0, 1))
	assert.Equal(t, ErrDeleteFirst, f.UntypedRetype(1, ObjectEndpoint, 4, 10, 0, 16, 0, 1))
}

func TestFakeCNodeCopyDeleteRoundTrip(t *testing.T) {
	f := NewFake()
	f.AddUntyped(1, 4096)
	require.Equal(t, ErrNone, f.UntypedRetype(1, ObjectEndpoint, 4, 10, 5, 16, 0, 1))

	rc := f.CNodeCopy(10, 6, 16, 10, 5, 16, RightRead)
	require.Equal(t, ErrNone, rc)

	assert.Equal(t, ErrDeleteFirst, f.CNodeCopy(10, 6, 16, 10, 5, 16, RightRead))
	assert.Equal(t, ErrNone, f.CNodeDelete(10, 6, 16))
	assert.Equal(t, ErrInvalidArgument, f.CNodeDelete(10, 6, 16))
}

func TestFakeEndpointDeliverAndPoll(t *testing.T) {
	f := NewFake()
	_, ok, _ := f.EndpointPoll(42)
	assert.False(t, ok)

	f.Deliver(42, Message{Label: 0xB2})
	m, ok, rc := f.EndpointPoll(42)
	require.True(t, ok)
	require.Equal(t, ErrNone, rc)
	assert.Equal(t, uint64(0xB2), m.Label)

	_, ok, _ = f.EndpointPoll(42)
	assert.False(t, ok)
}

func TestFakeTCBSuspend(t *testing.T) {
	f := NewFake()
	assert.False(t, f.SuspendedTCBs[7])
	require.Equal(t, ErrNone, f.TCBSuspend(7))
	assert.True(t, f.SuspendedTCBs[7])
}

func TestFakeCacheMaintenanceRangeError(t *testing.T) {
	f := NewFake()
	assert.Equal(t, ErrRangeError, f.CacheMaintenance(CacheClean, 1, 100, 50))
	assert.Equal(t, ErrNone, f.CacheMaintenance(CacheClean, 1, 50, 100))
}
