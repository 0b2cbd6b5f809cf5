package cachedma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/kernel"
)

func TestZeroLenIsNoOp(t *testing.T) {
	fake := kernel.NewFake()
	s := New(fake, 1, DefaultPolicy())

	require.NoError(t, s.Clean(0x1000, 0))
	seq, ringLen := s.Snapshot()
	assert.Equal(t, uint64(0), seq)
	assert.Equal(t, 0, ringLen)
}

func TestDisabledPolicyRejectsNonZeroLen(t *testing.T) {
	fake := kernel.NewFake()
	policy := DefaultPolicy()
	policy.KernelOpsEnabled = false
	s := New(fake, 1, policy)

	err := s.Clean(0x1000, 64)
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeInvalidArgument))
}

func TestOverflowDetected(t *testing.T) {
	fake := kernel.NewFake()
	s := New(fake, 1, DefaultPolicy())

	err := s.Clean(^uint64(0)-10, 100)
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeRange))
}

func TestCleanRecordsTelemetry(t *testing.T) {
	fake := kernel.NewFake()
	s := New(fake, 1, DefaultPolicy())

	require.NoError(t, s.Clean(0x2000, 100))
	require.NoError(t, s.Invalidate(0x3000, 200))

	seq, ringLen := s.Snapshot()
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, 2, ringLen)
}

func TestPinUnpinRoundTrip(t *testing.T) {
	fake := kernel.NewFake()
	s := New(fake, 1, DefaultPolicy())

	r, err := s.Pin(0x10000, 0x80010000, 4096, "virtio-rx")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), r.Vaddr)

	require.NoError(t, s.Unpin(r))
}

func TestPinRejectsUnaligned(t *testing.T) {
	fake := kernel.NewFake()
	s := New(fake, 1, DefaultPolicy())

	_, err := s.Pin(0x1001, 0x80010000, 4096, "bad")
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeInvalidArgument))
}

func TestPinRejectsZeroFields(t *testing.T) {
	fake := kernel.NewFake()
	s := New(fake, 1, DefaultPolicy())

	_, err := s.Pin(0, 0x1000, 4096, "bad")
	require.Error(t, err)
}

func TestSummaryFlushOnThreshold(t *testing.T) {
	fake := kernel.NewFake()
	s := New(fake, 1, DefaultPolicy())

	for i := 0; i < SummaryOpThreshold+1; i++ {
		require.NoError(t, s.Clean(uint64(i*64), 64))
	}
	seq, _ := s.Snapshot()
	assert.Equal(t, uint64(SummaryOpThreshold+1), seq)
}
