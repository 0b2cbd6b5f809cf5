package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohesix/queenroot/internal/kerr"
)

func fixedClock(ms uint64) func() uint64 {
	return func() uint64 { return ms }
}

func TestAttachQueenWithoutTicket(t *testing.T) {
	v := NewValidator([]byte("k"), DefaultLimits(), fixedClock(0))
	sess, err := v.Attach(RoleQueen, "")
	require.NoError(t, err)
	assert.Equal(t, RoleQueen, sess.Role)
	assert.Nil(t, sess.Usage)
}

func TestAttachNonQueenRequiresTicket(t *testing.T) {
	v := NewValidator([]byte("k"), DefaultLimits(), fixedClock(0))
	_, err := v.Attach(RoleWorkerBus, "")
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeInvalidClaims))
}

func TestAttachValidTicket(t *testing.T) {
	key := []byte("k")
	raw := signTestTicket(t, key, wireClaims{
		Role:       "worker-bus",
		IssuedAtMs: 1000,
	})
	v := NewValidator(key, DefaultLimits(), fixedClock(1000))
	sess, err := v.Attach(RoleWorkerBus, raw)
	require.NoError(t, err)
	assert.Equal(t, RoleWorkerBus, sess.Role)
	require.NotNil(t, sess.Usage)
}

func TestAttachRejectsRoleMismatch(t *testing.T) {
	key := []byte("k")
	raw := signTestTicket(t, key, wireClaims{Role: "worker-bus", IssuedAtMs: 0})
	v := NewValidator(key, DefaultLimits(), fixedClock(0))
	_, err := v.Attach(RoleWorkerGPU, raw)
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeInvalidClaims))
}

func TestAttachRejectsExpiredTicket(t *testing.T) {
	key := []byte("k")
	ttl := uint64(60)
	raw := signTestTicket(t, key, wireClaims{
		Role:       "worker-bus",
		IssuedAtMs: 1_000_000,
		TTLSeconds: &ttl,
	})
	v := NewValidator(key, DefaultLimits(), fixedClock(1_000_000+60_000))
	_, err := v.Attach(RoleWorkerBus, raw)
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeExpired))
}

func TestLoginLimiterThrottles(t *testing.T) {
	l := NewLoginLimiter(1)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}
