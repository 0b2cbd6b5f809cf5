package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohesix/queenroot/internal/kerr"
)

func sampleClaims() Claims {
	return Claims{
		Role: RoleWorkerBus,
		Scopes: []ScopeClaim{
			{Path: "/bus", Verb: VerbRead, RatePerS: 0},
			{Path: "/bus/telemetry", Verb: VerbReadWrite, RatePerS: 0},
		},
	}
}

func TestNewUsageRejectsTooManyScopes(t *testing.T) {
	claims := Claims{Scopes: []ScopeClaim{{Path: "/a"}, {Path: "/b"}}}
	_, err := NewUsage(claims, Limits{MaxScopes: 1})
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodeInvalidClaims))
}

func TestCheckScopeSelectsLongestMatch(t *testing.T) {
	u, err := NewUsage(sampleClaims(), Limits{})
	require.NoError(t, err)

	// Both /bus and /bus/telemetry match; the write verb narrows it to the
	// longer, more specific scope.
	err = u.CheckScope([]string{"bus", "telemetry"}, VerbWrite, false)
	require.NoError(t, err)
}

func TestCheckScopeDeniesWithoutMatch(t *testing.T) {
	u, err := NewUsage(sampleClaims(), Limits{})
	require.NoError(t, err)

	err = u.CheckScope([]string{"lora"}, VerbRead, false)
	require.Error(t, err)
	assert.True(t, kerr.IsCode(err, kerr.CodePermissionDenied))
}

func TestCheckScopeDeniesWriteUnderReadOnlyScope(t *testing.T) {
	u, err := NewUsage(sampleClaims(), Limits{})
	require.NoError(t, err)

	err = u.CheckScope([]string{"bus"}, VerbWrite, false)
	require.Error(t, err)
}

func TestUsageNoScopesAllowsEverything(t *testing.T) {
	u, err := NewUsage(Claims{}, Limits{})
	require.NoError(t, err)
	assert.False(t, u.HasEnforcement())
	require.NoError(t, u.CheckScope([]string{"anything"}, VerbWrite, false))
}

func TestCheckCursorDetectsResume(t *testing.T) {
	u, err := NewUsage(Claims{}, Limits{})
	require.NoError(t, err)

	check, err := u.CheckCursor("/bus/telemetry", 100)
	require.NoError(t, err)
	assert.False(t, check.isResume)
	u.RecordCursor("/bus/telemetry", 100, 50, check)

	check, err = u.CheckCursor("/bus/telemetry", 10)
	require.NoError(t, err)
	assert.True(t, check.isResume)
}

func TestBandwidthLifecycle(t *testing.T) {
	bw := uint64(1024)
	u, err := NewUsage(Claims{Quotas: Quotas{BandwidthBytes: &bw}}, Limits{})
	require.NoError(t, err)

	require.NoError(t, u.CheckBandwidth(1024))
	u.ConsumeBandwidth(1024)
	assert.Equal(t, uint64(0), u.BandwidthRemaining())
	require.Error(t, u.CheckBandwidth(1))
}
