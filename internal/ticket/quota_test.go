package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveQuotasInheritsDeploymentLimit(t *testing.T) {
	q, err := resolveQuotas(Quotas{}, Limits{BandwidthBytes: 2048, CursorAdvances: 5})
	require.NoError(t, err)
	require.NotNil(t, q.bandwidthLimit)
	assert.Equal(t, uint64(2048), *q.bandwidthLimit)
	require.NotNil(t, q.cursorAdvanceLimit)
	assert.Equal(t, uint32(5), *q.cursorAdvanceLimit)
}

func TestResolveQuotasRejectsOverBudgetRequest(t *testing.T) {
	requested := uint64(9000)
	_, err := resolveQuotas(Quotas{BandwidthBytes: &requested}, Limits{BandwidthBytes: 4096})
	require.Error(t, err)
}

func TestResolveQuotasNoLimitMeansUnbounded(t *testing.T) {
	q, err := resolveQuotas(Quotas{}, Limits{})
	require.NoError(t, err)
	assert.Nil(t, q.bandwidthLimit)
	assert.False(t, q.hasLimits())
}

func TestBandwidthCheckAndConsume(t *testing.T) {
	limit := uint64(100)
	q, err := resolveQuotas(Quotas{BandwidthBytes: &limit}, Limits{})
	require.NoError(t, err)

	require.NoError(t, q.checkBandwidth(50))
	q.consumeBandwidth(50)
	assert.Equal(t, uint64(50), q.bandwidthRemaining())

	require.Error(t, q.checkBandwidth(51))
	require.NoError(t, q.checkBandwidth(50))
}

func TestCursorQuotaExhaustion(t *testing.T) {
	advances := uint32(1)
	resumes := uint32(1)
	q, err := resolveQuotas(Quotas{CursorAdvances: &advances, CursorResumes: &resumes}, Limits{})
	require.NoError(t, err)

	require.NoError(t, q.checkCursor(false))
	q.consumeCursor(false)
	require.Error(t, q.checkCursor(false))
}

func TestCursorResumeQuotaIndependentOfAdvance(t *testing.T) {
	resumes := uint32(0)
	q, err := resolveQuotas(Quotas{CursorResumes: &resumes}, Limits{})
	require.NoError(t, err)

	// Advancing (non-resume) is unaffected by an exhausted resume quota.
	require.NoError(t, q.checkCursor(false))
	require.Error(t, q.checkCursor(true))
}
