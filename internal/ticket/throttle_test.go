package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThrottleDelayDoublesAndCaps(t *testing.T) {
	assert.Equal(t, int64(250), throttleDelay(0).Milliseconds())
	assert.Equal(t, int64(500), throttleDelay(1).Milliseconds())
	assert.Equal(t, int64(1000), throttleDelay(2).Milliseconds())
	capped := throttleDelay(throttleMaxShift)
	assert.Equal(t, capped, throttleDelay(throttleMaxShift+5))
}

func TestAuthThrottleBlocksAfterFailure(t *testing.T) {
	var th AuthThrottle
	th.RegisterFailure(1000)

	blocked, remaining := th.Check(1000)
	assert.True(t, blocked)
	assert.Equal(t, uint64(250), remaining)

	blocked, _ = th.Check(1250)
	assert.False(t, blocked)
}

func TestAuthThrottleSuccessClears(t *testing.T) {
	var th AuthThrottle
	th.RegisterFailure(0)
	th.RegisterSuccess()

	blocked, _ := th.Check(0)
	assert.False(t, blocked)
}

func TestAuthThrottleEscalatesAcrossFailures(t *testing.T) {
	var th AuthThrottle
	th.RegisterFailure(0) // blocked until 250
	th.RegisterFailure(250) // shift 1 -> +500 -> blocked until 750

	blocked, remaining := th.Check(250)
	assert.True(t, blocked)
	assert.Equal(t, uint64(500), remaining)
}
