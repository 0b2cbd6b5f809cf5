package ticket

import (
	"time"

	"gopkg.in/retry.v1"
)

// AuthThrottle is the exponential back-off applied to repeated failed
// attach attempts (spec §4.5): base 250ms, doubling per failure, capped at
// 8 shifts, cleared on success.
//
// The event pump never blocks on an attempt (§5 "no operation blocks the
// thread"), so this does not drive retry.v1's blocking Attempt iterator;
// it reuses Exponential's Initial/Factor fields as the backoff's
// parameters and computes the delay for a given failure count directly.
type AuthThrottle struct {
	failures       uint32
	blockedUntilMs uint64
}

const throttleMaxShift uint32 = 8

var throttleBackoff = retry.Exponential{
	Initial: 250 * time.Millisecond,
	Factor:  2,
}

func throttleDelay(failures uint32) time.Duration {
	shift := failures
	if shift > throttleMaxShift {
		shift = throttleMaxShift
	}
	delay := throttleBackoff.Initial
	for i := uint32(0); i < shift; i++ {
		delay = time.Duration(float64(delay) * throttleBackoff.Factor)
	}
	return delay
}

// RegisterFailure records a failed attach at nowMs and extends the
// back-off window.
func (t *AuthThrottle) RegisterFailure(nowMs uint64) {
	delay := throttleDelay(t.failures)
	t.failures++
	t.blockedUntilMs = nowMs + uint64(delay.Milliseconds())
}

// RegisterSuccess clears the throttle after a successful attach.
func (t *AuthThrottle) RegisterSuccess() {
	t.failures = 0
	t.blockedUntilMs = 0
}

// Check reports whether an attach attempt at nowMs is currently blocked; on
// block it returns the remaining wait in milliseconds.
func (t *AuthThrottle) Check(nowMs uint64) (blocked bool, remainingMs uint64) {
	if nowMs < t.blockedUntilMs {
		return true, t.blockedUntilMs - nowMs
	}
	return false, 0
}
