package ticket

import (
	"github.com/juju/ratelimit"

	"github.com/cohesix/queenroot/internal/kerr"
)

// quotaState tracks the monotonically-decreasing budgets a ticket's claims
// grant: bandwidth (enforced with a token bucket sized to the whole quota
// so a check never partially admits a request), and cursor resume/advance
// counts for telemetry streaming.
type quotaState struct {
	bandwidthLimit     *uint64
	bandwidthBucket    *ratelimit.Bucket
	cursorResumeLimit  *uint32
	cursorResumeLeft   *uint32
	cursorAdvanceLimit *uint32
	cursorAdvanceLeft  *uint32
}

func resolveQuotas(claimed Quotas, limits Limits) (quotaState, error) {
	bandwidth, err := resolveU64(claimed.BandwidthBytes, limits.BandwidthBytes)
	if err != nil {
		return quotaState{}, err
	}
	resumes, err := resolveU32(claimed.CursorResumes, limits.CursorResumes)
	if err != nil {
		return quotaState{}, err
	}
	advances, err := resolveU32(claimed.CursorAdvances, limits.CursorAdvances)
	if err != nil {
		return quotaState{}, err
	}

	q := quotaState{
		bandwidthLimit:     bandwidth,
		cursorResumeLimit:  resumes,
		cursorResumeLeft:   cloneU32(resumes),
		cursorAdvanceLimit: advances,
		cursorAdvanceLeft:  cloneU32(advances),
	}
	if bandwidth != nil {
		// Capacity equal to the whole quota and one token per 1<<62 ns
		// (about 146 years), so the bucket never refills in practice: it
		// tracks remaining bytes, not a pace over time (pacing is the
		// scope rate limiter's job).
		q.bandwidthBucket = ratelimit.NewBucket(1<<62, int64(*bandwidth))
	}
	return q, nil
}

func resolveU64(claimed *uint64, max uint64) (*uint64, error) {
	if claimed != nil {
		if max > 0 && *claimed > max {
			return nil, kerr.NewError("ticket.resolveQuotas", kerr.CodeQuotaExceeded, "requested bandwidth exceeds deployment limit")
		}
		v := *claimed
		return &v, nil
	}
	if max > 0 {
		v := max
		return &v, nil
	}
	return nil, nil
}

func resolveU32(claimed *uint32, max uint32) (*uint32, error) {
	if claimed != nil {
		if max > 0 && *claimed > max {
			return nil, kerr.NewError("ticket.resolveQuotas", kerr.CodeQuotaExceeded, "requested cursor quota exceeds deployment limit")
		}
		v := *claimed
		return &v, nil
	}
	if max > 0 {
		v := max
		return &v, nil
	}
	return nil, nil
}

func cloneU32(v *uint32) *uint32 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func (q *quotaState) hasLimits() bool {
	return q.bandwidthLimit != nil || q.cursorResumeLimit != nil || q.cursorAdvanceLimit != nil
}

// checkBandwidth reports whether requested bytes fit the remaining budget
// without consuming it; callers consume only after a stream drains.
func (q *quotaState) checkBandwidth(requested uint64) error {
	if q.bandwidthBucket == nil {
		return nil
	}
	if requested > uint64(q.bandwidthBucket.Available()) {
		return kerr.NewError("ticket.checkBandwidth", kerr.CodeQuotaExceeded, "bandwidth quota exhausted")
	}
	return nil
}

func (q *quotaState) consumeBandwidth(consumed uint64) {
	if q.bandwidthBucket == nil || consumed == 0 {
		return
	}
	q.bandwidthBucket.TakeAvailable(int64(consumed))
}

func (q *quotaState) bandwidthRemaining() uint64 {
	if q.bandwidthBucket == nil {
		return 0
	}
	return uint64(q.bandwidthBucket.Available())
}

func (q *quotaState) checkCursor(isResume bool) error {
	if q.cursorAdvanceLeft != nil && *q.cursorAdvanceLeft == 0 {
		return kerr.NewError("ticket.checkCursor", kerr.CodeQuotaExceeded, "cursor advance quota exhausted")
	}
	if isResume && q.cursorResumeLeft != nil && *q.cursorResumeLeft == 0 {
		return kerr.NewError("ticket.checkCursor", kerr.CodeQuotaExceeded, "cursor resume quota exhausted")
	}
	return nil
}

func (q *quotaState) consumeCursor(isResume bool) {
	if q.cursorAdvanceLeft != nil && *q.cursorAdvanceLeft > 0 {
		*q.cursorAdvanceLeft--
	}
	if isResume && q.cursorResumeLeft != nil && *q.cursorResumeLeft > 0 {
		*q.cursorResumeLeft--
	}
}
