package ticket

import (
	"github.com/cohesix/queenroot/internal/kerr"
)

// CursorCheck records whether a telemetry read counted as a resume so the
// caller can pass it back into Record after a successful drain.
type CursorCheck struct {
	isResume bool
}

// IsResume reports whether the read this check was computed for counted
// as a backward-seeking resume rather than a strictly-forward advance.
func (c CursorCheck) IsResume() bool { return c.isResume }

// Usage is the live enforcement state derived from one session's decoded
// Claims: scopes with their rate limiters, quotas, and the per-path cursor
// table. Quotas only ever move toward exhaustion within a session.
type Usage struct {
	scopes        []*scopeState
	quotas        quotaState
	cursorOffsets map[string]uint64
}

// NewUsage builds Usage from decoded claims, rejecting claims that violate
// deployment Limits outright (too many scopes, oversized path, rate over
// ceiling, or an over-budget quota request).
func NewUsage(claims Claims, limits Limits) (*Usage, error) {
	if limits.MaxScopes > 0 && len(claims.Scopes) > limits.MaxScopes {
		return nil, kerr.NewError("ticket.NewUsage", kerr.CodeInvalidClaims, "too many scopes in ticket")
	}

	scopes := make([]*scopeState, 0, len(claims.Scopes))
	for _, claim := range claims.Scopes {
		if limits.MaxScopePathLen > 0 && len(claim.Path) > limits.MaxScopePathLen {
			return nil, kerr.NewError("ticket.NewUsage", kerr.CodeInvalidClaims, "scope path too long: "+claim.Path)
		}
		if limits.MaxScopeRatePerS > 0 && claim.RatePerS > limits.MaxScopeRatePerS {
			return nil, kerr.NewError("ticket.NewUsage", kerr.CodeInvalidClaims, "scope rate exceeds deployment limit")
		}
		s, err := newScopeState(claim)
		if err != nil {
			return nil, kerr.NewError("ticket.NewUsage", kerr.CodeInvalidClaims, "malformed scope path in ticket: "+err.Error())
		}
		scopes = append(scopes, s)
	}

	quotas, err := resolveQuotas(claims.Quotas, limits)
	if err != nil {
		return nil, err
	}

	return &Usage{
		scopes:        scopes,
		quotas:        quotas,
		cursorOffsets: make(map[string]uint64),
	}, nil
}

// HasEnforcement reports whether this usage carries any scope or quota
// restriction at all (a bare Queen session typically carries none).
func (u *Usage) HasEnforcement() bool {
	return len(u.scopes) > 0 || u.quotas.hasLimits()
}

// CheckScope finds the longest matching scope for path+verb and applies
// its rate limiter. Absent scope denies with CodePermissionDenied; an
// exhausted rate limiter denies with CodeRateLimited.
func (u *Usage) CheckScope(path []string, verb Verb, allowAncestor bool) error {
	if len(u.scopes) == 0 {
		return nil
	}
	best := u.bestScope(path, verb, allowAncestor)
	if best == nil {
		return kerr.NewError("ticket.CheckScope", kerr.CodePermissionDenied, "no scope grants this path/verb")
	}
	return best.checkRate()
}

func (u *Usage) bestScope(path []string, verb Verb, allowAncestor bool) *scopeState {
	var best *scopeState
	bestLen := -1
	for _, s := range u.scopes {
		if !s.allowsVerb(verb) {
			continue
		}
		if !s.matchesPath(path, allowAncestor) {
			continue
		}
		if len(s.path) > bestLen {
			best = s
			bestLen = len(s.path)
		}
	}
	return best
}

func (u *Usage) CheckBandwidth(requested uint64) error {
	return u.quotas.checkBandwidth(requested)
}

func (u *Usage) ConsumeBandwidth(consumed uint64) {
	u.quotas.consumeBandwidth(consumed)
}

func (u *Usage) BandwidthRemaining() uint64 {
	return u.quotas.bandwidthRemaining()
}

// CursorOffset returns the last recorded offset for pathKey, or 0 if the
// path has never been read through a cursor-tracked verb. Callers thread
// this into the next tail request so a stream resumes where the last one
// left off instead of re-reading from the start.
func (u *Usage) CursorOffset(pathKey string) uint64 {
	return u.cursorOffsets[pathKey]
}

// CheckCursor determines whether offset is a resume relative to the last
// recorded offset for pathKey and applies the cursor quotas.
func (u *Usage) CheckCursor(pathKey string, offset uint64) (CursorCheck, error) {
	last, seen := u.cursorOffsets[pathKey]
	isResume := seen && offset < last
	if err := u.quotas.checkCursor(isResume); err != nil {
		return CursorCheck{}, err
	}
	return CursorCheck{isResume: isResume}, nil
}

// RecordCursor advances the per-path cursor and consumes the quota deltas
// after a stream successfully drains (spec §4.6 step 6).
func (u *Usage) RecordCursor(pathKey string, offset uint64, length int, check CursorCheck) {
	u.cursorOffsets[pathKey] = offset + uint64(length)
	u.quotas.consumeCursor(check.isResume)
}
