package ticket

import (
	"golang.org/x/time/rate"

	"github.com/cohesix/queenroot/internal/kerr"
)

// Session is the ticket-derived half of a console session: the attached
// role and, for non-Queen roles, the enforcement state their ticket grants.
// Origin/id/transport bookkeeping belongs to the console package.
type Session struct {
	Role   Role
	Ticket string
	Usage  *Usage // nil for a ticketless Queen session
}

// Validator decodes and enforces tickets against deployment Limits. It is
// the CapabilityValidator-equivalent seam the event pump calls on attach.
type Validator struct {
	decoder *Decoder
	limits  Limits
	nowMs   func() uint64
}

// NewValidator builds a Validator with the given signing key, enforcement
// limits, and a clock function (injected so tests can control expiry).
func NewValidator(key []byte, limits Limits, nowMs func() uint64) *Validator {
	return &Validator{decoder: NewDecoder(key), limits: limits, nowMs: nowMs}
}

// Attach validates a requested role against an optional ticket string.
// A Queen role may be presented without a ticket; every other role
// requires one whose claims carry a matching role.
func (v *Validator) Attach(requested Role, ticketStr string) (*Session, error) {
	if requested == RoleQueen && ticketStr == "" {
		return &Session{Role: RoleQueen}, nil
	}
	if ticketStr == "" {
		return nil, kerr.NewError("ticket.Attach", kerr.CodeInvalidClaims, "non-queen role requires a ticket")
	}

	claims, err := v.decoder.Decode(ticketStr)
	if err != nil {
		return nil, err
	}
	if claims.Role != requested {
		return nil, kerr.NewError("ticket.Attach", kerr.CodeInvalidClaims, "ticket role does not match requested role")
	}
	if claims.Expired(v.nowMs()) {
		return nil, kerr.NewError("ticket.Attach", kerr.CodeExpired, "ticket has expired")
	}

	usage, err := NewUsage(claims, v.limits)
	if err != nil {
		return nil, err
	}

	return &Session{Role: requested, Ticket: ticketStr, Usage: usage}, nil
}

// LoginLimiter enforces the per-parser minimum spacing between attach
// attempts (spec §4.5), independent of the per-session AuthThrottle.
type LoginLimiter struct {
	limiter *rate.Limiter
}

// NewLoginLimiter returns a limiter allowing perSecond attempts per second
// with a single-attempt burst.
func NewLoginLimiter(perSecond float64) *LoginLimiter {
	return &LoginLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Allow reports whether an attach attempt may proceed now.
func (l *LoginLimiter) Allow() bool {
	return l.limiter.Allow()
}
