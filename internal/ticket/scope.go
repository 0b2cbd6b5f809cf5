package ticket

import (
	"strings"

	"golang.org/x/time/rate"

	"github.com/cohesix/queenroot/internal/kerr"
)

// Limits bounds what a single ticket's claims may request; a Decoder's
// caller enforces these against the decoded Claims before building Usage.
// A zero field means "no cap", MaxScopes and MaxScopePathLen included.
type Limits struct {
	MaxScopes        int
	MaxScopePathLen  int
	MaxScopeRatePerS uint32
	BandwidthBytes   uint64
	CursorResumes    uint32
	CursorAdvances   uint32
}

// DefaultLimits mirrors the conservative defaults the console applies when
// no per-deployment override is configured.
func DefaultLimits() Limits {
	return Limits{
		MaxScopes:        16,
		MaxScopePathLen:  256,
		MaxScopeRatePerS: 1000,
		BandwidthBytes:   0,
		CursorResumes:    0,
		CursorAdvances:   0,
	}
}

func splitScopePath(path string) ([]string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "/" {
		return nil, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return nil, kerr.NewError("ticket.splitScopePath", kerr.CodeInvalidPath, "scope path must be absolute: "+path)
	}
	parts := strings.Split(strings.TrimPrefix(trimmed, "/"), "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if p == ".." {
			return nil, kerr.NewError("ticket.splitScopePath", kerr.CodeInvalidPath, "scope path must not contain ..: "+path)
		}
		out = append(out, p)
	}
	return out, nil
}

// SplitRequestPath splits a console-supplied request path the same way a
// scope path is split, rejecting traversal and requiring a leading slash
// (empty path is legal and denotes the root).
func SplitRequestPath(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	return splitScopePath(path)
}

// scopeState is a claim scope after path-splitting, carrying its own
// sliding-window rate limiter.
type scopeState struct {
	path     []string
	verb     Verb
	limiter  *rate.Limiter // nil when the claim set no rate_per_s
	ratePerS uint32
}

func newScopeState(claim ScopeClaim) (*scopeState, error) {
	components, err := splitScopePath(claim.Path)
	if err != nil {
		return nil, err
	}
	s := &scopeState{path: components, verb: claim.Verb, ratePerS: claim.RatePerS}
	if claim.RatePerS > 0 {
		// A 1s sliding window token bucket: burst equals the per-second rate,
		// refilling continuously at the same rate.
		s.limiter = rate.NewLimiter(rate.Limit(claim.RatePerS), int(claim.RatePerS))
	}
	return s, nil
}

func (s *scopeState) allowsVerb(requested Verb) bool {
	return s.verb.Allows(requested)
}

// matchesPath reports whether path falls under this scope (or, when
// allowAncestor is set, whether this scope falls under path — used for
// directory-listing verbs that only need overlap, not full containment).
func (s *scopeState) matchesPath(path []string, allowAncestor bool) bool {
	if hasPrefix(path, s.path) {
		return true
	}
	if allowAncestor && hasPrefix(s.path, path) {
		return true
	}
	return false
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, p := range prefix {
		if path[i] != p {
			return false
		}
	}
	return true
}

func (s *scopeState) checkRate() error {
	if s.limiter == nil {
		return nil
	}
	if !s.limiter.Allow() {
		return kerr.NewError("ticket.checkRate", kerr.CodeRateLimited, "scope rate limit exceeded")
	}
	return nil
}
