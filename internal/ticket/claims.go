// Package ticket decodes signed session tickets and enforces the scope,
// rate, bandwidth, and cursor quotas their claims describe.
package ticket

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cohesix/queenroot/internal/kerr"
)

// Role identifies the session class a ticket authorizes.
type Role int

const (
	RoleQueen Role = iota
	RoleWorkerHeartbeat
	RoleWorkerGPU
	RoleWorkerBus
	RoleWorkerLora
)

var roleNames = map[string]Role{
	"queen":            RoleQueen,
	"worker-heartbeat": RoleWorkerHeartbeat,
	"worker-gpu":       RoleWorkerGPU,
	"worker-bus":       RoleWorkerBus,
	"worker-lora":      RoleWorkerLora,
}

// ParseRole maps a console-supplied role token to a Role.
func ParseRole(s string) (Role, bool) {
	r, ok := roleNames[strings.ToLower(s)]
	return r, ok
}

// SessionClass collapses the five concrete roles into the two classes the
// authorization matrix (spec §4.6) cares about.
type SessionClass int

const (
	ClassQueen SessionClass = iota
	ClassWorker
)

func (r Role) Class() SessionClass {
	if r == RoleQueen {
		return ClassQueen
	}
	return ClassWorker
}

func (r Role) String() string {
	for name, role := range roleNames {
		if role == r {
			return name
		}
	}
	return "unknown"
}

// Verb is the access class a scope grants.
type Verb int

const (
	VerbRead Verb = iota
	VerbWrite
	VerbReadWrite
)

func (v Verb) Allows(requested Verb) bool {
	switch v {
	case VerbRead:
		return requested == VerbRead
	case VerbWrite:
		return requested == VerbWrite
	case VerbReadWrite:
		return true
	default:
		return false
	}
}

// ScopeClaim is one entry of the claims' scopes array, prior to path
// splitting and rate-limiter construction.
type ScopeClaim struct {
	Path      string
	Verb      Verb
	RatePerS  uint32
}

// Quotas mirrors the claims' optional quota fields. A nil pointer means
// "absent" for every field, which Resolve treats as inherited from the
// caller's limits rather than zero.
type Quotas struct {
	BandwidthBytes  *uint64
	CursorResumes   *uint32
	CursorAdvances  *uint32
}

// Claims is the decoded body of a ticket JWT.
type Claims struct {
	Role        Role
	Scopes      []ScopeClaim
	Quotas      Quotas
	IssuedAtMs  uint64
	// TTLSeconds is nil when the claims carry no ttl_s, or carry ttl_s=0 —
	// the original decoder's Option<u64>::ttl_s() treats a zero duration
	// the same as absent rather than "expires immediately".
	TTLSeconds *uint64
}

// Expired reports whether the claims have passed their ttl relative to
// nowMs. A nil TTLSeconds never expires.
func (c Claims) Expired(nowMs uint64) bool {
	if c.TTLSeconds == nil {
		return false
	}
	return nowMs >= c.IssuedAtMs+*c.TTLSeconds*1000
}

// wireClaims is the JWT payload shape; jwt.RegisteredClaims is embedded for
// the parser's exp/iat plumbing even though spec's own budget fields are
// authoritative for session logic.
type wireClaims struct {
	jwt.RegisteredClaims
	Role       string        `json:"role"`
	Scopes     []wireScope   `json:"scopes"`
	Quotas     wireQuotas    `json:"quotas"`
	IssuedAtMs uint64        `json:"issued_at_ms"`
	TTLSeconds *uint64       `json:"ttl_s,omitempty"`
}

type wireScope struct {
	Path     string `json:"path"`
	Verb     string `json:"verb"`
	RatePerS uint32 `json:"rate_per_s"`
}

type wireQuotas struct {
	BandwidthBytes *uint64 `json:"bandwidth_bytes,omitempty"`
	CursorResumes  *uint32 `json:"cursor_resumes,omitempty"`
	CursorAdvances *uint32 `json:"cursor_advances,omitempty"`
}

func parseVerb(s string) (Verb, bool) {
	switch strings.ToLower(s) {
	case "read":
		return VerbRead, true
	case "write":
		return VerbWrite, true
	case "readwrite", "read-write":
		return VerbReadWrite, true
	default:
		return 0, false
	}
}

// Decoder verifies and decodes ticket JWTs against a fixed HMAC key. The
// wire format is opaque per spec.md §6; a signed JWT is the vehicle the way
// gravwell signs its API tickets.
type Decoder struct {
	key []byte
}

// NewDecoder builds a Decoder that verifies tickets with the given key.
func NewDecoder(key []byte) *Decoder {
	return &Decoder{key: key}
}

// Decode parses and verifies a ticket string into Claims. Any decode or
// verification failure maps to kerr.CodeInvalidClaims.
func (d *Decoder) Decode(ticket string) (Claims, error) {
	var wc wireClaims
	_, err := jwt.ParseWithClaims(ticket, &wc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, kerr.NewError("ticket.Decode", kerr.CodeInvalidClaims, "unexpected signing method")
		}
		return d.key, nil
	})
	if err != nil {
		return Claims{}, kerr.NewError("ticket.Decode", kerr.CodeInvalidClaims, "ticket decode failed: "+err.Error())
	}

	role, ok := ParseRole(wc.Role)
	if !ok {
		return Claims{}, kerr.NewError("ticket.Decode", kerr.CodeInvalidClaims, "unknown role: "+wc.Role)
	}

	scopes := make([]ScopeClaim, 0, len(wc.Scopes))
	for _, s := range wc.Scopes {
		verb, ok := parseVerb(s.Verb)
		if !ok {
			return Claims{}, kerr.NewError("ticket.Decode", kerr.CodeInvalidClaims, "unknown verb: "+s.Verb)
		}
		scopes = append(scopes, ScopeClaim{Path: s.Path, Verb: verb, RatePerS: s.RatePerS})
	}

	ttl := wc.TTLSeconds
	if ttl != nil && *ttl == 0 {
		ttl = nil
	}

	return Claims{
		Role:       role,
		Scopes:     scopes,
		Quotas: Quotas{
			BandwidthBytes: wc.Quotas.BandwidthBytes,
			CursorResumes:  wc.Quotas.CursorResumes,
			CursorAdvances: wc.Quotas.CursorAdvances,
		},
		IssuedAtMs: wc.IssuedAtMs,
		TTLSeconds: ttl,
	}, nil
}
