package ipcdispatch

import "github.com/cohesix/queenroot/internal/kernel"

// BootstrapMessage is a verbatim copy of a staged control-EP bootstrap
// message, payload words bounded by kernel.MaxMessageWords.
type BootstrapMessage struct {
	Label  uint64
	Badge  uint64
	Length int
	Words  [kernel.MaxMessageWords]uint64
}

// stagingArea holds at most one pending bootstrap message, overwritten by
// later arrivals until forwarded.
type stagingArea struct {
	msg       *BootstrapMessage
	forwarded bool
}

func (s *stagingArea) stage(msg kernel.Message) {
	bm := &BootstrapMessage{Label: msg.Label, Badge: msg.Badge, Length: msg.Length, Words: msg.Words}
	s.msg = bm
	s.forwarded = false
}

func (s *stagingArea) hasPending() bool {
	return s.msg != nil && !s.forwarded
}

// take returns the staged message once and marks it forwarded; subsequent
// calls before a new stage arrives return false, making forwarding
// idempotent.
func (s *stagingArea) take() (*BootstrapMessage, bool) {
	if s.msg == nil || s.forwarded {
		return nil, false
	}
	s.forwarded = true
	return s.msg, true
}
