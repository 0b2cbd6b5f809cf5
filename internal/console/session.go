package console

import (
	"github.com/google/uuid"

	"github.com/cohesix/queenroot/internal/ticket"
)

// InputSource tags which transport produced a line, so replies route back
// to the same one and audit records can distinguish TCP from serial.
type InputSource int

const (
	SourceSerial InputSource = iota
	SourceNet
)

func (s InputSource) String() string {
	if s == SourceNet {
		return "net"
	}
	return "serial"
}

// Session is an attached console session: the ticket-derived role/usage
// plus the bookkeeping the pump needs to route replies and audit records.
// ID is a fresh correlation id minted on every successful ATTACH, the way
// the root task tags one attach with one traceable identity across its
// audit lines.
type Session struct {
	ID     uuid.UUID
	Role   ticket.Role
	Ticket string
	Usage  *ticket.Usage
	Origin InputSource
}

// ensureAuthenticated mirrors spec §4.6's authorization matrix: Queen
// satisfies any minimum; Worker satisfies only a Worker minimum.
func ensureAuthenticated(session *Session, minimum ticket.SessionClass) bool {
	if session == nil {
		return false
	}
	switch session.Role.Class() {
	case ticket.ClassQueen:
		return true
	case ticket.ClassWorker:
		return minimum == ticket.ClassWorker
	default:
		return false
	}
}
