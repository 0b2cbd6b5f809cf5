// Package ipcdispatch polls the root task's control and fault endpoints
// non-blockingly each pump cycle, classifies incoming messages, stages
// bootstrap traffic until handlers are ready, and tracks per-badge fault
// escalation state.
package ipcdispatch

import "github.com/cohesix/queenroot/internal/kernel"

// ControlClass classifies a message observed on the control endpoint.
type ControlClass int

const (
	ClassBootstrap ControlClass = iota
	ClassLog
	ClassHeartbeat
	ClassFaultLegacy
	ClassUnknown
)

func (c ControlClass) String() string {
	switch c {
	case ClassBootstrap:
		return "bootstrap"
	case ClassLog:
		return "log"
	case ClassHeartbeat:
		return "heartbeat"
	case ClassFaultLegacy:
		return "fault-legacy"
	default:
		return "unknown"
	}
}

// HeartbeatLabel is the control-EP label reserved for heartbeat traffic.
const HeartbeatLabel uint64 = 0xB2

// HeartbeatReply is the literal acknowledgement text emitted for a
// heartbeat control message.
const HeartbeatReply = "OK AUTH detail=control"

func isFaultFamilyLabel(label uint64) bool {
	return label >= uint64(kernel.FaultCap) && label <= uint64(kernel.FaultTimeout)
}

// Classify maps a raw control-EP message onto a ControlClass per the
// dispatcher's classification table.
func Classify(msg kernel.Message) ControlClass {
	switch {
	case msg.Label == 0 && msg.Length == 0:
		return ClassBootstrap
	case msg.Label == 0 && msg.Length > 0:
		return ClassLog
	case msg.Label == HeartbeatLabel:
		return ClassHeartbeat
	case isFaultFamilyLabel(msg.Label):
		return ClassFaultLegacy
	default:
		return ClassUnknown
	}
}
