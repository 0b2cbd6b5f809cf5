package ipcdispatch

import (
	"github.com/cohesix/queenroot/internal/kernel"
	"github.com/cohesix/queenroot/internal/logging"
)

const invalidSignatureTableCapacity = 64

// LogHandler receives LogControl messages forwarded directly (they are
// never staged).
type LogHandler interface {
	HandleLogControl(msg kernel.Message)
}

// BootstrapHandler receives the staged bootstrap message once handlers
// are ready.
type BootstrapHandler interface {
	HandleBootstrap(msg *BootstrapMessage)
}

// TCBLookup resolves the TCB capability suspended when a fault badge is
// first escalated to fatal.
type TCBLookup func(badge uint64) (kernel.Cap, bool)

// Dispatcher polls the control and fault endpoints each pump cycle.
type Dispatcher struct {
	invoker kernel.Invoker
	logger  *logging.Logger

	controlEP kernel.Cap
	faultEP   kernel.Cap

	staging       stagingArea
	handlersReady bool

	tcbLookup TCBLookup
	badges    map[uint64]*badgeState
	invalid   *invalidTable
}

// New builds a Dispatcher over the given control and fault endpoints.
func New(invoker kernel.Invoker, controlEP, faultEP kernel.Cap, tcbLookup TCBLookup) *Dispatcher {
	return &Dispatcher{
		invoker:   invoker,
		logger:    logging.Default().With("component", "ipcdispatch"),
		controlEP: controlEP,
		faultEP:   faultEP,
		tcbLookup: tcbLookup,
		badges:    make(map[uint64]*badgeState),
		invalid:   newInvalidTable(invalidSignatureTableCapacity),
	}
}

// SetHandlersReady gates forwarding of the staged bootstrap message; the
// event pump flips this once its bootstrap handler is wired up.
func (d *Dispatcher) SetHandlersReady(ready bool) {
	d.handlersReady = ready
}

func (d *Dispatcher) HasStagedBootstrap() bool {
	return d.staging.hasPending()
}

// PollControl polls the control endpoint once and classifies and routes
// whatever arrived; it returns the class observed, or false if nothing
// arrived.
func (d *Dispatcher) PollControl(log LogHandler, bootstrap BootstrapHandler) (ControlClass, bool) {
	class, ok := d.pollControlOnce(log)
	d.forwardStagedBootstrap(bootstrap)
	return class, ok
}

func (d *Dispatcher) pollControlOnce(log LogHandler) (ControlClass, bool) {
	msg, hasMsg, err := d.invoker.EndpointPoll(d.controlEP)
	if err != 0 {
		d.logger.Warn("control EP poll error", "err", err)
		return ClassUnknown, false
	}
	if !hasMsg {
		return ClassUnknown, false
	}

	class := Classify(msg)
	switch class {
	case ClassBootstrap:
		d.staging.stage(msg)
	case ClassLog:
		if log != nil {
			log.HandleLogControl(msg)
		}
	case ClassHeartbeat:
		d.replyHeartbeat()
	case ClassFaultLegacy:
		d.handleFaultMessage(msg)
	case ClassUnknown:
		// policy: do not log-storm on unrecognized control traffic.
	}
	return class, true
}

// forwardStagedBootstrap delivers a previously staged bootstrap message once
// handlers are ready, independent of whether this pump cycle observed a new
// control message. Forwarding is idempotent: once taken, the slot is empty.
func (d *Dispatcher) forwardStagedBootstrap(bootstrap BootstrapHandler) {
	if !d.handlersReady || bootstrap == nil {
		return
	}
	if staged, ok := d.staging.take(); ok {
		bootstrap.HandleBootstrap(staged)
	}
}

func (d *Dispatcher) replyHeartbeat() {
	if err := d.invoker.EndpointReply(kernel.Message{Label: HeartbeatLabel}); err != 0 {
		d.logger.Warn("heartbeat reply failed", "err", err)
		return
	}
	d.logger.Debug(HeartbeatReply)
}

// PollFault polls the fault endpoint once, decoding and escalating any
// message that arrived.
func (d *Dispatcher) PollFault() (FaultContext, bool) {
	msg, hasMsg, err := d.invoker.EndpointPoll(d.faultEP)
	if err != 0 {
		d.logger.Warn("fault EP poll error", "err", err)
		return FaultContext{}, false
	}
	if !hasMsg {
		return FaultContext{}, false
	}
	return d.handleFaultMessage(msg)
}

func (d *Dispatcher) handleFaultMessage(msg kernel.Message) (FaultContext, bool) {
	fc, ok := decodeFaultContext(msg)
	if !ok {
		sig := invalidSignature{badge: msg.Badge, label: msg.Label}
		if !d.invalid.observe(sig) {
			d.logger.Warn("invalid fault layout", "badge", msg.Badge, "label", msg.Label)
		}
		return FaultContext{}, false
	}

	state, known := d.badges[fc.Badge]
	if !known {
		d.logger.Error("fault from unknown badge", "badge", fc.Badge, "tag", fc.Tag)
		state = &badgeState{fatal: true}
		d.badges[fc.Badge] = state
		if d.tcbLookup != nil {
			if tcb, ok := d.tcbLookup(fc.Badge); ok {
				if err := d.invoker.TCBSuspend(tcb); err != 0 {
					d.logger.Warn("failed to suspend faulting TCB", "badge", fc.Badge, "kernel_err", err)
				}
			}
		}
		return fc, true
	}

	state.count++
	if !state.suppressed {
		state.suppressed = true
		d.logger.Warn("further faults from badge suppressed", "badge", fc.Badge, "count", state.count)
	}
	return fc, true
}

// BadgeOccurrences reports how many fault messages from badge arrived after
// the first one, which escalated it to fatal (0 if seen at most once).
func (d *Dispatcher) BadgeOccurrences(badge uint64) uint64 {
	if s, ok := d.badges[badge]; ok {
		return s.count
	}
	return 0
}

// IsFatal reports whether badge has been escalated to fatal.
func (d *Dispatcher) IsFatal(badge uint64) bool {
	s, ok := d.badges[badge]
	return ok && s.fatal
}
