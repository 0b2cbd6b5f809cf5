package console

import (
	"sync"

	"github.com/cohesix/queenroot/internal/ipcdispatch"
	"github.com/cohesix/queenroot/internal/metrics"
	"github.com/cohesix/queenroot/internal/ticket"
)

// NetPoller is the subset of internal/virtio.Device the pump's network
// phase drives: drain received frames and flush any queued transmits.
// nettest and netstats do not use the device: netstats reports the shared
// Metrics counters and nettest replies with a fixed acknowledgement.
type NetPoller interface {
	PollRX() [][]byte
	PollTX()
}

// sessionState is one attached or pre-attach console session plus the
// streams it has in flight. The serial port always has exactly one;
// net connections get one each, added by the TCP server. session is
// written only by the pump goroutine but read by the connection's reader
// goroutine (to decide the idle-timeout error line), so it goes behind a
// mutex even though every other field here is pump-goroutine-only.
type sessionState struct {
	mu        sync.Mutex
	session   *Session
	throttle  ticket.AuthThrottle
	transport Transport
	streams   []*pendingStream
}

// Attached reports whether this session has completed ATTACH, safe to
// call from any goroutine.
func (s *sessionState) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

func (s *sessionState) setSession(sess *Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

func (s *sessionState) getSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *sessionState) queueStream(st *pendingStream) {
	if st == nil {
		return
	}
	s.streams = append(s.streams, st)
}

func (s *sessionState) flushStreams() {
	remaining := s.streams[:0]
	for _, st := range s.streams {
		if !st.flush(s.transport) {
			remaining = append(remaining, st)
		}
	}
	s.streams = remaining
}

// inboundLine is one line queued by a TCP connection's reader goroutine for
// the pump to process on its next cycle. Serial lines do not pass through
// here; pollSerial handles them directly.
type inboundLine struct {
	sess *sessionState
	line string
}

// Pump is the cooperative event loop: serial I/O, a timer tick, the
// network device, IPC dispatch, then any pending stream output, in that
// fixed order, with no blocking call anywhere in the cycle (spec §4.5).
type Pump struct {
	Serial *SerialPort
	Net    NetPoller
	IPC    *ipcdispatch.Dispatcher
	Cmd    *Dispatcher
	Metrics *metrics.Metrics

	LogHandler ipcdispatch.LogHandler
	Bootstrap  ipcdispatch.BootstrapHandler

	NowMs func() uint64

	mu          sync.Mutex
	serial      *sessionState
	netSessions []*sessionState
	inbound     chan inboundLine
}

// NewPump wires a Pump around its collaborators. inboundCapacity bounds
// how many net-connection lines may queue between pump cycles before a
// connection's reader goroutine blocks.
func NewPump(serial *SerialPort, net NetPoller, ipc *ipcdispatch.Dispatcher, cmd *Dispatcher, m *metrics.Metrics, nowMs func() uint64, inboundCapacity int) *Pump {
	p := &Pump{
		Serial:  serial,
		Net:     net,
		IPC:     ipc,
		Cmd:     cmd,
		Metrics: m,
		NowMs:   nowMs,
		inbound: make(chan inboundLine, inboundCapacity),
	}
	p.serial = &sessionState{transport: serialTransport{port: serial}}
	return p
}

// Enqueue lets a TCP connection's reader goroutine hand a parsed line to
// the pump without touching pump state directly. sess must have been
// created by RegisterNetSession.
func (p *Pump) Enqueue(sess *sessionState, line string) {
	p.inbound <- inboundLine{sess: sess, line: line}
}

// RegisterNetSession allocates session bookkeeping for a newly accepted
// TCP connection and tracks it so Tick flushes its pending streams too.
func (p *Pump) RegisterNetSession(transport Transport) *sessionState {
	sess := &sessionState{transport: transport}
	p.mu.Lock()
	p.netSessions = append(p.netSessions, sess)
	p.mu.Unlock()
	return sess
}

// UnregisterNetSession drops a closed connection's session from the
// tracked set once its reader/writer goroutines have exited.
func (p *Pump) UnregisterNetSession(sess *sessionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.netSessions {
		if s == sess {
			p.netSessions = append(p.netSessions[:i], p.netSessions[i+1:]...)
			return
		}
	}
}

// Tick runs exactly one cooperative cycle.
func (p *Pump) Tick() {
	p.pollSerial()
	p.NowMs()
	p.Metrics.TimerTicks.Add(1)
	if p.Net != nil {
		p.Net.PollRX()
		p.Net.PollTX()
	}
	p.pollIPC()
	p.drainInbound()
	p.serial.flushStreams()
	p.Serial.PollIO() // transmit this cycle's serial replies and stream output
	p.mu.Lock()
	sessions := append([]*sessionState(nil), p.netSessions...)
	p.mu.Unlock()
	for _, sess := range sessions {
		sess.flushStreams()
	}
}

func (p *Pump) pollSerial() {
	p.Serial.PollIO()
	for _, line := range p.Serial.DrainLines() {
		p.handleLine(p.serial, line)
	}
}

func (p *Pump) pollIPC() {
	if p.IPC == nil {
		return
	}
	p.IPC.PollControl(p.LogHandler, p.Bootstrap)
	if _, ok := p.IPC.PollFault(); ok {
		p.Metrics.FaultMessages.Add(1)
	}
}

// drainInbound processes every net-connection line queued since the last
// cycle without blocking, preserving per-connection cooperative scheduling.
func (p *Pump) drainInbound() {
	for {
		select {
		case item := <-p.inbound:
			p.handleLine(item.sess, item.line)
		default:
			return
		}
	}
}

func (p *Pump) handleLine(sess *sessionState, line string) {
	cmd, err := ParseCommand(line)
	if err != nil {
		sess.transport.WriteLine("ERR PARSE reason=einval")
		return
	}

	origin := sess.transport.Source()
	result := p.Cmd.Dispatch(cmd, sess.getSession(), &sess.throttle, origin)
	sess.transport.WriteLine(result.Ack)
	if result.NextSess != nil {
		sess.setSession(result.NextSess)
	}
	sess.queueStream(result.Stream)
	if result.Disconnect {
		sess.setSession(nil)
	}
}
