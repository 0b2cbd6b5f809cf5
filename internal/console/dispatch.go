package console

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cohesix/queenroot/internal/kerr"
	"github.com/cohesix/queenroot/internal/logging"
	"github.com/cohesix/queenroot/internal/metrics"
	"github.com/cohesix/queenroot/internal/ninedoor"
	"github.com/cohesix/queenroot/internal/ticket"
)

// Dispatcher executes parsed Commands against a Session, enforcing the
// authorization matrix and ticket scopes of spec §4.6 before handing
// anything off to the NineDoor bridge or the diagnostics seam.
type Dispatcher struct {
	Validator *ticket.Validator
	Login     *ticket.LoginLimiter
	Bridge    ninedoor.Bridge
	Diag      Diagnostics
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
	NowMs     func() uint64

	DefaultCacheLogCount int
}

// Result is the outcome of one dispatched command: the immediate ack line,
// an optional deferred stream the pump drains across subsequent cycles, an
// updated session (non-nil only on a successful attach), and whether the
// session should be torn down after the ack is flushed.
type Result struct {
	Ack        string
	Stream     *pendingStream
	NextSess   *Session
	Disconnect bool
}

func ack(verb Verb, kv ...string) Result {
	return Result{Ack: formatLine("OK", verb, kv)}
}

func errResult(verb Verb, reason string, kv ...string) Result {
	return Result{Ack: formatLine("ERR", verb, append([]string{"reason=" + reason}, kv...))}
}

func formatLine(status string, verb Verb, kv []string) string {
	line := status + " " + string(verb)
	for _, pair := range kv {
		line += " " + pair
	}
	return line
}

// reasonFor maps a kerr.Code to the short token the wire protocol uses in
// reason=<kind> (spec §6): lower-case, no spaces.
func reasonFor(err error) string {
	code := kerr.CodeFatal
	if ke, ok := err.(*kerr.Error); ok {
		code = ke.Code
	} else if wrapped, ok := err.(*ninedoor.Error); ok {
		return reasonFor(wrapped.Err)
	}
	switch code {
	case kerr.CodePermissionDenied:
		return "EPERM"
	case kerr.CodeRateLimited:
		return "ELIMIT"
	case kerr.CodeQuotaExceeded:
		return "ELIMIT"
	case kerr.CodeInvalidPath:
		return "epath"
	case kerr.CodeInvalidClaims:
		return "invalid-claims"
	case kerr.CodeExpired:
		return "expired"
	case kerr.CodeUnauthenticated:
		return "eauth"
	case kerr.CodeInvalidArgument:
		return "einval"
	case kerr.CodeUnavailable:
		return "eunavailable"
	case kerr.CodeBridgeError:
		return "ebridge"
	default:
		return "efail"
	}
}

// minClassFor reports the session class a verb requires, per the
// authorization matrix (spec §4.6). echo's minimum depends on path: a
// /bus/ or /lora/ destination is Worker-reachable, anything else is
// Queen-only.
func minClassFor(verb Verb, path string) ticket.SessionClass {
	switch verb {
	case VerbHelp, VerbBootInfo, VerbCaps, VerbMem, VerbPing, VerbTest, VerbNetTest, VerbNetStats, VerbQuit, VerbAttach:
		return ticket.ClassWorker
	case VerbTail, VerbCat, VerbLs:
		return ticket.ClassWorker
	case VerbEcho:
		if isWorkerPath(path) {
			return ticket.ClassWorker
		}
		return ticket.ClassQueen
	case VerbLog, VerbSpawn, VerbKill, VerbCacheLog:
		return ticket.ClassQueen
	default:
		return ticket.ClassQueen
	}
}

func isWorkerPath(path string) bool {
	return strings.HasPrefix(path, "/bus/") || strings.HasPrefix(path, "/lora/")
}

// unrestrictedVerbs need no attached session at all: they are safe to run
// against an anonymous connection before (or instead of) ATTACH.
var unrestrictedVerbs = map[Verb]bool{
	VerbAttach:   true,
	VerbHelp:     true,
	VerbPing:     true,
	VerbBootInfo: true,
	VerbCaps:     true,
	VerbMem:      true,
	VerbQuit:     true,
	VerbTest:     true,
	VerbNetTest:  true,
	VerbNetStats: true,
}

// Dispatch executes cmd against session (nil before attach) and returns the
// line(s) to send back plus any state change the caller (pump.go) must
// apply: a new session on ATTACH, a deferred stream to drain, or a
// disconnect signal for QUIT.
func (d *Dispatcher) Dispatch(cmd Command, session *Session, throttle *ticket.AuthThrottle, origin InputSource) Result {
	if !unrestrictedVerbs[cmd.Verb] && !ensureAuthenticated(session, minClassFor(cmd.Verb, cmd.Path)) {
		d.Metrics.DeniedCommands.Add(1)
		return errResult(cmd.Verb, "eauth")
	}

	switch cmd.Verb {
	case VerbHelp:
		return d.handleHelp()
	case VerbBootInfo:
		return d.handleSummary(VerbBootInfo, d.Diag.BootInfoSummary)
	case VerbCaps:
		return d.handleSummary(VerbCaps, d.Diag.CapsSummary)
	case VerbMem:
		return d.handleSummary(VerbMem, d.Diag.MemSummary)
	case VerbPing:
		d.Metrics.AcceptedCommands.Add(1)
		return ack(VerbPing)
	case VerbTest:
		d.Metrics.AcceptedCommands.Add(1)
		return ack(VerbTest, "detail=selftest-ok")
	case VerbNetTest:
		return d.handleNetTest()
	case VerbNetStats:
		return d.handleNetStats()
	case VerbQuit:
		d.Metrics.AcceptedCommands.Add(1)
		return Result{Ack: formatLine("OK", VerbQuit, nil), Disconnect: true}
	case VerbAttach:
		return d.handleAttach(cmd, throttle, origin)
	case VerbTail:
		return d.handleStream(VerbTail, cmd.Path, session, true)
	case VerbCat:
		return d.handleStream(VerbCat, cmd.Path, session, false)
	case VerbLs:
		return d.handleList(cmd.Path, session)
	case VerbLog:
		return d.handleLog(session)
	case VerbEcho:
		return d.handleEcho(cmd, session)
	case VerbSpawn:
		return d.handleSpawn(cmd, session)
	case VerbKill:
		return d.handleKill(cmd, session)
	case VerbCacheLog:
		return d.handleCacheLog(cmd)
	default:
		return errResult(cmd.Verb, "einval")
	}
}

func (d *Dispatcher) handleHelp() Result {
	d.Metrics.AcceptedCommands.Add(1)
	return ack(VerbHelp, "detail=help,bi,caps,mem,ping,test,nettest,netstats,quit,attach,tail,cat,ls,log,echo,spawn,kill,cachelog")
}

func (d *Dispatcher) handleSummary(verb Verb, get func() (map[string]any, bool)) Result {
	summary, ok := get()
	if !ok {
		d.Metrics.DeniedCommands.Add(1)
		return errResult(verb, "eunavailable")
	}
	d.Metrics.AcceptedCommands.Add(1)
	return ack(verb, "detail="+formatSummary(summary))
}

func formatSummary(summary map[string]any) string {
	var b strings.Builder
	first := true
	for k, v := range summary {
		if !first {
			b.WriteByte(',')
		}
		first = false
		fmt.Fprintf(&b, "%s=%v", k, v)
	}
	return b.String()
}

func (d *Dispatcher) handleNetTest() Result {
	d.Metrics.AcceptedCommands.Add(1)
	return ack(VerbNetTest, "detail=loopback-ok")
}

func (d *Dispatcher) handleNetStats() Result {
	snap := d.Metrics.Snapshot()
	d.Metrics.AcceptedCommands.Add(1)
	return ack(VerbNetStats,
		fmt.Sprintf("rx=%d", snap.RXFrames),
		fmt.Sprintf("tx=%d", snap.TXFrames),
		fmt.Sprintf("rx_drops=%d", snap.RXDrops),
		fmt.Sprintf("tx_drops=%d", snap.TXDrops))
}

func (d *Dispatcher) handleAttach(cmd Command, throttle *ticket.AuthThrottle, origin InputSource) Result {
	now := d.NowMs()
	if throttle != nil {
		if blocked, remaining := throttle.Check(now); blocked {
			return errResult(VerbAttach, "ELIMIT", fmt.Sprintf("retry_ms=%d", remaining))
		}
	}
	if d.Login != nil && !d.Login.Allow() {
		return errResult(VerbAttach, "ELIMIT")
	}

	role, ok := ticket.ParseRole(cmd.Role)
	if !ok {
		if throttle != nil {
			throttle.RegisterFailure(now)
		}
		d.Metrics.AuthFailures.Add(1)
		return errResult(VerbAttach, "einval")
	}

	sess, err := d.Validator.Attach(role, cmd.Ticket)
	if err != nil {
		if throttle != nil {
			throttle.RegisterFailure(now)
		}
		d.Metrics.AuthFailures.Add(1)
		auditDenial(d.Logger, reasonFor(err), cmd.Role, cmd.Ticket, "", string(VerbAttach))
		return errResult(VerbAttach, reasonFor(err))
	}

	if throttle != nil {
		throttle.RegisterSuccess()
	}
	next := &Session{ID: uuid.New(), Role: sess.Role, Ticket: sess.Ticket, Usage: sess.Usage, Origin: origin}
	auditAttach(d.Logger, "ok", sess.Role.String(), next.ID, origin)
	return Result{Ack: formatLine("OK", VerbAttach, []string{"role=" + sess.Role.String()}), NextSess: next}
}

// checkTicketAccess runs the ticket enforcement sequence for a namespace
// operation (spec §4.6 steps 1-3): path split, scope match, rate limit.
// A nil Usage (bare Queen session) always passes.
func (d *Dispatcher) checkTicketAccess(session *Session, path string, verb ticket.Verb, allowAncestor bool) ([]string, error) {
	parts, err := ticket.SplitRequestPath(path)
	if err != nil {
		return nil, err
	}
	if session.Usage == nil {
		return parts, nil
	}
	if err := session.Usage.CheckScope(parts, verb, allowAncestor); err != nil {
		return nil, err
	}
	return parts, nil
}

func (d *Dispatcher) handleStream(verb Verb, path string, session *Session, tailSemantics bool) Result {
	if _, err := d.checkTicketAccess(session, path, ticket.VerbRead, false); err != nil {
		d.Metrics.UIDenies.Add(1)
		auditDenial(d.Logger, reasonFor(err), session.Role.String(), session.Ticket, path, string(verb))
		return errResult(verb, reasonFor(err))
	}

	var offset uint64
	if tailSemantics && session.Usage != nil {
		offset = session.Usage.CursorOffset(path)
	}

	var lines []string
	var err error
	if tailSemantics {
		lines, err = d.Bridge.Tail(path, offset, d.Logger)
	} else {
		lines, err = d.Bridge.Cat(path)
	}
	if err != nil {
		wrapped := ninedoor.WrapError(string(verb), err)
		auditBridgeError(d.Logger, string(verb), wrapped)
		return errResult(verb, "ebridge")
	}

	var bandwidth uint64
	for _, l := range lines {
		bandwidth += uint64(len(l))
	}
	if session.Usage != nil {
		if err := session.Usage.CheckBandwidth(bandwidth); err != nil {
			d.Metrics.UIDenies.Add(1)
			return errResult(verb, reasonFor(err))
		}
	}

	d.Metrics.UIReads.Add(1)
	stream := &pendingStream{lines: lines, bandwidthBytes: bandwidth, usage: session.Usage}
	if tailSemantics && session.Usage != nil {
		check, err := session.Usage.CheckCursor(path, offset)
		if err != nil {
			return errResult(verb, reasonFor(err))
		}
		stream.cursor = &pendingCursor{pathKey: path, offset: offset, length: int(bandwidth), check: check}
	}
	return Result{Ack: formatLine("OK", verb, nil), Stream: stream}
}

func (d *Dispatcher) handleList(path string, session *Session) Result {
	if _, err := d.checkTicketAccess(session, path, ticket.VerbRead, true); err != nil {
		d.Metrics.UIDenies.Add(1)
		auditDenial(d.Logger, reasonFor(err), session.Role.String(), session.Ticket, path, string(VerbLs))
		return errResult(VerbLs, reasonFor(err))
	}
	entries, err := d.Bridge.List(path)
	if err != nil {
		auditBridgeError(d.Logger, string(VerbLs), ninedoor.WrapError(string(VerbLs), err))
		return errResult(VerbLs, "ebridge")
	}
	d.Metrics.UIReads.Add(1)
	return Result{Ack: formatLine("OK", VerbLs, nil), Stream: &pendingStream{lines: entries}}
}

func (d *Dispatcher) handleLog(session *Session) Result {
	if err := d.Bridge.LogStream(d.Logger); err != nil {
		auditBridgeError(d.Logger, string(VerbLog), ninedoor.WrapError(string(VerbLog), err))
		return errResult(VerbLog, "ebridge")
	}
	d.Metrics.AcceptedCommands.Add(1)
	return ack(VerbLog)
}

func (d *Dispatcher) handleEcho(cmd Command, session *Session) Result {
	if _, err := d.checkTicketAccess(session, cmd.Path, ticket.VerbWrite, false); err != nil {
		d.Metrics.DeniedCommands.Add(1)
		auditDenial(d.Logger, reasonFor(err), session.Role.String(), session.Ticket, cmd.Path, string(VerbEcho))
		return errResult(VerbEcho, reasonFor(err))
	}
	if session.Usage != nil {
		if err := session.Usage.CheckBandwidth(uint64(len(cmd.Payload))); err != nil {
			return errResult(VerbEcho, reasonFor(err))
		}
	}
	if err := d.Bridge.Echo(cmd.Path, cmd.Payload); err != nil {
		auditBridgeError(d.Logger, string(VerbEcho), ninedoor.WrapError(string(VerbEcho), err))
		return errResult(VerbEcho, "ebridge")
	}
	if session.Usage != nil {
		session.Usage.ConsumeBandwidth(uint64(len(cmd.Payload)))
	}
	d.Metrics.AcceptedCommands.Add(1)
	return ack(VerbEcho)
}

func (d *Dispatcher) handleSpawn(cmd Command, session *Session) Result {
	if err := d.Bridge.Spawn(cmd.Payload, d.Logger); err != nil {
		auditBridgeError(d.Logger, string(VerbSpawn), ninedoor.WrapError(string(VerbSpawn), err))
		return errResult(VerbSpawn, "ebridge")
	}
	d.Metrics.AcceptedCommands.Add(1)
	return ack(VerbSpawn)
}

func (d *Dispatcher) handleKill(cmd Command, session *Session) Result {
	if err := d.Bridge.Kill(cmd.ID, d.Logger); err != nil {
		auditBridgeError(d.Logger, string(VerbKill), ninedoor.WrapError(string(VerbKill), err))
		return errResult(VerbKill, "ebridge")
	}
	d.Metrics.AcceptedCommands.Add(1)
	return ack(VerbKill)
}

func (d *Dispatcher) handleCacheLog(cmd Command) Result {
	count := cmd.Count
	if count == 0 {
		count = d.DefaultCacheLogCount
	}
	lines, ok := d.Diag.CacheLogLines(count)
	if !ok {
		return errResult(VerbCacheLog, "eunavailable")
	}
	d.Metrics.AcceptedCommands.Add(1)
	return Result{Ack: formatLine("OK", VerbCacheLog, nil), Stream: &pendingStream{lines: lines}}
}
