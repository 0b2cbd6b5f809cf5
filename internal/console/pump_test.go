package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohesix/queenroot/internal/ninedoor"
	"github.com/cohesix/queenroot/internal/ticket"
)

type fakeNetPoller struct {
	rxCalls int
	txCalls int
}

func (f *fakeNetPoller) PollRX() [][]byte { f.rxCalls++; return nil }
func (f *fakeNetPoller) PollTX()          { f.txCalls++ }

func newTestPump(t *testing.T) (*Pump, *FakeUART) {
	t.Helper()
	uart := NewFakeUART()
	serial := NewSerialPort(uart)
	d, _ := newTestDispatcher(t, []byte("k"), ninedoor.NewStub())
	p := NewPump(serial, &fakeNetPoller{}, nil, d, d.Metrics, func() uint64 { return 1000 }, 16)
	return p, uart
}

func TestPumpTickProcessesSerialLine(t *testing.T) {
	p, uart := newTestPump(t)
	uart.PushRX("help\n")

	p.Tick()

	assert.Contains(t, string(uart.TXBytes()), "OK HELP")
}

func TestPumpTickAdvancesNetPoller(t *testing.T) {
	p, _ := newTestPump(t)
	fp := p.Net.(*fakeNetPoller)
	p.Tick()
	assert.Equal(t, 1, fp.rxCalls)
	assert.Equal(t, 1, fp.txCalls)
}

func TestPumpEnqueueProcessesNetLine(t *testing.T) {
	p, _ := newTestPump(t)

	var sent []string
	transport := &recordingTransport{}
	sess := p.RegisterNetSession(transport)
	p.Enqueue(sess, "ping")

	p.Tick()

	sent = transport.lines
	require.NotEmpty(t, sent)
	assert.Equal(t, "OK PING", sent[0])
}

func TestPumpAttachThenStreamDrainsInSameTick(t *testing.T) {
	p, _ := newTestPump(t)
	stub := p.Cmd.Bridge.(*ninedoor.Stub)
	stub.SetLines("/bus/events", []string{"a", "b"})

	key := []byte("k")
	raw := signTestTicket(t, key, testWireClaims{
		Role:       "worker-bus",
		IssuedAtMs: 1000,
		Scopes:     []testWireScope{{Path: "/bus/events", Verb: "read", RatePerS: 100}},
	})

	transport := &recordingTransport{}
	sess := p.RegisterNetSession(transport)
	p.Enqueue(sess, "attach worker-bus "+raw)
	p.Tick()
	require.Contains(t, transport.lines, "OK ATTACH role=worker-bus")

	p.Enqueue(sess, "tail /bus/events")
	p.Tick()

	require.Empty(t, sess.streams)
	require.GreaterOrEqual(t, len(transport.lines), 4)
	assert.Equal(t, []string{"OK TAIL", "a", "b", "END"}, transport.lines[len(transport.lines)-4:])
}

func TestSessionStateAttachedIsThreadSafe(t *testing.T) {
	s := &sessionState{}
	assert.False(t, s.Attached())
	s.setSession(&Session{Role: ticket.RoleQueen})
	assert.True(t, s.Attached())
}

type recordingTransport struct {
	lines []string
}

func (r *recordingTransport) WriteLine(line string) bool {
	r.lines = append(r.lines, line)
	return true
}

func (r *recordingTransport) Source() InputSource { return SourceNet }
