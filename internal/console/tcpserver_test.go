package console

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cohesix/queenroot/internal/logging"
	"github.com/cohesix/queenroot/internal/ninedoor"
)

func newTestTCPServer(t *testing.T) (*TCPServer, *Pump) {
	t.Helper()
	uart := NewFakeUART()
	serial := NewSerialPort(uart)
	d, _ := newTestDispatcher(t, []byte("k"), ninedoor.NewStub())
	pump := NewPump(serial, &fakeNetPoller{}, nil, d, d.Metrics, func() uint64 { return 1000 }, 16)
	srv := &TCPServer{Pump: pump, Metrics: d.Metrics, Logger: logging.Default(), IdleTimeout: 5 * time.Second}
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	srv.Serve()
	t.Cleanup(func() { srv.Stop() })
	return srv, pump
}

func TestTCPServerAcceptsAndRepliesToPing(t *testing.T) {
	srv, pump := newTestTCPServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	banner, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, banner, "Cohesix")

	_, err = reader.ReadString('\n') // prompt
	require.NoError(t, err)

	_, err = conn.Write([]byte("ping\n"))
	require.NoError(t, err)

	// Give the reader goroutine a moment to enqueue, then run a tick to
	// process it the way the production pump loop would.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pump.Tick()
		time.Sleep(5 * time.Millisecond)
		conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		line, rerr := reader.ReadString('\n')
		if rerr == nil {
			require.Contains(t, line, "OK PING")
			return
		}
	}
	t.Fatal("did not receive OK PING reply in time")
}
