package console

import (
	"bufio"
	"net"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/cohesix/queenroot/internal/logging"
	"github.com/cohesix/queenroot/internal/metrics"
)

// A connection starts anonymous (no Session) and stays there until ATTACH
// succeeds; Dispatch's unrestrictedVerbs set is what actually gates which
// commands an anonymous connection may run, so there is no separate
// handshake state machine to track here.

const (
	defaultOutboundQueueSize = 64
	defaultIdleTimeout       = 5 * time.Minute
)

// TCPServer accepts console connections on a fixed port, running each
// under a supervised goroutine pair (reader + writer) so the pump itself
// never blocks on socket I/O.
type TCPServer struct {
	Pump        *Pump
	Metrics     *metrics.Metrics
	Logger      *logging.Logger
	IdleTimeout time.Duration

	listener net.Listener
	tomb     tomb.Tomb
}

// Listen binds the console's TCP port. Call Serve to start accepting.
func (s *TCPServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	if s.IdleTimeout == 0 {
		s.IdleTimeout = defaultIdleTimeout
	}
	return nil
}

// Addr returns the bound listener address, valid after a successful Listen.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop under the server's tomb until Stop is called.
func (s *TCPServer) Serve() {
	s.tomb.Go(func() error {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.tomb.Dying():
					return nil
				default:
					s.Logger.Warn("tcp accept failed", "error", err.Error())
					continue
				}
			}
			s.Metrics.TCPAccepts.Add(1)
			c := &tcpConn{conn: conn, out: make(chan string, defaultOutboundQueueSize), idleTimeout: s.IdleTimeout, metrics: s.Metrics}
			sess := s.Pump.RegisterNetSession(c)
			s.tomb.Go(func() error { c.writerLoop(); return nil })
			s.tomb.Go(func() error { s.readerLoop(c, sess); return nil })
		}
	})
}

// Stop closes the listener and every live connection, then waits for the
// supervised goroutines to exit.
func (s *TCPServer) Stop() error {
	s.tomb.Kill(nil)
	if s.listener != nil {
		s.listener.Close()
	}
	return s.tomb.Wait()
}

func (s *TCPServer) readerLoop(c *tcpConn, sess *sessionState) {
	defer c.conn.Close()
	defer close(c.out)
	defer s.Pump.UnregisterNetSession(sess)

	c.WriteLine("[Cohesix] Root console ready (type 'help' for commands)")
	c.WriteLine("cohesix> ")

	c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.Pump.Enqueue(sess, line)
	}

	if ne, ok := scanner.Err().(net.Error); ok && ne.Timeout() {
		if !sess.Attached() {
			c.WriteLine("ERR ATTACH reason=timeout")
		} else {
			c.WriteLine("ERR CONSOLE reason=timeout")
		}
	}
}

// tcpConn is a Transport over one accepted TCP connection: a bounded
// outbound queue drained by a writer goroutine, drop-oldest on overflow
// per spec §4.8.
type tcpConn struct {
	conn        net.Conn
	out         chan string
	idleTimeout time.Duration
	metrics     *metrics.Metrics
}

func (c *tcpConn) WriteLine(line string) bool {
	select {
	case c.out <- line:
		return true
	default:
		select {
		case <-c.out:
			c.metrics.TCPTxDrops.Add(1)
		default:
		}
		select {
		case c.out <- line:
			return false
		default:
			return false
		}
	}
}

func (c *tcpConn) Source() InputSource { return SourceNet }

func (c *tcpConn) writeRaw(line string) {
	c.conn.SetWriteDeadline(time.Now().Add(c.idleTimeout))
	c.conn.Write([]byte(line + "\r\n"))
}

func (c *tcpConn) writerLoop() {
	for line := range c.out {
		c.writeRaw(line)
	}
}
