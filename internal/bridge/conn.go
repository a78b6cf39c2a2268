package bridge

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leonziegler/comfoairq/internal/protocol"
)

var (
	ErrNotConnected   = errors.New("bridge: not connected")
	ErrConnectTimeout = errors.New("bridge: connect timed out")
	ErrIdleTimeout    = errors.New("bridge: timeout")
)

// connManager owns a single TCP connection for its entire lifetime. It is
// single-use: once done is closed the handle is destroyed and the manager
// must be replaced, never reconnected.
type connManager struct {
	sess    Session
	publish func(Event)
	onFrame func(*protocol.Frame)

	mu      sync.Mutex
	conn    *net.TCPConn
	state   State
	closing bool

	ready     chan struct{} // closed once, when the link comes up
	readyOnce sync.Once
	done      chan struct{} // closed once, when the handle is destroyed
	doneOnce  sync.Once
}

func newConnManager(sess Session, publish func(Event), onFrame func(*protocol.Frame)) *connManager {
	return &connManager{
		sess:    sess,
		publish: publish,
		onFrame: onFrame,
		state:   StateDisconnected,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *connManager) currentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *connManager) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

func (m *connManager) destroyed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// connect starts dialing addr in the background. Readiness is signalled by
// closing the ready channel; a dial failure destroys the manager instead.
func (m *connManager) connect(addr string) {
	m.mu.Lock()
	if m.state != StateDisconnected || m.destroyed() {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	go m.dial(addr)
}

func (m *connManager) dial(addr string) {
	d := net.Dialer{Timeout: m.sess.ConnectTimeout}
	c, err := d.Dial("tcp4", addr)
	if err != nil {
		log.Warn().Str("component", "conn").Str("addr", addr).Err(err).Msg("dial failed")
		m.publish(Event{Kind: EventError, Time: time.Now(), Err: err})
		m.teardown(true, false)
		return
	}

	tcp := c.(*net.TCPConn)
	tcp.SetNoDelay(true)
	tcp.SetKeepAlive(true)
	tcp.SetKeepAlivePeriod(m.sess.KeepAlivePeriod)

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		tcp.Close()
		return
	}
	m.conn = tcp
	m.state = StateConnected
	m.mu.Unlock()

	log.Debug().Str("component", "conn").Str("addr", addr).Msg("connected")
	m.readyOnce.Do(func() { close(m.ready) })
	m.publish(Event{Kind: EventConnected, Time: time.Now()})

	go m.readLoop(tcp)
}

func (m *connManager) readLoop(conn *net.TCPConn) {
	dec := protocol.NewDecoder()
	buf := make([]byte, 16*1024)

	for {
		conn.SetReadDeadline(time.Now().Add(m.sess.IdleTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			frames, derr := dec.Feed(buf[:n])
			for i := range frames {
				m.onFrame(&frames[i])
			}
			if derr != nil {
				m.fail(derr)
				return
			}
		}
		if err == nil {
			continue
		}

		if m.isClosing() {
			// Close() already tore the handle down; the read error is
			// just the socket going away underneath us.
			return
		}

		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			if m.currentState() != StateConnected {
				// The caller already knows the link is down; no public
				// notification, just log and reset.
				log.Debug().Str("component", "conn").Msg("idle timer fired while not connected")
				m.teardown(false, false)
				return
			}
			log.Warn().Str("component", "conn").Dur("idle", m.sess.IdleTimeout).Msg("connection idle timeout")
			m.fail(ErrIdleTimeout)
			return
		case errors.Is(err, io.EOF):
			log.Debug().Str("component", "conn").Msg("remote closed the stream")
			m.teardown(false, true)
			return
		default:
			m.fail(err)
			return
		}
	}
}

// fail reports one transport error and then runs the close sequence. Errors
// are never retried here; reconnecting is the bridge's decision.
func (m *connManager) fail(err error) {
	m.publish(Event{Kind: EventError, Time: time.Now(), Err: err})
	m.teardown(true, true)
}

// write sends one already-framed message. A write error is returned to the
// caller one-to-one and destroys the handle; it is not additionally
// published as an error event.
func (m *connManager) write(b []byte) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if m.destroyed() || conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(m.sess.WriteTimeout))
	if _, err := conn.Write(b); err != nil {
		m.teardown(true, true)
		return err
	}
	return nil
}

// shutdown closes the link on the caller's initiative.
func (m *connManager) shutdown() {
	m.teardown(false, true)
}

// teardown closes the socket, marks the handle destroyed and, when emit is
// set, publishes the disconnect notification. Safe to call more than once;
// only the first call does anything.
func (m *connManager) teardown(hadError, emit bool) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.closing = true
	conn := m.conn
	m.conn = nil
	m.state = StateClosing
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	m.doneOnce.Do(func() { close(m.done) })

	if emit {
		m.publish(Event{Kind: EventDisconnected, Time: time.Now(), HadError: hadError})
	}
}
