// Package fakeunit runs loopback stand-ins for the ventilation gateway:
// a UDP discovery responder and a TCP endpoint that records every byte the
// bridge sends and can push frames back.
package fakeunit

import (
	"bytes"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/leonziegler/comfoairq/internal/protocol"
	"github.com/leonziegler/comfoairq/internal/schema"
)

// StartUDP runs a discovery responder on 127.0.0.1 that answers the probe
// with the given identity. Returns the port it listens on.
func StartUDP(t testing.TB, identity uuid.UUID) int {
	return StartUDPAt(t, identity, 0)
}

// StartUDPAt is StartUDP on a specific port, for tests that need the
// discovery responder and the TCP endpoint to share a port number the way
// the real unit does.
func StartUDPAt(t testing.TB, identity uuid.UUID, port int) int {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("fakeunit: bind udp: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	reply := schema.EncodeDiscovery(schema.Discovery{
		Address:  netip.MustParseAddr("127.0.0.1"),
		Identity: identity,
	})

	go func() {
		buf := make([]byte, 64)
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if !bytes.Equal(buf[:n], protocol.Probe) {
				continue
			}
			conn.WriteToUDP(reply, src)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

// TCPUnit accepts bridge connections on loopback. Each accepted connection
// gets its own recorded byte stream, so tests can assert both what was
// written and how many connects happened.
type TCPUnit struct {
	ln net.Listener

	mu      sync.Mutex
	streams [][]byte
	conns   []net.Conn
}

func StartTCP(t testing.TB) *TCPUnit {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakeunit: listen tcp: %v", err)
	}
	u := &TCPUnit{ln: ln}
	go u.acceptLoop()
	t.Cleanup(u.Close)
	return u
}

func (u *TCPUnit) acceptLoop() {
	for {
		c, err := u.ln.Accept()
		if err != nil {
			return
		}
		u.mu.Lock()
		idx := len(u.streams)
		u.streams = append(u.streams, nil)
		u.conns = append(u.conns, c)
		u.mu.Unlock()
		go u.readConn(idx, c)
	}
}

func (u *TCPUnit) readConn(idx int, c net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			u.mu.Lock()
			u.streams[idx] = append(u.streams[idx], buf[:n]...)
			u.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (u *TCPUnit) Port() int {
	return u.ln.Addr().(*net.TCPAddr).Port
}

// Conns reports how many connections have been accepted so far.
func (u *TCPUnit) Conns() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.conns)
}

// Stream returns a copy of the bytes received on connection i.
func (u *TCPUnit) Stream(i int) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	if i >= len(u.streams) {
		return nil
	}
	out := make([]byte, len(u.streams[i]))
	copy(out, u.streams[i])
	return out
}

// Push writes raw bytes to connection i, simulating gateway traffic.
func (u *TCPUnit) Push(i int, b []byte) error {
	u.mu.Lock()
	c := u.conns[i]
	u.mu.Unlock()
	_, err := c.Write(b)
	return err
}

// Drop closes connection i from the gateway side.
func (u *TCPUnit) Drop(i int) {
	u.mu.Lock()
	c := u.conns[i]
	u.mu.Unlock()
	c.Close()
}

// WaitConns polls until n connections have been accepted or the timeout
// elapses.
func (u *TCPUnit) WaitConns(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if u.Conns() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return u.Conns() >= n
}

// WaitStream polls until connection i has received at least n bytes.
func (u *TCPUnit) WaitStream(i, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(u.Stream(i)) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return len(u.Stream(i)) >= n
}

func (u *TCPUnit) Close() {
	u.ln.Close()
	u.mu.Lock()
	conns := u.conns
	u.conns = nil
	u.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
