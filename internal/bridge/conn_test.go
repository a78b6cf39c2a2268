package bridge

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leonziegler/comfoairq/internal/protocol"
	"github.com/leonziegler/comfoairq/internal/testutil/fakeunit"
	"github.com/leonziegler/comfoairq/internal/testutil/testlog"
)

func shortSession() Session {
	return Session{
		ConnectTimeout:  time.Second,
		IdleTimeout:     100 * time.Millisecond,
		KeepAlivePeriod: time.Second,
		WriteTimeout:    time.Second,
		EventBuffer:     16,
	}
}

func startManager(t *testing.T, unit *fakeunit.TCPUnit, sess Session) (*connManager, chan Event) {
	t.Helper()
	events := make(chan Event, sess.EventBuffer)
	m := newConnManager(sess, func(ev Event) { events <- ev }, func(*protocol.Frame) {})
	m.connect(fmt.Sprintf("127.0.0.1:%d", unit.Port()))

	select {
	case <-m.ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("connection never became ready")
	}
	if !unit.WaitConns(1, 2*time.Second) {
		t.Fatalf("unit never accepted the connection")
	}
	return m, events
}

func nextEvent(t *testing.T, events chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for an event")
		return Event{}
	}
}

func TestIdleTimeoutErrorThenDisconnect(t *testing.T) {
	testlog.Start(t)

	unit := fakeunit.StartTCP(t)
	m, events := startManager(t, unit, shortSession())

	if ev := nextEvent(t, events, time.Second); ev.Kind != EventConnected {
		t.Fatalf("first event = %s, want connected", ev.Kind)
	}

	// The unit stays silent; the idle window must expire.
	ev := nextEvent(t, events, 2*time.Second)
	if ev.Kind != EventError {
		t.Fatalf("second event = %s, want error", ev.Kind)
	}
	if !errors.Is(ev.Err, ErrIdleTimeout) {
		t.Fatalf("error = %v, want ErrIdleTimeout", ev.Err)
	}

	ev = nextEvent(t, events, 2*time.Second)
	if ev.Kind != EventDisconnected {
		t.Fatalf("third event = %s, want disconnected", ev.Kind)
	}
	if !ev.HadError {
		t.Fatalf("disconnect after timeout should report HadError")
	}

	if got := m.currentState(); got != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
	if !m.destroyed() {
		t.Fatalf("handle should be destroyed after timeout")
	}

	// Exactly one error and one disconnect: nothing else may follow.
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %s", ev.Kind)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRemoteCloseEmitsDisconnect(t *testing.T) {
	testlog.Start(t)

	unit := fakeunit.StartTCP(t)
	sess := shortSession()
	sess.IdleTimeout = 5 * time.Second
	m, events := startManager(t, unit, sess)

	if ev := nextEvent(t, events, time.Second); ev.Kind != EventConnected {
		t.Fatalf("first event = %s, want connected", ev.Kind)
	}

	unit.Drop(0)

	ev := nextEvent(t, events, 2*time.Second)
	if ev.Kind != EventDisconnected {
		t.Fatalf("event = %s, want disconnected", ev.Kind)
	}
	if ev.HadError {
		t.Fatalf("clean remote close should not report HadError")
	}
	if !m.destroyed() {
		t.Fatalf("handle should be destroyed after remote close")
	}
}

func TestShutdownIsQuietOnErrors(t *testing.T) {
	testlog.Start(t)

	unit := fakeunit.StartTCP(t)
	sess := shortSession()
	sess.IdleTimeout = 5 * time.Second
	m, events := startManager(t, unit, sess)

	if ev := nextEvent(t, events, time.Second); ev.Kind != EventConnected {
		t.Fatalf("first event = %s, want connected", ev.Kind)
	}

	m.shutdown()

	ev := nextEvent(t, events, 2*time.Second)
	if ev.Kind != EventDisconnected || ev.HadError {
		t.Fatalf("event = %s (hadError=%t), want clean disconnect", ev.Kind, ev.HadError)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after shutdown: %s", ev.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWriteOnDestroyedHandle(t *testing.T) {
	testlog.Start(t)

	unit := fakeunit.StartTCP(t)
	sess := shortSession()
	sess.IdleTimeout = 5 * time.Second
	m, events := startManager(t, unit, sess)
	_ = nextEvent(t, events, time.Second)

	m.shutdown()
	<-m.done

	if err := m.write([]byte{0, 0, 0, 0}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("write on destroyed handle: got %v, want ErrNotConnected", err)
	}
}

func TestDialFailureDestroysHandle(t *testing.T) {
	testlog.Start(t)

	events := make(chan Event, 16)
	m := newConnManager(shortSession(), func(ev Event) { events <- ev }, func(*protocol.Frame) {})
	// Reserved port with nothing listening.
	m.connect("127.0.0.1:1")

	select {
	case <-m.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("dial failure did not destroy the handle")
	}

	ev := nextEvent(t, events, time.Second)
	if ev.Kind != EventError || ev.Err == nil {
		t.Fatalf("event = %s (err=%v), want error", ev.Kind, ev.Err)
	}
	select {
	case <-m.ready:
		t.Fatalf("ready must never fire after a dial failure")
	default:
	}
}
