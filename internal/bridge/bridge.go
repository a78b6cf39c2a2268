package bridge

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leonziegler/comfoairq/internal/config"
	"github.com/leonziegler/comfoairq/internal/discovery"
	"github.com/leonziegler/comfoairq/internal/protocol"
	"github.com/leonziegler/comfoairq/internal/schema"
)

// Bridge is the root of the stack: it runs discovery, sequences transmits
// against connection readiness, and fans inbound frames out as events.
type Bridge struct {
	sess Session
	dec  schema.Decoder

	events  chan Event
	dropped atomic.Uint64

	// discovered is closed exactly once, when the remote identity pair
	// becomes known. Transmit blocks on it instead of polling a flag.
	discovered chan struct{}
	discOnce   sync.Once

	smu      sync.RWMutex
	settings config.Settings

	// tmu serializes the connect-then-write sequence; cm is atomic so
	// State and Close need not contend with an in-flight transmit.
	tmu sync.Mutex
	cm  atomic.Pointer[connManager]
}

// Option adjusts a Bridge at construction.
type Option func(*Bridge)

// WithSession overrides the reliability defaults.
func WithSession(s Session) Option {
	return func(b *Bridge) { b.sess = s }
}

// WithDecoder replaces the schema collaborator.
func WithDecoder(d schema.Decoder) Option {
	return func(b *Bridge) { b.dec = d }
}

// New validates cfg and builds a bridge for it. A settings value that
// already carries the remote pair counts as discovered.
func New(cfg config.Settings, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bridge{
		sess:       DefaultSession(),
		dec:        schema.GatewayDecoder{},
		discovered: make(chan struct{}),
		settings:   cfg,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.sess = b.sess.WithDefaults()
	b.events = make(chan Event, b.sess.EventBuffer)

	if cfg.Discovered() {
		b.discOnce.Do(func() { close(b.discovered) })
	}
	return b, nil
}

// Events returns the notification channel. It is never closed; consumers
// stop reading when they are done with the bridge.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Settings returns a copy of the current settings.
func (b *Bridge) Settings() config.Settings {
	b.smu.RLock()
	defer b.smu.RUnlock()
	return b.settings
}

// State reports the current connection state.
func (b *Bridge) State() State {
	cm := b.cm.Load()
	if cm == nil {
		return StateDisconnected
	}
	return cm.currentState()
}

// Discover probes for the gateway and records its address and identity.
// On failure the settings are left untouched. May be called again later;
// a repeat overwrites the remote pair.
func (b *Bridge) Discover(ctx context.Context) (config.Settings, error) {
	b.smu.RLock()
	p := &discovery.Prober{
		Port:    b.settings.Port,
		Group:   b.settings.Group,
		Decoder: b.dec,
	}
	known := b.settings.RemoteAddr
	b.smu.RUnlock()

	found, err := p.Probe(ctx, known)
	if err != nil {
		return config.Settings{}, err
	}

	b.smu.Lock()
	b.settings.RemoteAddr = found.Address
	b.settings.RemoteID = found.Identity
	cfg := b.settings
	b.smu.Unlock()

	b.discOnce.Do(func() { close(b.discovered) })
	log.Info().
		Str("component", "bridge").
		Str("address", found.Address.String()).
		Str("identity", found.Identity.String()).
		Msg("gateway known")
	return cfg, nil
}

// Transmit sends one operation+command message. It waits for discovery to
// complete, replaces a destroyed socket handle with a fresh one, connects
// if needed, and resolves only after the write has gone through. At most
// one transmit runs this sequence at a time.
func (b *Bridge) Transmit(ctx context.Context, op, cmd []byte) error {
	b.tmu.Lock()
	defer b.tmu.Unlock()

	select {
	case <-b.discovered:
	case <-ctx.Done():
		return fmt.Errorf("bridge: awaiting discovery: %w", ctx.Err())
	}

	b.smu.RLock()
	local := b.settings.LocalID
	remote := b.settings.RemoteID
	addr := net.JoinHostPort(b.settings.RemoteAddr.String(), strconv.Itoa(b.settings.Port))
	b.smu.RUnlock()

	cm := b.cm.Load()
	if cm == nil || cm.destroyed() {
		cm = newConnManager(b.sess, b.publish, b.handleFrame)
		b.cm.Store(cm)
	}
	if cm.currentState() == StateDisconnected {
		cm.connect(addr)
	}

	timer := time.NewTimer(b.sess.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-cm.ready:
	case <-cm.done:
		return ErrNotConnected
	case <-timer.C:
		return ErrConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	frame, err := protocol.EncodeFrame(local, remote, op, cmd)
	if err != nil {
		return err
	}
	return cm.write(frame)
}

// KeepAlive transmits the keep-alive operation that holds the gateway
// session open.
func (b *Bridge) KeepAlive(ctx context.Context) error {
	return b.Transmit(ctx, schema.Operation(schema.OpKeepAlive), nil)
}

// Close tears down the live connection, if any. The bridge stays usable;
// the next transmit builds a fresh handle.
func (b *Bridge) Close() error {
	if cm := b.cm.Load(); cm != nil {
		cm.shutdown()
	}
	return nil
}

func (b *Bridge) handleFrame(f *protocol.Frame) {
	f.Kind, f.Msg = b.dec.Classify(f.Payload)
	b.publish(Event{Kind: EventFrame, Time: f.ReceivedAt, Frame: f})
}

func (b *Bridge) publish(ev Event) {
	select {
	case b.events <- ev:
	default:
		n := b.dropped.Add(1)
		log.Debug().
			Str("component", "bridge").
			Str("kind", ev.Kind.String()).
			Uint64("dropped", n).
			Msg("event buffer full, notification dropped")
	}
}
