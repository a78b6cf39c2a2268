package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"

	"github.com/leonziegler/comfoairq/internal/protocol"
	"github.com/leonziegler/comfoairq/internal/schema"
)

// DefaultReplyWait bounds the wait for the single discovery reply when the
// caller's context carries no deadline.
const DefaultReplyWait = 5 * time.Second

var (
	ErrProbeFailed = errors.New("discovery: probe failed")
	ErrNoTarget    = errors.New("discovery: no group or known address to probe")
)

// Prober performs one discovery handshake per Probe call.
type Prober struct {
	Port    int
	Group   netip.Addr // broadcast or multicast probe destination
	Decoder schema.Decoder
	Timeout time.Duration
}

// Probe sends the discovery probe and waits for exactly one reply. When
// known is valid the probe goes unicast to it; otherwise it goes to the
// configured group with broadcast enabled, joining the group first when it
// is a multicast address.
//
// The result is returned only after the UDP socket has been closed, so the
// local handle is guaranteed released before the caller proceeds.
func (p *Prober) Probe(ctx context.Context, known netip.Addr) (schema.Discovery, error) {
	if err := ctx.Err(); err != nil {
		return schema.Discovery{}, err
	}
	dest := known
	if !dest.IsValid() {
		dest = p.Group
	}
	if !dest.IsValid() {
		return schema.Discovery{}, ErrNoTarget
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return schema.Discovery{}, fmt.Errorf("%w: bind: %v", ErrProbeFailed, err)
	}

	found, err := p.exchange(ctx, conn, dest, known.IsValid())
	closeErr := conn.Close()
	if err != nil {
		return schema.Discovery{}, err
	}
	if closeErr != nil {
		return schema.Discovery{}, fmt.Errorf("%w: close: %v", ErrProbeFailed, closeErr)
	}
	log.Debug().
		Str("component", "discovery").
		Str("address", found.Address.String()).
		Str("identity", found.Identity.String()).
		Msg("gateway discovered")
	return found, nil
}

func (p *Prober) exchange(ctx context.Context, conn *net.UDPConn, dest netip.Addr, unicast bool) (schema.Discovery, error) {
	if !unicast {
		if err := enableBroadcast(conn); err != nil {
			return schema.Discovery{}, fmt.Errorf("%w: broadcast: %v", ErrProbeFailed, err)
		}
		if dest.IsMulticast() {
			pc := ipv4.NewPacketConn(conn)
			group := &net.UDPAddr{IP: dest.AsSlice()}
			if err := pc.JoinGroup(nil, group); err != nil {
				return schema.Discovery{}, fmt.Errorf("%w: join group: %v", ErrProbeFailed, err)
			}
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		wait := p.Timeout
		if wait <= 0 {
			wait = DefaultReplyWait
		}
		deadline = time.Now().Add(wait)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return schema.Discovery{}, fmt.Errorf("%w: deadline: %v", ErrProbeFailed, err)
	}

	to := &net.UDPAddr{IP: dest.AsSlice(), Port: p.Port}
	log.Debug().Str("component", "discovery").Str("dest", to.String()).Msg("sending probe")
	if _, err := conn.WriteToUDP(protocol.Probe, to); err != nil {
		return schema.Discovery{}, fmt.Errorf("%w: send: %v", ErrProbeFailed, err)
	}

	buf := make([]byte, 512)
	n, src, err := conn.ReadFromUDP(buf)
	if err != nil {
		return schema.Discovery{}, fmt.Errorf("%w: receive: %v", ErrProbeFailed, err)
	}
	log.Debug().Str("component", "discovery").Str("from", src.String()).Int("bytes", n).Msg("reply received")

	found, err := p.Decoder.DecodeDiscovery(buf[:n])
	if err != nil {
		return schema.Discovery{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return found, nil
}
