package protocol

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/google/uuid"
)

const (
	// HeaderLen is the fixed size of the outbound header: a 4-byte length
	// prefix, two 16-byte identity tokens and a 2-byte operation length.
	HeaderLen = 38

	// PrefixLen is the size of the length prefix on every frame, inbound
	// and outbound. The declared length counts the bytes that follow it.
	PrefixLen = 4

	offTotalLen = 0
	offLocalID  = 4
	offRemoteID = 20
	offOpLen    = 36
)

// Probe is the two-byte UDP payload the gateway answers discovery with.
var Probe = []byte{0x0a, 0x00}

var (
	ErrRemoteUnknown     = errors.New("protocol: remote identity unknown")
	ErrOperationTooLarge = errors.New("protocol: operation section exceeds 64 KiB")
)

// EncodeFrame builds one outbound frame:
//
//	[4B BE total][16B local id][16B remote id][2B BE len(op)][op][cmd]
//
// where total = 16+16+2+len(op)+len(cmd). A fresh buffer is returned on
// every call so concurrent senders can never interleave header bytes.
func EncodeFrame(local, remote uuid.UUID, op, cmd []byte) ([]byte, error) {
	if remote == (uuid.UUID{}) {
		return nil, ErrRemoteUnknown
	}
	if len(op) > math.MaxUint16 {
		return nil, ErrOperationTooLarge
	}

	total := HeaderLen - PrefixLen + len(op) + len(cmd)
	buf := make([]byte, HeaderLen+len(op)+len(cmd))
	binary.BigEndian.PutUint32(buf[offTotalLen:], uint32(total))
	copy(buf[offLocalID:], local[:])
	copy(buf[offRemoteID:], remote[:])
	binary.BigEndian.PutUint16(buf[offOpLen:], uint16(len(op)))
	copy(buf[HeaderLen:], op)
	copy(buf[HeaderLen+len(op):], cmd)
	return buf, nil
}
