package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxFrameBytes bounds the declared length a peer may announce.
// The gateway never sends frames anywhere near this; a larger value in the
// prefix means the stream is corrupt.
const DefaultMaxFrameBytes = 1 << 20

var ErrFrameTooLarge = errors.New("protocol: declared frame length exceeds limit")

// Frame is one length-prefixed unit of the gateway's TCP stream.
type Frame struct {
	Length     uint32    // declared byte count following the prefix
	Raw        []byte    // prefix plus declared bytes
	Payload    []byte    // declared bytes only
	ReceivedAt time.Time

	// Kind and Msg are filled by the schema collaborator after decoding;
	// the decoder itself leaves them empty.
	Kind string
	Msg  any
}

// Decoder splits an unbounded stream of byte chunks into frames. A partial
// frame at the end of a chunk is kept in an internal buffer and completed
// by later chunks, so frame boundaries need not align with read boundaries.
type Decoder struct {
	buf []byte
	max uint32
}

func NewDecoder() *Decoder {
	return &Decoder{max: DefaultMaxFrameBytes}
}

// Feed appends chunk to the stream and returns every frame completed by it,
// in arrival order. Returned frames own their bytes; the chunk may be reused
// by the caller. A too-large declared length poisons the stream and is
// returned alongside any frames completed before it.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	now := time.Now()
	for len(d.buf) >= PrefixLen {
		declared := binary.BigEndian.Uint32(d.buf)
		if declared > d.max {
			return frames, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, declared)
		}
		total := PrefixLen + int(declared)
		if len(d.buf) < total {
			break
		}

		raw := make([]byte, total)
		copy(raw, d.buf[:total])
		frames = append(frames, Frame{
			Length:     declared,
			Raw:        raw,
			Payload:    raw[PrefixLen:],
			ReceivedAt: now,
		})
		d.buf = d.buf[total:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames, nil
}

// Pending reports how many buffered bytes await the rest of their frame.
func (d *Decoder) Pending() int {
	return len(d.buf)
}
