package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func lengthPrefixed(payload []byte) []byte {
	out := make([]byte, PrefixLen+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[PrefixLen:], payload)
	return out
}

func TestFeedConcatenatedFrames(t *testing.T) {
	payloads := [][]byte{
		{0xde, 0xad},
		{0xbe},
		{0xef, 0x01, 0x02, 0x03},
	}
	var chunk []byte
	for _, p := range payloads {
		chunk = append(chunk, lengthPrefixed(p)...)
	}

	dec := NewDecoder()
	frames, err := dec.Feed(chunk)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(frames) != len(payloads) {
		t.Fatalf("got %d frames, want %d", len(frames), len(payloads))
	}
	for i, f := range frames {
		if f.Length != uint32(len(payloads[i])) {
			t.Fatalf("frame %d length = %d, want %d", i, f.Length, len(payloads[i]))
		}
		if !bytes.Equal(f.Payload, payloads[i]) {
			t.Fatalf("frame %d payload = %x, want %x", i, f.Payload, payloads[i])
		}
		if !bytes.Equal(f.Raw, lengthPrefixed(payloads[i])) {
			t.Fatalf("frame %d raw bytes mismatch", i)
		}
	}
	if dec.Pending() != 0 {
		t.Fatalf("pending = %d after whole frames, want 0", dec.Pending())
	}
}

func TestFeedExactBoundary(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7}
	dec := NewDecoder()
	frames, err := dec.Feed(lengthPrefixed(payload))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].ReceivedAt.IsZero() {
		t.Fatalf("frame missing timestamp")
	}
}

func TestFeedFrameSplitAcrossChunks(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 40)
	whole := lengthPrefixed(payload)

	dec := NewDecoder()
	// Split inside the length prefix, then inside the payload.
	for _, chunk := range [][]byte{whole[:2], whole[2:20]} {
		frames, err := dec.Feed(chunk)
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if len(frames) != 0 {
			t.Fatalf("frame emitted before completion")
		}
	}
	frames, err := dec.Feed(whole[20:])
	if err != nil {
		t.Fatalf("feed final chunk: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames on final chunk, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
	if dec.Pending() != 0 {
		t.Fatalf("pending = %d after reassembly, want 0", dec.Pending())
	}
}

func TestFeedTrailingPartialFrame(t *testing.T) {
	first := lengthPrefixed([]byte{9, 9})
	second := lengthPrefixed([]byte{7, 7, 7, 7})

	dec := NewDecoder()
	frames, err := dec.Feed(append(append([]byte{}, first...), second[:3]...))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if dec.Pending() != 3 {
		t.Fatalf("pending = %d, want 3", dec.Pending())
	}

	frames, err = dec.Feed(second[3:])
	if err != nil {
		t.Fatalf("feed rest: %v", err)
	}
	if len(frames) != 1 || !bytes.Equal(frames[0].Payload, []byte{7, 7, 7, 7}) {
		t.Fatalf("second frame not completed: %+v", frames)
	}
}

func TestFeedDeclaredLengthTooLarge(t *testing.T) {
	chunk := make([]byte, PrefixLen)
	binary.BigEndian.PutUint32(chunk, DefaultMaxFrameBytes+1)

	dec := NewDecoder()
	_, err := dec.Feed(chunk)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
