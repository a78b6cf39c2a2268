package schema

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Operation type codes used directly by the bridge.
const (
	OpStartSessionRequest uint64 = 3
	OpCloseSessionRequest uint64 = 4
	OpKeepAlive           uint64 = 101
)

// IdentityLen is the size of a gateway identity token.
const IdentityLen = 16

var (
	ErrBadDiscovery     = errors.New("schema: malformed discovery reply")
	ErrTruncated        = errors.New("schema: truncated field")
	ErrUnsupportedField = errors.New("schema: unsupported field encoding")
)

//go:embed operations.toml
var operationsTOML []byte

type operationEntry struct {
	Code uint64 `toml:"code"`
	Name string `toml:"name"`
}

type operationTable struct {
	Operations []operationEntry `toml:"operation"`
}

var opNames = loadOperationTable()

func loadOperationTable() map[uint64]string {
	var table operationTable
	if err := toml.Unmarshal(operationsTOML, &table); err != nil {
		panic(fmt.Sprintf("schema: embedded operation table: %v", err))
	}
	names := make(map[uint64]string, len(table.Operations))
	for _, op := range table.Operations {
		names[op.Code] = op.Name
	}
	return names
}

// OperationName resolves an operation type code against the embedded table.
func OperationName(code uint64) (string, bool) {
	name, ok := opNames[code]
	return name, ok
}

// Discovery is the decoded UDP discovery reply.
type Discovery struct {
	Address  netip.Addr
	Identity uuid.UUID
}

// Message is the classification of one inbound TCP payload.
type Message struct {
	Code    uint64
	Name    string
	Command []byte // command section following the operation, may be empty
}

// Decoder turns raw gateway bytes into structured values. The bridge core
// depends on this interface only; GatewayDecoder is the wire implementation.
type Decoder interface {
	// DecodeDiscovery parses a UDP discovery reply into the responder's
	// address and identity token.
	DecodeDiscovery(data []byte) (Discovery, error)

	// Classify names the operation carried by an inbound TCP payload
	// (the bytes following the 4-byte length prefix). Unknown or
	// unparsable payloads classify as "unknown" without error.
	Classify(payload []byte) (string, any)
}

// GatewayDecoder decodes the LAN C gateway's compact tag/length field
// encoding. The discovery reply carries the unit's address as an ASCII
// string in field 1 and its 16-byte identity in field 2.
type GatewayDecoder struct{}

var _ Decoder = GatewayDecoder{}

func (GatewayDecoder) DecodeDiscovery(data []byte) (Discovery, error) {
	var d Discovery
	err := scanFields(data, func(num int, _ uint64, raw []byte) bool {
		switch num {
		case 1:
			if addr, perr := netip.ParseAddr(string(raw)); perr == nil {
				d.Address = addr
			}
		case 2:
			if len(raw) == IdentityLen {
				copy(d.Identity[:], raw)
			}
		}
		return true
	})
	if err != nil {
		return Discovery{}, fmt.Errorf("%w: %v", ErrBadDiscovery, err)
	}
	if !d.Address.IsValid() || d.Identity == (uuid.UUID{}) {
		return Discovery{}, ErrBadDiscovery
	}
	return d, nil
}

// payloadHeaderLen is the identity + operation-length portion of a TCP
// payload: two 16-byte tokens and a 2-byte big-endian operation length.
const payloadHeaderLen = 2*IdentityLen + 2

func (GatewayDecoder) Classify(payload []byte) (string, any) {
	if len(payload) < payloadHeaderLen {
		return "unknown", nil
	}
	opLen := int(binary.BigEndian.Uint16(payload[2*IdentityLen:]))
	if len(payload) < payloadHeaderLen+opLen {
		return "unknown", nil
	}
	op := payload[payloadHeaderLen : payloadHeaderLen+opLen]

	msg := Message{Command: payload[payloadHeaderLen+opLen:]}
	found := false
	err := scanFields(op, func(num int, val uint64, raw []byte) bool {
		if num == 1 && raw == nil {
			msg.Code = val
			found = true
			return false
		}
		return true
	})
	if err != nil || !found {
		return "unknown", nil
	}

	name, ok := opNames[msg.Code]
	if !ok {
		name = "unknown"
	}
	msg.Name = name
	return name, msg
}

// Operation encodes an operation section carrying just a type code, as used
// for KeepAlive and session control messages.
func Operation(code uint64) []byte {
	buf := make([]byte, 0, 1+binary.MaxVarintLen64)
	buf = append(buf, 1<<3) // field 1, varint
	return binary.AppendUvarint(buf, code)
}

// EncodeDiscovery builds a discovery reply. The bridge never sends one; the
// encoder exists for unit simulators and tests.
func EncodeDiscovery(d Discovery) []byte {
	addr := d.Address.String()
	buf := make([]byte, 0, 2+len(addr)+2+IdentityLen)
	buf = append(buf, 1<<3|2)
	buf = binary.AppendUvarint(buf, uint64(len(addr)))
	buf = append(buf, addr...)
	buf = append(buf, 2<<3|2)
	buf = binary.AppendUvarint(buf, IdentityLen)
	buf = append(buf, d.Identity[:]...)
	return buf
}

// scanFields walks the gateway's tag/length field encoding. visit receives
// the field number plus either a varint value (raw == nil) or the raw bytes
// of a length-delimited field; returning false stops the scan early.
func scanFields(buf []byte, visit func(num int, val uint64, raw []byte) bool) error {
	i := 0
	for i < len(buf) {
		key, n := binary.Uvarint(buf[i:])
		if n <= 0 {
			return ErrTruncated
		}
		i += n

		num := int(key >> 3)
		switch key & 7 {
		case 0:
			val, vn := binary.Uvarint(buf[i:])
			if vn <= 0 {
				return ErrTruncated
			}
			i += vn
			if !visit(num, val, nil) {
				return nil
			}
		case 2:
			l, ln := binary.Uvarint(buf[i:])
			if ln <= 0 {
				return ErrTruncated
			}
			i += ln
			if uint64(len(buf)-i) < l {
				return ErrTruncated
			}
			if !visit(num, 0, buf[i:i+int(l)]) {
				return nil
			}
			i += int(l)
		default:
			return fmt.Errorf("%w: wire type %d", ErrUnsupportedField, key&7)
		}
	}
	return nil
}
