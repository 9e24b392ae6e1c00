// Package packet implements the wire packet: a small fixed header
// (sequence number, send timestamp, kind) followed by an opaque
// payload, plus the TCP framing envelope that precedes it on a stream.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/Ronifue/netstats/internal/clock"
)

// Kind identifies how a packet's payload should be interpreted.
type Kind uint8

const (
	KindData Kind = iota
	KindAck
	KindControl
	KindEchoRequest
	KindEchoReply
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "Data"
	case KindAck:
		return "Ack"
	case KindControl:
		return "Control"
	case KindEchoRequest:
		return "EchoRequest"
	case KindEchoReply:
		return "EchoReply"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func validKind(k uint8) bool {
	return k <= uint8(KindEchoReply)
}

// HeaderSize is the encoded size, in bytes, of a Packet's header:
// 4 bytes sequence number + 8 bytes timestamp + 1 byte kind.
const HeaderSize = 4 + 8 + 1

// FrameLengthSize is the size of the TCP framing length prefix.
const FrameLengthSize = 4

// MaxFrameBodyLen is the largest frame body (length-prefixed encoded
// packet) the TCP engine will accept before treating the declared
// length as a protocol error.
const MaxFrameBodyLen = 10 * 1024 * 1024

// Header is the fixed-size metadata preceding a packet's payload.
type Header struct {
	SequenceNumber uint32
	SendTimestamp  uint64 // milliseconds since a stable (Unix) epoch
	Kind           Kind
}

// Packet is the full wire entity: header plus opaque payload.
type Packet struct {
	Header  Header
	Payload []byte
}

// DecodeError reports a malformed incoming packet or frame length. A
// DecodeError from Decode is non-fatal: the caller logs and discards the
// packet. A DecodeError from DecodeFrameLength (an oversized frame) ends
// the TCP receive loop with a Serialization error.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "packet decode: " + e.Reason
}

// NewData builds a Data packet with size bytes of zeroed payload.
func NewData(seq uint32, size int) *Packet {
	return &Packet{
		Header: Header{
			SequenceNumber: seq,
			SendTimestamp:  clock.WireTimestampMillis(),
			Kind:           KindData,
		},
		Payload: make([]byte, size),
	}
}

// NewEchoRequest builds an EchoRequest packet with size bytes of payload.
func NewEchoRequest(seq uint32, size int) *Packet {
	return &Packet{
		Header: Header{
			SequenceNumber: seq,
			SendTimestamp:  clock.WireTimestampMillis(),
			Kind:           KindEchoRequest,
		},
		Payload: make([]byte, size),
	}
}

// NewEchoReply builds the reply to req, copying its sequence number,
// send timestamp, and payload verbatim so the originator can compute
// RTT without keeping per-request state (spec §4.2, invariant 6).
func NewEchoReply(req *Packet) *Packet {
	payload := make([]byte, len(req.Payload))
	copy(payload, req.Payload)
	return &Packet{
		Header: Header{
			SequenceNumber: req.Header.SequenceNumber,
			SendTimestamp:  req.Header.SendTimestamp,
			Kind:           KindEchoReply,
		},
		Payload: payload,
	}
}

// Encode serializes p into a self-describing byte slice: header fields
// followed by the raw payload. Encoding never truncates; the caller is
// responsible for respecting the link MTU on UDP.
func Encode(p *Packet) []byte {
	out := make([]byte, HeaderSize+len(p.Payload))
	binary.BigEndian.PutUint32(out[0:4], p.Header.SequenceNumber)
	binary.BigEndian.PutUint64(out[4:12], p.Header.SendTimestamp)
	out[12] = uint8(p.Header.Kind)
	copy(out[HeaderSize:], p.Payload)
	return out
}

// Decode reconstructs a Packet from bytes previously produced by Encode.
// It fails when the input is shorter than the header, the kind byte is
// not a recognized variant, or (for framed callers that pre-validate
// length) the declared length exceeds the available bytes — the latter
// can't happen here since Decode trusts len(data) as the true frame
// body length.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, &DecodeError{Reason: fmt.Sprintf("short input: %d bytes, need at least %d", len(data), HeaderSize)}
	}
	kindByte := data[12]
	if !validKind(kindByte) {
		return nil, &DecodeError{Reason: fmt.Sprintf("unrecognized kind byte %d", kindByte)}
	}
	payload := make([]byte, len(data)-HeaderSize)
	copy(payload, data[HeaderSize:])
	return &Packet{
		Header: Header{
			SequenceNumber: binary.BigEndian.Uint32(data[0:4]),
			SendTimestamp:  binary.BigEndian.Uint64(data[4:12]),
			Kind:           Kind(kindByte),
		},
		Payload: payload,
	}, nil
}

// EncodeFrame encodes p and prefixes it with its 4-byte big-endian
// length, as required on a TCP stream (spec §4.5/§6).
func EncodeFrame(p *Packet) []byte {
	body := Encode(p)
	out := make([]byte, FrameLengthSize+len(body))
	binary.BigEndian.PutUint32(out[0:FrameLengthSize], uint32(len(body)))
	copy(out[FrameLengthSize:], body)
	return out
}

// DecodeFrameLength reads a 4-byte big-endian length prefix and
// validates it against MaxFrameBodyLen.
func DecodeFrameLength(prefix []byte) (uint32, error) {
	if len(prefix) != FrameLengthSize {
		return 0, &DecodeError{Reason: fmt.Sprintf("frame length prefix must be %d bytes, got %d", FrameLengthSize, len(prefix))}
	}
	n := binary.BigEndian.Uint32(prefix)
	if n > MaxFrameBodyLen {
		return 0, &DecodeError{Reason: fmt.Sprintf("frame body length %d exceeds maximum %d", n, MaxFrameBodyLen)}
	}
	return n, nil
}
