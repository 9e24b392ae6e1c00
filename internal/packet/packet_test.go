package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := NewData(42, 16)
	encoded := Encode(p)
	require.Len(t, encoded, HeaderSize+16)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, p.Header.SequenceNumber, decoded.Header.SequenceNumber)
	assert.Equal(t, p.Header.SendTimestamp, decoded.Header.SendTimestamp)
	assert.Equal(t, p.Header.Kind, decoded.Header.Kind)
	assert.Equal(t, p.Payload, decoded.Payload)
}

func TestNewEchoReplyCopiesRequestFields(t *testing.T) {
	req := NewEchoRequest(7, 8)
	reply := NewEchoReply(req)

	assert.Equal(t, req.Header.SequenceNumber, reply.Header.SequenceNumber)
	assert.Equal(t, req.Header.SendTimestamp, reply.Header.SendTimestamp)
	assert.Equal(t, KindEchoReply, reply.Header.Kind)
	assert.Equal(t, req.Payload, reply.Payload)

	// Mutating the reply's payload must not affect the original request.
	reply.Payload[0] = 0xFF
	assert.NotEqual(t, req.Payload[0], reply.Payload[0])
}

func TestDecodeShortInputFails(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeUnrecognizedKindFails(t *testing.T) {
	p := NewData(1, 0)
	encoded := Encode(p)
	encoded[12] = 200 // not a valid Kind

	_, err := Decode(encoded)
	require.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	p := NewData(1, 32)
	frame := EncodeFrame(p)

	length, err := DecodeFrameLength(frame[:FrameLengthSize])
	require.NoError(t, err)
	assert.Equal(t, uint32(len(frame)-FrameLengthSize), length)

	decoded, err := Decode(frame[FrameLengthSize:])
	require.NoError(t, err)
	assert.Equal(t, p.Header.SequenceNumber, decoded.Header.SequenceNumber)
}

func TestDecodeFrameLengthRejectsOversizedBody(t *testing.T) {
	prefix := make([]byte, FrameLengthSize)
	prefix[0] = 0xFF // far beyond MaxFrameBodyLen
	_, err := DecodeFrameLength(prefix)
	require.Error(t, err)
}

func TestDecodeFrameLengthRejectsWrongPrefixSize(t *testing.T) {
	_, err := DecodeFrameLength([]byte{0, 0, 0})
	require.Error(t, err)
}
