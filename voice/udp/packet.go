package udp

import (
	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// https://discord.com/developers/docs/topics/voice-connections#encrypting-and-sending-voice
const (
	// HeaderSize is the size of the fixed datagram header.
	HeaderSize = 12
	// VersionFlags is the first header byte: RTP version 2, no padding,
	// extension or CSRCs.
	VersionFlags = 0x80
	// PayloadType is the second header byte.
	PayloadType = 0x78
)

// Frame is one 20ms chunk of encoded audio and the header fields that go with
// it.
type Frame struct {
	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
	Opus      []byte
}

// Header returns the frame's 12-byte header in network byte order.
func (f *Frame) Header() [HeaderSize]byte {
	h := rtp.Header{
		Version:        2,
		PayloadType:    PayloadType,
		SequenceNumber: f.Sequence,
		Timestamp:      f.Timestamp,
		SSRC:           f.SSRC,
	}

	var b [HeaderSize]byte
	// This can only fail if b is too small, which it is not.
	h.MarshalTo(b[:])
	return b
}

// AppendSealed appends the header and the sealed payload to dst and returns the
// resulting datagram.
func (f *Frame) AppendSealed(dst []byte, sealer Sealer, key *[32]byte) []byte {
	header := f.Header()
	dst = append(dst, header[:]...)
	return sealer.Seal(dst, &header, f.Opus, key)
}

// ParseFrame parses a datagram produced by AppendSealed back into its header
// fields. The Opus field holds the still-sealed payload.
func ParseFrame(b []byte) (*Frame, error) {
	if len(b) < HeaderSize {
		return nil, errors.New("datagram is shorter than its header")
	}

	var h rtp.Header
	if _, err := h.Unmarshal(b); err != nil {
		return nil, errors.Wrap(err, "failed to parse header")
	}

	if b[0] != VersionFlags || h.PayloadType != PayloadType {
		return nil, errors.Errorf("unexpected header %#x %#x", b[0], b[1])
	}

	return &Frame{
		Sequence:  h.SequenceNumber,
		Timestamp: h.Timestamp,
		SSRC:      h.SSRC,
		Opus:      b[HeaderSize:],
	}, nil
}
