package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pingsantohq/stamp/internal/ntp"
)

const (
	// BaseSize is the length of both unauthenticated STAMP packets.
	BaseSize = 44
	// MaxSize is the largest UDP payload accepted.
	MaxSize = 65507
	// Port is the IANA-assigned STAMP port.
	Port = 862
)

// ErrTooShort is returned when a buffer holds fewer than BaseSize bytes.
var ErrTooShort = errors.New("packet: shorter than 44 bytes")

// Wire offsets.
const (
	offSeq            = 0
	offTimestamp      = 4
	offErrorEstimate  = 12
	offMBZ1           = 14
	offReceive        = 16
	offSenderSeq      = 24
	offSenderStamp    = 28
	offSenderErrorEst = 36
	offMBZ2           = 38
	offSenderTTL      = 40
	offMBZ3           = 41
)

// SenderPacket is the unauthenticated Session-Sender test packet.
type SenderPacket struct {
	Seq           uint32
	Timestamp     ntp.Timestamp
	ErrorEstimate ntp.ErrorEstimate
}

// ReflectorPacket is the unauthenticated stateless Session-Reflector test packet.
type ReflectorPacket struct {
	Seq                 uint32
	Timestamp           ntp.Timestamp
	ErrorEstimate       ntp.ErrorEstimate
	ReceiveTimestamp    ntp.Timestamp
	SenderSeq           uint32
	SenderTimestamp     ntp.Timestamp
	SenderErrorEstimate ntp.ErrorEstimate
	SenderTTL           uint8
}

// Encode returns the 44-byte wire form with every MBZ byte zero.
func (p SenderPacket) Encode() [BaseSize]byte {
	var b [BaseSize]byte
	binary.BigEndian.PutUint32(b[offSeq:], p.Seq)
	p.Timestamp.Put(b[offTimestamp:])
	binary.BigEndian.PutUint16(b[offErrorEstimate:], uint16(p.ErrorEstimate))
	return b
}

// ParseSender decodes the first 44 bytes of b. Trailing bytes are ignored.
func ParseSender(b []byte) (SenderPacket, error) {
	if len(b) < BaseSize {
		return SenderPacket{}, fmt.Errorf("%w: got %d", ErrTooShort, len(b))
	}
	return SenderPacket{
		Seq:           binary.BigEndian.Uint32(b[offSeq:]),
		Timestamp:     ntp.Read(b[offTimestamp:]),
		ErrorEstimate: ntp.ErrorEstimate(binary.BigEndian.Uint16(b[offErrorEstimate:])),
	}, nil
}

// Encode returns the 44-byte wire form with every MBZ byte zero.
func (p ReflectorPacket) Encode() [BaseSize]byte {
	var b [BaseSize]byte
	binary.BigEndian.PutUint32(b[offSeq:], p.Seq)
	p.Timestamp.Put(b[offTimestamp:])
	binary.BigEndian.PutUint16(b[offErrorEstimate:], uint16(p.ErrorEstimate))
	p.ReceiveTimestamp.Put(b[offReceive:])
	binary.BigEndian.PutUint32(b[offSenderSeq:], p.SenderSeq)
	p.SenderTimestamp.Put(b[offSenderStamp:])
	binary.BigEndian.PutUint16(b[offSenderErrorEst:], uint16(p.SenderErrorEstimate))
	b[offSenderTTL] = p.SenderTTL
	return b
}

// ParseReflector decodes the first 44 bytes of b. MBZ fields are not validated.
func ParseReflector(b []byte) (ReflectorPacket, error) {
	if len(b) < BaseSize {
		return ReflectorPacket{}, fmt.Errorf("%w: got %d", ErrTooShort, len(b))
	}
	return ReflectorPacket{
		Seq:                 binary.BigEndian.Uint32(b[offSeq:]),
		Timestamp:           ntp.Read(b[offTimestamp:]),
		ErrorEstimate:       ntp.ErrorEstimate(binary.BigEndian.Uint16(b[offErrorEstimate:])),
		ReceiveTimestamp:    ntp.Read(b[offReceive:]),
		SenderSeq:           binary.BigEndian.Uint32(b[offSenderSeq:]),
		SenderTimestamp:     ntp.Read(b[offSenderStamp:]),
		SenderErrorEstimate: ntp.ErrorEstimate(binary.BigEndian.Uint16(b[offSenderErrorEst:])),
		SenderTTL:           b[offSenderTTL],
	}, nil
}
