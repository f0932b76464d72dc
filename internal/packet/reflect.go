package packet

import (
	"encoding/binary"

	"github.com/pingsantohq/stamp/internal/ntp"
)

// EncodeReflector builds the reply to a sender packet. Sequence number,
// timestamp and error estimate are copied byte-for-byte from in, which must
// hold at least BaseSize bytes.
func EncodeReflector(in []byte, rx, tx ntp.Timestamp, ttl uint8, est ntp.ErrorEstimate) ([BaseSize]byte, error) {
	var out [BaseSize]byte
	if len(in) < BaseSize {
		return out, ErrTooShort
	}
	copy(out[:], in[:BaseSize])
	if err := PrepareReflection(out[:], rx, ttl, est); err != nil {
		return out, err
	}
	StampTransmit(out[:], tx)
	return out, nil
}

// PrepareReflection rewrites buf in place from a sender packet into a
// reflector packet, leaving the transmit timestamp for StampTransmit. Only
// the first BaseSize bytes are touched.
func PrepareReflection(buf []byte, rx ntp.Timestamp, ttl uint8, est ntp.ErrorEstimate) error {
	if len(buf) < BaseSize {
		return ErrTooShort
	}
	var sender [14]byte
	copy(sender[:], buf[:offMBZ1])

	clear(buf[offErrorEstimate:BaseSize])
	binary.BigEndian.PutUint16(buf[offErrorEstimate:], uint16(est))
	rx.Put(buf[offReceive:])
	// seq_num is echoed unchanged at offset 0
	copy(buf[offSenderSeq:offSenderSeq+4], sender[offSeq:offSeq+4])
	copy(buf[offSenderStamp:offSenderStamp+8], sender[offTimestamp:offTimestamp+8])
	copy(buf[offSenderErrorEst:offSenderErrorEst+2], sender[offErrorEstimate:offErrorEstimate+2])
	buf[offSenderTTL] = ttl
	return nil
}

// StampTransmit writes T3 into a prepared reflector packet.
func StampTransmit(buf []byte, tx ntp.Timestamp) {
	tx.Put(buf[offTimestamp:])
}
