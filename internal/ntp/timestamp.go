package ntp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// EpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const EpochOffset = 2208988800

const (
	fracScale = 1 << 32
	nanos     = 1_000_000_000
	micros    = 1_000_000
)

// Timestamp is the 64-bit NTP fixed-point format used on the wire.
type Timestamp struct {
	Seconds  uint32
	Fraction uint32
}

// FromUnix converts a Unix time in seconds and nanoseconds, rounding the
// fraction to the nearest representable unit.
func FromUnix(sec, nsec int64) Timestamp {
	sec, nsec = normalize(sec, nsec, nanos)
	frac := (uint64(nsec)*fracScale + nanos/2) / nanos
	return Timestamp{
		Seconds:  uint32(sec + EpochOffset),
		Fraction: uint32(frac),
	}
}

// FromUnixMicro is FromUnix for clocks that only offer microseconds.
func FromUnixMicro(sec, usec int64) Timestamp {
	sec, usec = normalize(sec, usec, micros)
	frac := (uint64(usec)*fracScale + micros/2) / micros
	return Timestamp{
		Seconds:  uint32(sec + EpochOffset),
		Fraction: uint32(frac),
	}
}

// FromTime converts a wall-clock time.
func FromTime(t time.Time) Timestamp {
	return FromUnix(t.Unix(), int64(t.Nanosecond()))
}

func normalize(sec, sub, unit int64) (int64, int64) {
	if sub >= unit || sub < 0 {
		sec += sub / unit
		sub %= unit
		if sub < 0 {
			sec--
			sub += unit
		}
	}
	return sec, sub
}

// UnixSeconds returns the timestamp as floating-point seconds since the Unix epoch.
func (t Timestamp) UnixSeconds() float64 {
	return float64(int64(t.Seconds)-EpochOffset) + float64(t.Fraction)/fracScale
}

// Time returns the timestamp as a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	nsec := (uint64(t.Fraction)*nanos + fracScale/2) >> 32
	return time.Unix(int64(t.Seconds)-EpochOffset, int64(nsec)).UTC()
}

// IsZero reports whether both halves are zero.
func (t Timestamp) IsZero() bool {
	return t.Seconds == 0 && t.Fraction == 0
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%08x", t.Seconds, t.Fraction)
}

// Put writes the timestamp big-endian into b[0:8].
func (t Timestamp) Put(b []byte) {
	_ = b[7]
	binary.BigEndian.PutUint32(b[0:4], t.Seconds)
	binary.BigEndian.PutUint32(b[4:8], t.Fraction)
}

// Read decodes a big-endian timestamp from b[0:8].
func Read(b []byte) Timestamp {
	_ = b[7]
	return Timestamp{
		Seconds:  binary.BigEndian.Uint32(b[0:4]),
		Fraction: binary.BigEndian.Uint32(b[4:8]),
	}
}
