package ntp

import (
	"fmt"
	"math"
)

// ErrorEstimate is the 16-bit error estimate field carried by STAMP packets.
//
//	bit 15     S  synchronized to an external source
//	bit 14     Z  timestamp format, 0 = NTP, 1 = PTP
//	bits 13-8  Scale
//	bits 7-0   Multiplier
type ErrorEstimate uint16

const (
	flagSync uint16 = 1 << 15
	flagPTP  uint16 = 1 << 14
)

// DefaultErrorEstimate is S=1, Z=0, Scale=0, Multiplier=1.
const DefaultErrorEstimate ErrorEstimate = 0x8001

// NewErrorEstimate packs the fields. Scale is truncated to 6 bits.
func NewErrorEstimate(synced, ptp bool, scale, multiplier uint8) ErrorEstimate {
	v := uint16(scale&0x3f)<<8 | uint16(multiplier)
	if synced {
		v |= flagSync
	}
	if ptp {
		v |= flagPTP
	}
	return ErrorEstimate(v)
}

func (e ErrorEstimate) Synchronized() bool { return uint16(e)&flagSync != 0 }
func (e ErrorEstimate) PTP() bool          { return uint16(e)&flagPTP != 0 }
func (e ErrorEstimate) Scale() uint8       { return uint8(uint16(e) >> 8 & 0x3f) }
func (e ErrorEstimate) Multiplier() uint8  { return uint8(e) }

// Seconds returns the estimated error magnitude, Multiplier * 2^Scale * 2^-32.
func (e ErrorEstimate) Seconds() float64 {
	return float64(e.Multiplier()) * math.Ldexp(1, int(e.Scale())-32)
}

func (e ErrorEstimate) String() string {
	return fmt.Sprintf("S=%t Z=%t scale=%d mult=%d", e.Synchronized(), e.PTP(), e.Scale(), e.Multiplier())
}
