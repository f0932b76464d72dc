package ntp

import (
	"errors"
	"time"
)

// ErrClock is returned when the system clock cannot be read.
var ErrClock = errors.New("ntp: clock read failed")

// Clock produces NTP timestamps for T1 through T4.
type Clock interface {
	Now() (Timestamp, error)
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() (Timestamp, error)

func (f ClockFunc) Now() (Timestamp, error) { return f() }

// TimeClock wraps a time source, typically time.Now or a fake in tests.
func TimeClock(now func() time.Time) Clock {
	return ClockFunc(func() (Timestamp, error) {
		return FromTime(now()), nil
	})
}

// SystemClock reads the realtime clock at the best resolution the platform offers.
type SystemClock struct{}

func (SystemClock) Now() (Timestamp, error) { return readRealtime() }

// Source identifies where a receive timestamp came from.
type Source int

const (
	SourceNone Source = iota
	SourceUser
	SourceKernelMicro
	SourceKernelNano
	SourceKernelTimestamping
)

func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceKernelMicro:
		return "kernel-usec"
	case SourceKernelNano:
		return "kernel-nsec"
	case SourceKernelTimestamping:
		return "kernel-timestamping"
	default:
		return "none"
	}
}

// Kernel reports whether the timestamp was supplied by the network stack.
func (s Source) Kernel() bool {
	return s >= SourceKernelMicro
}
