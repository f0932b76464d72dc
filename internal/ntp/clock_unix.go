//go:build linux || darwin || freebsd || netbsd || openbsd

package ntp

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func readRealtime() (Timestamp, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return Timestamp{}, fmt.Errorf("%w: %v", ErrClock, err)
	}
	sec, nsec := ts.Unix()
	return FromUnix(sec, nsec), nil
}
