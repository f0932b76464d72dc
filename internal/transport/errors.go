package transport

import (
	"errors"
	"fmt"
	"net/netip"
	"syscall"
)

var (
	// ErrTimeout is returned by ReadPacket when the context deadline passes
	// without a datagram arriving.
	ErrTimeout = errors.New("transport: receive timeout")
	// ErrInvalidPort is returned for ports outside 1..65535.
	ErrInvalidPort = errors.New("transport: invalid port")
	// ErrHostTooLong is returned for host names over 253 characters.
	ErrHostTooLong = errors.New("transport: host name too long")
	// ErrNoAddress is returned when resolution yields nothing usable.
	ErrNoAddress = errors.New("transport: no usable address")
)

// BindError reports a failed Listen after every permitted attempt.
type BindError struct {
	Port   int
	Family Family
	Err    error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("transport: bind port %d (%s): %v", e.Port, e.Family, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// SendError carries the destination and OS error code of a failed send.
type SendError struct {
	Dest  netip.AddrPort
	Errno syscall.Errno
	Err   error
}

func (e *SendError) Error() string {
	dest := "connected peer"
	if e.Dest.IsValid() {
		dest = FormatAddr(e.Dest)
	}
	if e.Errno != 0 {
		return fmt.Sprintf("transport: send to %s: errno %d: %v", dest, int(e.Errno), e.Err)
	}
	return fmt.Sprintf("transport: send to %s: %v", dest, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func newSendError(dest netip.AddrPort, err error) *SendError {
	se := &SendError{Dest: dest, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		se.Errno = errno
	}
	return se
}
