//go:build darwin || freebsd || netbsd || openbsd

package ntp

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ParseKernelTimestamp extracts the SO_TIMESTAMP receive time from socket
// control data. BSD kernels only deliver microsecond timevals.
func ParseKernelTimestamp(oob []byte) (Timestamp, Source, bool) {
	if len(oob) == 0 {
		return Timestamp{}, SourceNone, false
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return Timestamp{}, SourceNone, false
	}
	for _, msg := range msgs {
		if msg.Header.Level != unix.SOL_SOCKET || msg.Header.Type != unix.SCM_TIMESTAMP {
			continue
		}
		if len(msg.Data) < int(unsafe.Sizeof(unix.Timeval{})) {
			continue
		}
		tv := *(*unix.Timeval)(unsafe.Pointer(&msg.Data[0]))
		return FromUnixMicro(int64(tv.Sec), int64(tv.Usec)), SourceKernelMicro, true
	}
	return Timestamp{}, SourceNone, false
}
