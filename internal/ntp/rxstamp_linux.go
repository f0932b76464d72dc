//go:build linux

package ntp

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ParseKernelTimestamp scans socket control data for a kernel receive
// timestamp. SO_TIMESTAMPING wins over SO_TIMESTAMPNS, which wins over
// SO_TIMESTAMP. Within SO_TIMESTAMPING the first non-zero of the three
// timespecs is used, else the first.
func ParseKernelTimestamp(oob []byte) (Timestamp, Source, bool) {
	if len(oob) == 0 {
		return Timestamp{}, SourceNone, false
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return Timestamp{}, SourceNone, false
	}

	var (
		best   Timestamp
		source = SourceNone
	)
	for _, msg := range msgs {
		if msg.Header.Level != unix.SOL_SOCKET {
			continue
		}
		switch msg.Header.Type {
		case unix.SCM_TIMESTAMPING:
			if ts, ok := pickTimestamping(msg.Data); ok && source < SourceKernelTimestamping {
				best, source = ts, SourceKernelTimestamping
			}
		case unix.SCM_TIMESTAMPNS:
			if ts, ok := decodeTimespec(msg.Data); ok && source < SourceKernelNano {
				best, source = ts, SourceKernelNano
			}
		case unix.SCM_TIMESTAMP:
			if ts, ok := decodeTimeval(msg.Data); ok && source < SourceKernelMicro {
				best, source = ts, SourceKernelMicro
			}
		}
	}
	return best, source, source != SourceNone
}

const timespecSize = int(unsafe.Sizeof(unix.Timespec{}))

func pickTimestamping(data []byte) (Timestamp, bool) {
	var stamps []unix.Timespec
	for off := 0; off+timespecSize <= len(data) && len(stamps) < 3; off += timespecSize {
		stamps = append(stamps, *(*unix.Timespec)(unsafe.Pointer(&data[off])))
	}
	if len(stamps) == 0 {
		return Timestamp{}, false
	}
	chosen := stamps[0]
	for _, ts := range stamps {
		if ts.Sec != 0 || ts.Nsec != 0 {
			chosen = ts
			break
		}
	}
	sec, nsec := chosen.Unix()
	return FromUnix(sec, nsec), true
}

func decodeTimespec(data []byte) (Timestamp, bool) {
	if len(data) < timespecSize {
		return Timestamp{}, false
	}
	ts := *(*unix.Timespec)(unsafe.Pointer(&data[0]))
	sec, nsec := ts.Unix()
	return FromUnix(sec, nsec), true
}

func decodeTimeval(data []byte) (Timestamp, bool) {
	if len(data) < int(unsafe.Sizeof(unix.Timeval{})) {
		return Timestamp{}, false
	}
	tv := *(*unix.Timeval)(unsafe.Pointer(&data[0]))
	return FromUnixMicro(int64(tv.Sec), int64(tv.Usec)), true
}
