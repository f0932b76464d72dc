//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/pingsantohq/stamp/internal/ntp"
)

func enableTimestamps(raw syscall.RawConn) ntp.Source {
	source := ntp.SourceNone
	raw.Control(func(fd uintptr) {
		if unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1) == nil {
			source = ntp.SourceKernelNano
			return
		}
		if unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1) == nil {
			source = ntp.SourceKernelMicro
		}
	})
	return source
}
