//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package ntp

// ParseKernelTimestamp always reports no timestamp; callers fall back to the clock.
func ParseKernelTimestamp(oob []byte) (Timestamp, Source, bool) {
	return Timestamp{}, SourceNone, false
}
