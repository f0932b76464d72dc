package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

const maxHostLen = 253

// ValidatePort rejects 0 and anything above 65535.
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return nil
}

// Resolve turns a host name or literal address into candidate endpoints in
// resolver order, filtered by family.
func Resolve(ctx context.Context, host string, port int, family Family) ([]netip.AddrPort, error) {
	if err := ValidatePort(port); err != nil {
		return nil, err
	}
	if len(host) > maxHostLen {
		return nil, fmt.Errorf("%w: %d characters", ErrHostTooLong, len(host))
	}
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrNoAddress)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if !family.Allows(addr) {
			return nil, fmt.Errorf("%w: %s is not %s", ErrNoAddress, host, family)
		}
		return []netip.AddrPort{netip.AddrPortFrom(addr.Unmap(), uint16(port))}, nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, family.lookupNetwork(), host)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", host, err)
	}
	out := make([]netip.AddrPort, 0, len(addrs))
	for _, addr := range addrs {
		addr = addr.Unmap()
		if !family.Allows(addr) {
			continue
		}
		out = append(out, netip.AddrPortFrom(addr, uint16(port)))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, host)
	}
	return out, nil
}
