package transport

import (
	"fmt"
	"net/netip"
	"strings"
)

// Family restricts which IP version a socket uses.
type Family int

const (
	FamilyAuto Family = iota
	FamilyIPv4
	FamilyIPv6
)

// ParseFamily accepts auto, ipv4, ipv6 and the short forms 4 and 6.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "any":
		return FamilyAuto, nil
	case "4", "ipv4", "inet":
		return FamilyIPv4, nil
	case "6", "ipv6", "inet6":
		return FamilyIPv6, nil
	default:
		return FamilyAuto, fmt.Errorf("transport: unknown address family %q", s)
	}
}

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "auto"
	}
}

// Allows reports whether addr is acceptable under the family restriction.
func (f Family) Allows(addr netip.Addr) bool {
	switch f {
	case FamilyIPv4:
		return addr.Unmap().Is4()
	case FamilyIPv6:
		return addr.Is6() && !addr.Is4In6()
	default:
		return addr.IsValid()
	}
}

func (f Family) lookupNetwork() string {
	switch f {
	case FamilyIPv4:
		return "ip4"
	case FamilyIPv6:
		return "ip6"
	default:
		return "ip"
	}
}

// FormatAddr renders a peer for logs, unmapping IPv4-mapped IPv6 addresses.
func FormatAddr(ap netip.AddrPort) string {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()).String()
}

// TTLLabel returns "TTL" for IPv4 peers and "Hop Limit" for IPv6 peers.
func TTLLabel(ap netip.AddrPort) string {
	if ap.Addr().Unmap().Is4() {
		return "TTL"
	}
	return "Hop Limit"
}
