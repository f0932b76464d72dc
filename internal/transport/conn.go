package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/pingsantohq/stamp/internal/ntp"
)

const oobSize = 128

var aLongTimeAgo = time.Unix(1, 0)

// Capabilities records which receive metadata the socket delivers.
type Capabilities struct {
	TTL        bool
	HopLimit   bool
	Timestamps ntp.Source
}

// Packet describes one received datagram.
type Packet struct {
	N           int
	Peer        netip.AddrPort
	TTL         uint8
	HasTTL      bool
	RxTimestamp ntp.Timestamp
	Source      ntp.Source
}

// Conn is a UDP socket with TTL and receive-timestamp capture.
type Conn struct {
	conn      *net.UDPConn
	family    Family
	dualStack bool
	caps      Capabilities
	clock     ntp.Clock
	logger    *log.Logger
	oob       []byte
}

type Option func(*Conn)

// WithClock sets the fallback clock used when no kernel timestamp arrives.
func WithClock(clock ntp.Clock) Option {
	return func(c *Conn) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func newConn(udp *net.UDPConn, family Family, dual bool, opts []Option) *Conn {
	c := &Conn{
		conn:      udp,
		family:    family,
		dualStack: dual,
		clock:     ntp.SystemClock{},
		logger:    log.New(io.Discard, "", 0),
		oob:       make([]byte, oobSize),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.caps = c.enableMetadata()
	return c
}

// Listen binds a UDP socket on every local address. FamilyAuto tries an IPv6
// dual-stack socket first and falls back to IPv4 only.
func Listen(ctx context.Context, port int, family Family, opts ...Option) (*Conn, error) {
	if err := ValidatePort(port); err != nil {
		return nil, err
	}
	addr := ":" + strconv.Itoa(port)

	switch family {
	case FamilyIPv4:
		udp, err := listenUDP(ctx, "udp4", "0.0.0.0"+addr, false)
		if err != nil {
			return nil, &BindError{Port: port, Family: family, Err: err}
		}
		return newConn(udp, FamilyIPv4, false, opts), nil
	case FamilyIPv6:
		udp, err := listenUDP(ctx, "udp6", "[::]"+addr, false)
		if err != nil {
			return nil, &BindError{Port: port, Family: family, Err: err}
		}
		return newConn(udp, FamilyIPv6, false, opts), nil
	}

	udp, err6 := listenUDP(ctx, "udp6", "[::]"+addr, true)
	if err6 == nil {
		return newConn(udp, FamilyIPv6, true, opts), nil
	}
	udp, err4 := listenUDP(ctx, "udp4", "0.0.0.0"+addr, false)
	if err4 != nil {
		return nil, &BindError{Port: port, Family: family, Err: errors.Join(err6, err4)}
	}
	c := newConn(udp, FamilyIPv4, false, opts)
	c.logger.Printf("dual-stack bind failed, using IPv4 only: %v", err6)
	return c, nil
}

func listenUDP(ctx context.Context, network, address string, dual bool) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: listenControl(dual)}
	pc, err := lc.ListenPacket(ctx, network, address)
	if err != nil {
		return nil, err
	}
	udp, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("transport: unexpected packet conn %T", pc)
	}
	return udp, nil
}

// Dial resolves host and connects to the first candidate that accepts a
// connected UDP socket.
func Dial(ctx context.Context, host string, port int, family Family, opts ...Option) (*Conn, error) {
	candidates, err := Resolve(ctx, host, port, family)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, candidate := range candidates {
		network := "udp6"
		fam := FamilyIPv6
		if candidate.Addr().Is4() {
			network, fam = "udp4", FamilyIPv4
		}
		var d net.Dialer
		nc, err := d.DialContext(ctx, network, candidate.String())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		udp, ok := nc.(*net.UDPConn)
		if !ok {
			nc.Close()
			errs = append(errs, fmt.Errorf("transport: unexpected conn %T", nc))
			continue
		}
		return newConn(udp, fam, false, opts), nil
	}
	return nil, fmt.Errorf("transport: connect %s: %w", host, errors.Join(errs...))
}

func (c *Conn) enableMetadata() Capabilities {
	caps := Capabilities{}
	if c.family == FamilyIPv4 || c.dualStack {
		if err := ipv4.NewPacketConn(c.conn).SetControlMessage(ipv4.FlagTTL, true); err == nil {
			caps.TTL = true
		} else {
			c.logger.Printf("TTL capture unavailable: %v", err)
		}
	}
	if c.family == FamilyIPv6 {
		if err := ipv6.NewPacketConn(c.conn).SetControlMessage(ipv6.FlagHopLimit, true); err == nil {
			caps.HopLimit = true
		} else {
			c.logger.Printf("hop limit capture unavailable: %v", err)
		}
	}
	raw, err := c.conn.SyscallConn()
	if err != nil {
		c.logger.Printf("kernel timestamps unavailable: %v", err)
		return caps
	}
	caps.Timestamps = enableTimestamps(raw)
	if caps.Timestamps == ntp.SourceNone {
		c.logger.Printf("kernel timestamps unavailable, using software receive time")
	}
	return caps
}

// ReadPacket blocks until a datagram arrives, ctx is cancelled, or the ctx
// deadline passes. The receive timestamp comes from the kernel when possible
// and otherwise from the clock immediately after the read returns.
func (c *Conn) ReadPacket(ctx context.Context, buf []byte) (Packet, error) {
	if err := ctx.Err(); err != nil {
		return Packet{}, err
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Packet{}, fmt.Errorf("transport: set deadline: %w", err)
	}
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(aLongTimeAgo)
		close(done)
	})
	defer func() {
		if !stop() {
			<-done
		}
	}()

	n, oobn, _, peer, err := c.conn.ReadMsgUDPAddrPort(buf, c.oob)
	fallback, clockErr := c.clock.Now()
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Packet{}, ctx.Err()
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Packet{}, ErrTimeout
		}
		return Packet{}, fmt.Errorf("transport: receive: %w", err)
	}

	pkt := Packet{N: n, Peer: peer}
	oob := c.oob[:oobn]
	pkt.TTL, pkt.HasTTL = parseTTL(oob)
	if ts, src, ok := ntp.ParseKernelTimestamp(oob); ok {
		pkt.RxTimestamp, pkt.Source = ts, src
		return pkt, nil
	}
	if clockErr != nil {
		return pkt, clockErr
	}
	pkt.RxTimestamp, pkt.Source = fallback, ntp.SourceUser
	return pkt, nil
}

func parseTTL(oob []byte) (uint8, bool) {
	if len(oob) == 0 {
		return 0, false
	}
	var cm4 ipv4.ControlMessage
	if err := cm4.Parse(oob); err == nil && cm4.TTL > 0 {
		return uint8(cm4.TTL), true
	}
	var cm6 ipv6.ControlMessage
	if err := cm6.Parse(oob); err == nil && cm6.HopLimit > 0 {
		return uint8(cm6.HopLimit), true
	}
	return 0, false
}

// WriteTo sends buf to dest on an unconnected socket.
func (c *Conn) WriteTo(buf []byte, dest netip.AddrPort) (int, error) {
	n, err := c.conn.WriteToUDPAddrPort(buf, dest)
	if err != nil {
		return n, newSendError(dest, err)
	}
	return n, nil
}

// Write sends buf to the connected peer.
func (c *Conn) Write(buf []byte) (int, error) {
	n, err := c.conn.Write(buf)
	if err != nil {
		var dest netip.AddrPort
		if ra, ok := c.conn.RemoteAddr().(*net.UDPAddr); ok {
			dest = ra.AddrPort()
		}
		return n, newSendError(dest, err)
	}
	return n, nil
}

func (c *Conn) Capabilities() Capabilities { return c.caps }

func (c *Conn) Family() Family { return c.family }

func (c *Conn) DualStack() bool { return c.dualStack }

// Mode describes the listening mode for startup logs.
func (c *Conn) Mode() string {
	switch {
	case c.dualStack:
		return "dual-stack (IPv4+IPv6)"
	case c.family == FamilyIPv6:
		return "IPv6"
	default:
		return "IPv4"
	}
}

func (c *Conn) LocalAddr() netip.AddrPort {
	if la, ok := c.conn.LocalAddr().(*net.UDPAddr); ok {
		return la.AddrPort()
	}
	return netip.AddrPort{}
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
