package reflector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pingsantohq/stamp/internal/events"
	"github.com/pingsantohq/stamp/internal/metrics"
	"github.com/pingsantohq/stamp/internal/ntp"
	"github.com/pingsantohq/stamp/internal/packet"
	"github.com/pingsantohq/stamp/internal/transport"
	"github.com/pingsantohq/stamp/pkg/types"
)

var (
	// ErrInvalidSize is returned for empty datagrams and datagrams over packet.MaxSize.
	ErrInvalidSize = errors.New("reflector: datagram size out of range")
	// ErrRateLimited is returned when the reflection budget is exhausted.
	ErrRateLimited = errors.New("reflector: rate limited")
)

// Conn is the socket surface the reflector needs.
type Conn interface {
	ReadPacket(ctx context.Context, buf []byte) (transport.Packet, error)
	WriteTo(buf []byte, dest netip.AddrPort) (int, error)
}

// ActivityObserver is notified after every successful reflection.
type ActivityObserver interface {
	ObserveActivity(ts time.Time)
}

type State int32

const (
	StateIdle State = iota
	StateReceiving
	StateReflecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateReflecting:
		return "reflecting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats are the reflector's aggregate counters.
type Stats struct {
	Reflected uint64
	Dropped   uint64
}

// Reflection describes one datagram sent back to its sender.
type Reflection struct {
	Seq   uint32
	Peer  netip.AddrPort
	TTL   uint8
	Bytes int
}

// Reflector echoes STAMP test packets in stateless mode.
type Reflector struct {
	conn      Conn
	clock     ntp.Clock
	logger    *log.Logger
	debug     bool
	errEst    ntp.ErrorEstimate
	limiter   *rate.Limiter
	metrics   metrics.ReflectorRecorder
	events    events.Recorder
	activity  ActivityObserver
	onReflect func(Reflection)
	now       func() time.Time

	buf       []byte
	state     atomic.Int32
	reflected atomic.Uint64
	dropped   atomic.Uint64
}

type Option func(*Reflector)

func WithClock(clock ntp.Clock) Option {
	return func(r *Reflector) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(r *Reflector) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDebug logs every reflected packet.
func WithDebug(debug bool) Option {
	return func(r *Reflector) {
		r.debug = debug
	}
}

func WithErrorEstimate(est ntp.ErrorEstimate) Option {
	return func(r *Reflector) {
		r.errEst = est
	}
}

// WithRateLimit caps reflections per second. A non-positive pps disables the cap.
func WithRateLimit(pps float64, burst int) Option {
	return func(r *Reflector) {
		if pps <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = max(1, int(pps))
		}
		r.limiter = rate.NewLimiter(rate.Limit(pps), burst)
	}
}

func WithMetrics(rec metrics.ReflectorRecorder) Option {
	return func(r *Reflector) {
		if rec != nil {
			r.metrics = rec
		}
	}
}

func WithEvents(rec events.Recorder) Option {
	return func(r *Reflector) {
		if rec != nil {
			r.events = rec
		}
	}
}

func WithActivity(obs ActivityObserver) Option {
	return func(r *Reflector) {
		r.activity = obs
	}
}

// WithReflectionHandler is called after every successful reflection.
func WithReflectionHandler(fn func(Reflection)) Option {
	return func(r *Reflector) {
		r.onReflect = fn
	}
}

func WithNow(now func() time.Time) Option {
	return func(r *Reflector) {
		if now != nil {
			r.now = now
		}
	}
}

func New(conn Conn, opts ...Option) *Reflector {
	r := &Reflector{
		conn:    conn,
		clock:   ntp.SystemClock{},
		logger:  log.New(io.Discard, "", 0),
		errEst:  ntp.DefaultErrorEstimate,
		metrics: metrics.NoopReflectorRecorder{},
		events:  events.NoopRecorder{},
		now:     time.Now,
		// one byte over the largest UDP payload so oversized datagrams are visible
		buf: make([]byte, 65536),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run reflects packets until ctx is cancelled. Per-packet failures are
// counted and logged; only a closed socket ends the loop early.
func (r *Reflector) Run(ctx context.Context) error {
	defer r.setState(StateStopped)
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.setState(StateReceiving)
		pkt, err := r.conn.ReadPacket(ctx, r.buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case errors.Is(err, transport.ErrTimeout):
			case errors.Is(err, net.ErrClosed):
				return fmt.Errorf("reflector: %w", err)
			case errors.Is(err, ntp.ErrClock) && pkt.N > 0:
				r.drop(metrics.DropClock, pkt, err)
			default:
				r.logger.Printf("receive failed: %v", err)
			}
			r.setState(StateIdle)
			continue
		}
		r.setState(StateReflecting)
		if err := r.HandlePacket(r.buf, pkt); err != nil && r.debug {
			r.logger.Printf("not reflected: %v", err)
		}
		r.setState(StateIdle)
	}
}

// HandlePacket reflects the datagram held in buf[:pkt.N] back to pkt.Peer.
// Datagrams shorter than a base packet are zero-padded to packet.BaseSize;
// anything past the first 44 bytes is echoed unchanged. T3 is taken
// immediately before the send.
func (r *Reflector) HandlePacket(buf []byte, pkt transport.Packet) error {
	n := pkt.N
	if n <= 0 || n > packet.MaxSize || n > len(buf) {
		r.drop(metrics.DropOversized, pkt, nil)
		return fmt.Errorf("%w: %d bytes", ErrInvalidSize, n)
	}
	if r.limiter != nil && !r.limiter.Allow() {
		r.drop(metrics.DropRateLimited, pkt, nil)
		return ErrRateLimited
	}
	if n < packet.BaseSize {
		if len(buf) < packet.BaseSize {
			padded := make([]byte, packet.BaseSize)
			copy(padded, buf[:n])
			buf = padded
		} else {
			clear(buf[n:packet.BaseSize])
		}
		n = packet.BaseSize
	}
	out := buf[:n]

	if err := packet.PrepareReflection(out, pkt.RxTimestamp, pkt.TTL, r.errEst); err != nil {
		r.drop(metrics.DropOversized, pkt, err)
		return err
	}
	tx, err := r.clock.Now()
	if err != nil {
		r.drop(metrics.DropClock, pkt, err)
		return err
	}
	packet.StampTransmit(out, tx)
	if _, err := r.conn.WriteTo(out, pkt.Peer); err != nil {
		r.logger.Printf("send to %s failed: %v", transport.FormatAddr(pkt.Peer), err)
		r.drop(metrics.DropSendFailure, pkt, err)
		return err
	}

	r.reflected.Add(1)
	r.metrics.IncReflected(n)
	if r.activity != nil {
		r.activity.ObserveActivity(r.now())
	}
	seq := binary.BigEndian.Uint32(out)
	if r.debug {
		r.logger.Printf("reflected %d bytes to %s seq=%d %s=%d rx=%s",
			n, transport.FormatAddr(pkt.Peer), seq, transport.TTLLabel(pkt.Peer), pkt.TTL, pkt.Source)
	}
	if r.onReflect != nil {
		r.onReflect(Reflection{Seq: seq, Peer: pkt.Peer, TTL: pkt.TTL, Bytes: n})
	}
	return nil
}

func (r *Reflector) drop(reason string, pkt transport.Packet, err error) {
	r.dropped.Add(1)
	r.metrics.IncDropped(reason)
	ev := types.Event{
		Type:      types.EventDrop,
		Timestamp: r.now(),
		Details:   map[string]any{"reason": reason, "bytes": pkt.N},
	}
	switch reason {
	case metrics.DropSendFailure:
		ev.Type = types.EventSendFailure
	case metrics.DropRateLimited:
		ev.Type = types.EventRateLimit
	}
	if pkt.Peer.IsValid() {
		ev.Peer = transport.FormatAddr(pkt.Peer)
	}
	if err != nil {
		ev.Details["error"] = err.Error()
	}
	r.events.Record(ev)
}

// Stats returns the current counters.
func (r *Reflector) Stats() Stats {
	return Stats{
		Reflected: r.reflected.Load(),
		Dropped:   r.dropped.Load(),
	}
}

func (r *Reflector) State() State {
	return State(r.state.Load())
}

func (r *Reflector) setState(s State) {
	r.state.Store(int32(s))
}
