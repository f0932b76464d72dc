package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pingsantohq/stamp/internal/events"
	"github.com/pingsantohq/stamp/internal/metrics"
	"github.com/pingsantohq/stamp/internal/ntp"
	"github.com/pingsantohq/stamp/internal/packet"
	"github.com/pingsantohq/stamp/internal/transport"
	"github.com/pingsantohq/stamp/pkg/types"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 5 * time.Second
)

var (
	// ErrMalformed is returned for replies shorter than a reflector packet.
	ErrMalformed = errors.New("sender: malformed reply")
	// ErrSequenceMismatch is returned when a reply answers a different probe.
	ErrSequenceMismatch = errors.New("sender: sequence mismatch")
)

// Conn is the connected socket surface the sender needs.
type Conn interface {
	ReadPacket(ctx context.Context, buf []byte) (transport.Packet, error)
	Write(buf []byte) (int, error)
}

// ActivityObserver is notified after every scored reply.
type ActivityObserver interface {
	ObserveActivity(ts time.Time)
}

// Sender emits STAMP test packets and scores the reflected replies.
type Sender struct {
	conn      Conn
	clock     ntp.Clock
	logger    *log.Logger
	debug     bool
	interval  time.Duration
	timeout   time.Duration
	count     uint64
	errEst    ntp.ErrorEstimate
	sessionID string
	peer      string
	onSample  func(types.Sample)
	metrics   metrics.SenderRecorder
	events    events.Recorder
	activity  ActivityObserver
	now       func() time.Time

	buf []byte

	mu    sync.Mutex
	stats Stats
}

type Option func(*Sender)

func WithClock(clock ntp.Clock) Option {
	return func(s *Sender) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Sender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithDebug(debug bool) Option {
	return func(s *Sender) {
		s.debug = debug
	}
}

// WithInterval sets the spacing between probes. Zero sends back to back.
func WithInterval(d time.Duration) Option {
	return func(s *Sender) {
		if d >= 0 {
			s.interval = d
		}
	}
}

// WithTimeout bounds the wait for each reply.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCount stops Run after n probes. Zero runs until cancelled.
func WithCount(n uint64) Option {
	return func(s *Sender) {
		s.count = n
	}
}

func WithErrorEstimate(est ntp.ErrorEstimate) Option {
	return func(s *Sender) {
		s.errEst = est
	}
}

func WithSessionID(id string) Option {
	return func(s *Sender) {
		if id != "" {
			s.sessionID = id
		}
	}
}

// WithPeer labels samples with the reflector address.
func WithPeer(peer string) Option {
	return func(s *Sender) {
		s.peer = peer
	}
}

// WithSampleHandler receives every scored sample.
func WithSampleHandler(fn func(types.Sample)) Option {
	return func(s *Sender) {
		s.onSample = fn
	}
}

func WithMetrics(rec metrics.SenderRecorder) Option {
	return func(s *Sender) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

func WithEvents(rec events.Recorder) Option {
	return func(s *Sender) {
		if rec != nil {
			s.events = rec
		}
	}
}

func WithActivity(obs ActivityObserver) Option {
	return func(s *Sender) {
		s.activity = obs
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

func New(conn Conn, opts ...Option) *Sender {
	s := &Sender{
		conn:      conn,
		clock:     ntp.SystemClock{},
		logger:    log.New(io.Discard, "", 0),
		interval:  DefaultInterval,
		timeout:   DefaultTimeout,
		errEst:    ntp.DefaultErrorEstimate,
		sessionID: uuid.NewString(),
		metrics:   metrics.NoopSenderRecorder{},
		events:    events.NoopRecorder{},
		now:       time.Now,
		buf:       make([]byte, 65536),
		stats:     newStats(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Sender) SessionID() string { return s.sessionID }

// Stats returns a copy of the aggregate counters.
func (s *Sender) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run sends probes with sequence numbers 0, 1, 2, ... and scores each reply
// until ctx is cancelled or the configured count is reached.
func (s *Sender) Run(ctx context.Context) error {
	limit := rate.Inf
	if s.interval > 0 {
		limit = rate.Every(s.interval)
	}
	pacer := rate.NewLimiter(limit, 1)

	for seq := uint32(0); s.count == 0 || uint64(seq) < s.count; seq++ {
		if err := pacer.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sender: pacing: %w", err)
		}
		tx, err := s.SendProbe(seq)
		if err != nil {
			s.logger.Printf("probe seq=%d not sent: %v", seq, err)
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		_, err = s.ReceiveAndScore(rctx, tx)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrTimeout):
			s.logger.Printf("timeout waiting for seq=%d", seq)
		default:
			s.logger.Printf("seq=%d: %v", seq, err)
		}
	}
	return nil
}

// SendProbe captures T1 and transmits a sender packet.
func (s *Sender) SendProbe(seq uint32) (packet.SenderPacket, error) {
	t1, err := s.clock.Now()
	if err != nil {
		s.failSend()
		return packet.SenderPacket{}, err
	}
	p := packet.SenderPacket{Seq: seq, Timestamp: t1, ErrorEstimate: s.errEst}
	wire := p.Encode()
	if _, err := s.conn.Write(wire[:]); err != nil {
		s.failSend()
		return packet.SenderPacket{}, err
	}
	s.mu.Lock()
	s.stats.Sent++
	s.mu.Unlock()
	s.metrics.IncSent()
	if s.debug {
		s.logger.Printf("sent seq=%d t1=%s", seq, t1)
	}
	return p, nil
}

func (s *Sender) failSend() {
	s.mu.Lock()
	s.stats.SendFailures++
	s.mu.Unlock()
	s.metrics.IncSendFailures()
}

// ReceiveAndScore waits for the reply to tx and turns it into a sample.
// Timeouts, short replies and replies to other probes leave the RTT
// aggregates untouched.
func (s *Sender) ReceiveAndScore(ctx context.Context, tx packet.SenderPacket) (types.Sample, error) {
	pkt, err := s.conn.ReadPacket(ctx, s.buf)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			s.mu.Lock()
			s.stats.Timeouts++
			s.mu.Unlock()
			s.metrics.IncTimeouts()
			s.record(types.EventTimeout, tx.Seq, nil)
		}
		return types.Sample{}, err
	}
	if pkt.N < packet.BaseSize {
		s.mu.Lock()
		s.stats.Malformed++
		s.mu.Unlock()
		s.metrics.IncMalformed()
		s.record(types.EventMalformed, tx.Seq, map[string]any{"bytes": pkt.N})
		return types.Sample{}, fmt.Errorf("%w: %d bytes", ErrMalformed, pkt.N)
	}
	reply, err := packet.ParseReflector(s.buf[:pkt.N])
	if err != nil {
		return types.Sample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if reply.SenderSeq != tx.Seq {
		s.mu.Lock()
		s.stats.Mismatches++
		s.mu.Unlock()
		s.metrics.IncMismatches()
		s.record(types.EventSequenceMismatch, tx.Seq, map[string]any{"got": reply.SenderSeq})
		return types.Sample{}, fmt.Errorf("%w: sent %d got %d", ErrSequenceMismatch, tx.Seq, reply.SenderSeq)
	}

	t4, source := pkt.RxTimestamp, pkt.Source
	if source == ntp.SourceNone {
		if t4, err = s.clock.Now(); err != nil {
			return types.Sample{}, err
		}
		source = ntp.SourceUser
	}

	sample := Compute(
		tx.Timestamp.UnixSeconds(),
		reply.ReceiveTimestamp.UnixSeconds(),
		reply.Timestamp.UnixSeconds(),
		t4.UnixSeconds(),
	)
	sample.SessionID = s.sessionID
	sample.Seq = tx.Seq
	sample.Peer = s.peer
	sample.ObservedAt = s.now().UTC()
	sample.TTL = pkt.TTL
	sample.RxSource = source.String()

	s.mu.Lock()
	s.stats.observe(sample.RTTMs)
	if sample.Anomalous() {
		s.stats.Anomalies++
	}
	s.mu.Unlock()
	s.metrics.ObserveRTT(sample.RTTMs)
	if s.activity != nil {
		s.activity.ObserveActivity(sample.ObservedAt)
	}

	if sample.ClockSkew {
		s.metrics.IncAnomalies()
		s.logger.Printf("seq=%d: severe clock skew, T1 %.6f is after T4 %.6f", tx.Seq, sample.T1, sample.T4)
		s.record(types.EventClockSkew, tx.Seq, map[string]any{"t1": sample.T1, "t4": sample.T4})
	}
	if sample.NegativeDelay {
		if !sample.ClockSkew {
			s.metrics.IncAnomalies()
		}
		s.logger.Printf("seq=%d: negative one-way delay (forward %.3f ms, backward %.3f ms), clocks are not synchronized",
			tx.Seq, sample.ForwardMs, sample.BackwardMs)
		s.record(types.EventNegativeDelay, tx.Seq, map[string]any{"forward_ms": sample.ForwardMs, "backward_ms": sample.BackwardMs})
	}
	if s.debug {
		s.logger.Printf("seq=%d t1=%s t2=%s t3=%s t4=%s rx=%s", tx.Seq, tx.Timestamp, reply.ReceiveTimestamp, reply.Timestamp, t4, source)
	}
	if s.onSample != nil {
		s.onSample(sample)
	}
	return sample, nil
}

func (s *Sender) record(typ types.EventType, seq uint32, details map[string]any) {
	s.events.Record(types.Event{
		Type:      typ,
		Timestamp: s.now(),
		SessionID: s.sessionID,
		Peer:      s.peer,
		Seq:       seq,
		Details:   details,
	})
}
