package sender

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/pingsantohq/stamp/internal/metrics"
	"github.com/pingsantohq/stamp/internal/ntp"
	"github.com/pingsantohq/stamp/internal/packet"
	"github.com/pingsantohq/stamp/internal/transport"
	"github.com/pingsantohq/stamp/pkg/types"
)

const base = int64(1_700_000_000)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func TestComputeSymmetric(t *testing.T) {
	s := Compute(0, 0.001, 0.002, 0.003)
	if !near(s.ForwardMs, 1) || !near(s.BackwardMs, 1) || !near(s.RTTMs, 2) || !near(s.OffsetMs, 0) {
		t.Fatalf("unexpected sample %+v", s)
	}
	if s.Anomalous() {
		t.Fatalf("expected no anomaly flags got %+v", s)
	}
}

func TestComputeClockOffset(t *testing.T) {
	s := Compute(0, 0.002, 0.003, 0.002)
	if !near(s.RTTMs, 1) {
		t.Fatalf("expected rtt 1ms got %v", s.RTTMs)
	}
	if !near(s.OffsetMs, 1.5) {
		t.Fatalf("expected offset 1.5ms got %v", s.OffsetMs)
	}
	if s.BackwardMs >= 0 || !s.NegativeDelay {
		t.Fatalf("expected negative backward delay to be flagged got %+v", s)
	}
	if s.ClockSkew {
		t.Fatalf("t1 <= t4 must not be flagged as skew")
	}
	if !near(s.AdjForwardMs, 0.5) || !near(s.AdjBackwardMs, 0.5) {
		t.Fatalf("unexpected adjusted delays %v/%v", s.AdjForwardMs, s.AdjBackwardMs)
	}
}

func TestComputeSevereSkew(t *testing.T) {
	s := Compute(10, 9, 9.001, 9.5)
	if !s.ClockSkew {
		t.Fatalf("expected t1 > t4 to flag skew")
	}
}

func TestLossPercent(t *testing.T) {
	if got := (Stats{Sent: 100, Received: 95}).LossPercent(); got != 5.0 {
		t.Fatalf("expected 5.0 got %v", got)
	}
	if got := (Stats{}).LossPercent(); got != 0 {
		t.Fatalf("expected 0 got %v", got)
	}
	empty := newStats()
	if empty.AvgRTT() != 0 || empty.Min() != 0 || empty.Max() != 0 {
		t.Fatalf("expected zero aggregates without samples")
	}
}

type reply struct {
	seqOverride *uint32
	t2, t3, t4  ntp.Timestamp
	size        int
	timeout     bool
}

type fakeConn struct {
	mu       sync.Mutex
	probes   []packet.SenderPacket
	replies  []reply
	writeErr error
}

func (f *fakeConn) Write(buf []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	p, err := packet.ParseSender(buf)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.probes = append(f.probes, p)
	f.mu.Unlock()
	return len(buf), nil
}

func (f *fakeConn) ReadPacket(ctx context.Context, buf []byte) (transport.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 || len(f.probes) == 0 {
		return transport.Packet{}, transport.ErrTimeout
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.timeout {
		return transport.Packet{}, transport.ErrTimeout
	}
	probe := f.probes[len(f.probes)-1]
	seq := probe.Seq
	if r.seqOverride != nil {
		seq = *r.seqOverride
	}
	wire := packet.ReflectorPacket{
		Seq:                 seq,
		Timestamp:           r.t3,
		ErrorEstimate:       ntp.DefaultErrorEstimate,
		ReceiveTimestamp:    r.t2,
		SenderSeq:           seq,
		SenderTimestamp:     probe.Timestamp,
		SenderErrorEstimate: probe.ErrorEstimate,
		SenderTTL:           64,
	}.Encode()
	n := copy(buf, wire[:])
	if r.size > 0 {
		n = r.size
	}
	return transport.Packet{N: n, TTL: 61, HasTTL: true, RxTimestamp: r.t4, Source: ntp.SourceKernelNano}, nil
}

func fixedT1() ntp.Clock {
	return ntp.ClockFunc(func() (ntp.Timestamp, error) { return ntp.FromUnix(base, 0), nil })
}

func at(nsec int64) ntp.Timestamp {
	return ntp.FromUnix(base, nsec)
}

func goodReply() reply {
	return reply{t2: at(1_000_000), t3: at(2_000_000), t4: at(3_000_000)}
}

func TestReceiveAndScoreSymmetric(t *testing.T) {
	conn := &fakeConn{replies: []reply{goodReply()}}
	s := New(conn, WithClock(fixedT1()), WithSessionID("sess-1"), WithPeer("192.0.2.1:862"))

	tx, err := s.SendProbe(7)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sample, err := s.ReceiveAndScore(context.Background(), tx)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if sample.Seq != 7 || sample.SessionID != "sess-1" || sample.Peer != "192.0.2.1:862" || sample.TTL != 61 {
		t.Fatalf("unexpected sample identity %+v", sample)
	}
	if !near(sample.ForwardMs, 1) || !near(sample.BackwardMs, 1) || !near(sample.RTTMs, 2) || !near(sample.OffsetMs, 0) {
		t.Fatalf("unexpected delays %+v", sample)
	}
	stats := s.Stats()
	if stats.Sent != 1 || stats.Received != 1 || !near(stats.MinRTT, 2) || !near(stats.MaxRTT, 2) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestReceiveAndScoreFlagsOffset(t *testing.T) {
	// T1=0 T2=2ms T3=3ms T4=2ms
	conn := &fakeConn{replies: []reply{{t2: at(2_000_000), t3: at(3_000_000), t4: at(2_000_000)}}}
	var logs bytes.Buffer
	s := New(conn, WithClock(fixedT1()), WithLogger(log.New(&logs, "", 0)))
	tx, _ := s.SendProbe(1)
	sample, err := s.ReceiveAndScore(context.Background(), tx)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !near(sample.RTTMs, 1) || !near(sample.OffsetMs, 1.5) || !sample.NegativeDelay {
		t.Fatalf("unexpected sample %+v", sample)
	}
	stats := s.Stats()
	if stats.Received != 1 || !stats.ClockAnomaly() {
		t.Fatalf("expected flagged sample to still count got %+v", stats)
	}
	if !strings.Contains(logs.String(), "negative one-way delay") {
		t.Fatalf("expected warning in log got %q", logs.String())
	}
}

func TestSequenceMismatchDiscarded(t *testing.T) {
	stray := uint32(99)
	store := metrics.NewStore()
	var got []types.Event
	conn := &fakeConn{replies: []reply{{seqOverride: &stray, t2: at(1), t3: at(2), t4: at(3)}}}
	s := New(conn, WithClock(fixedT1()), WithMetrics(store.SenderRecorder()), WithEvents(recorderFunc(func(ev types.Event) { got = append(got, ev) })))

	tx, _ := s.SendProbe(4)
	_, err := s.ReceiveAndScore(context.Background(), tx)
	if !errors.Is(err, ErrSequenceMismatch) {
		t.Fatalf("expected ErrSequenceMismatch got %v", err)
	}
	stats := s.Stats()
	if stats.Received != 0 || stats.SumRTT != 0 || stats.Min() != 0 || stats.Max() != 0 {
		t.Fatalf("mismatch must not touch RTT aggregates got %+v", stats)
	}
	if stats.Mismatches != 1 || store.Snapshot().MismatchesTotal != 1 {
		t.Fatalf("expected mismatch to be counted")
	}
	if len(got) != 1 || got[0].Type != types.EventSequenceMismatch || got[0].Seq != 4 {
		t.Fatalf("unexpected events %+v", got)
	}
}

type recorderFunc func(types.Event)

func (f recorderFunc) Record(ev types.Event) { f(ev) }

func TestMalformedReply(t *testing.T) {
	conn := &fakeConn{replies: []reply{{size: packet.BaseSize - 1}}}
	s := New(conn, WithClock(fixedT1()))
	tx, _ := s.SendProbe(0)
	if _, err := s.ReceiveAndScore(context.Background(), tx); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed got %v", err)
	}
	if s.Stats().Malformed != 1 || s.Stats().Received != 0 {
		t.Fatalf("unexpected stats %+v", s.Stats())
	}
}

func TestTimeoutCounted(t *testing.T) {
	conn := &fakeConn{replies: []reply{{timeout: true}}}
	s := New(conn, WithClock(fixedT1()))
	tx, _ := s.SendProbe(0)
	if _, err := s.ReceiveAndScore(context.Background(), tx); !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expected ErrTimeout got %v", err)
	}
	if s.Stats().Timeouts != 1 {
		t.Fatalf("expected one timeout got %+v", s.Stats())
	}
}

func TestSendFailureCounted(t *testing.T) {
	conn := &fakeConn{writeErr: errors.New("no route to host")}
	s := New(conn, WithClock(fixedT1()))
	if _, err := s.SendProbe(0); err == nil {
		t.Fatalf("expected send error")
	}
	stats := s.Stats()
	if stats.Sent != 0 || stats.SendFailures != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	broken := New(&fakeConn{}, WithClock(ntp.ClockFunc(func() (ntp.Timestamp, error) { return ntp.Timestamp{}, ntp.ErrClock })))
	if _, err := broken.SendProbe(0); !errors.Is(err, ntp.ErrClock) {
		t.Fatalf("expected ErrClock got %v", err)
	}
}

func TestRunStopsAfterCount(t *testing.T) {
	conn := &fakeConn{replies: []reply{goodReply(), {timeout: true}, goodReply()}}
	var samples []types.Sample
	s := New(conn,
		WithClock(fixedT1()),
		WithInterval(0),
		WithCount(3),
		WithSampleHandler(func(sample types.Sample) { samples = append(samples, sample) }),
	)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := s.Stats()
	if stats.Sent != 3 || stats.Received != 2 || stats.Timeouts != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(samples) != 2 || samples[0].Seq != 0 || samples[1].Seq != 2 {
		t.Fatalf("unexpected samples %+v", samples)
	}
	if !near(stats.LossPercent(), 100.0/3) {
		t.Fatalf("unexpected loss %v", stats.LossPercent())
	}
	if len(conn.probes) != 3 || conn.probes[2].Seq != 2 || conn.probes[0].ErrorEstimate != ntp.DefaultErrorEstimate {
		t.Fatalf("unexpected probes %+v", conn.probes)
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(&fakeConn{}, WithClock(fixedT1()))
	if err := s.Run(ctx); err != nil {
		t.Fatalf("expected nil on cancel got %v", err)
	}
	if s.Stats().Sent != 0 {
		t.Fatalf("expected no probes after cancel")
	}
}

func TestDefaultSessionID(t *testing.T) {
	a := New(&fakeConn{})
	b := New(&fakeConn{})
	if a.SessionID() == "" || a.SessionID() == b.SessionID() {
		t.Fatalf("expected unique session ids got %q and %q", a.SessionID(), b.SessionID())
	}
}
