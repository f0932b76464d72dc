package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Store maintains in-memory gauges and counters for reflector and sender telemetry.
type Store struct {
	reflected      atomic.Uint64
	reflectedBytes atomic.Uint64
	dropReasons    sync.Map // string -> *atomic.Uint64

	sent         atomic.Uint64
	sendFailures atomic.Uint64
	received     atomic.Uint64
	timeouts     atomic.Uint64
	mismatches   atomic.Uint64
	malformed    atomic.Uint64
	anomalies    atomic.Uint64
	rttLast      atomic.Uint64 // float64 bits
	rttMin       atomic.Uint64
	rttMax       atomic.Uint64
	rttSum       atomic.Uint64

	readiness readiness
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	store := &Store{}
	store.rttMin.Store(math.Float64bits(math.Inf(1)))
	store.rttMax.Store(math.Float64bits(math.Inf(-1)))
	store.readiness.init()
	return store
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	ReflectedTotal      uint64
	ReflectedBytesTotal uint64
	DroppedTotal        uint64
	Drops               []DropCount

	SentTotal         uint64
	SendFailuresTotal uint64
	ReceivedTotal     uint64
	TimeoutsTotal     uint64
	MismatchesTotal   uint64
	MalformedTotal    uint64
	AnomaliesTotal    uint64
	RTTLastMs         float64
	RTTMinMs          float64
	RTTMaxMs          float64
	RTTSumMs          float64

	Ready               bool
	ReadyReason         string
	ReadyTransitions    uint64
	NotReadyTransitions uint64
	ReadyAlerts         uint64
	ReadyCategories     []ReadinessCategory
	CategoryTransitions []CategoryCount
}

// DropCount is the number of reflector drops for one reason.
type DropCount struct {
	Reason string
	Count  uint64
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	drops := make([]DropCount, 0)
	var dropped uint64
	s.dropReasons.Range(func(key, value any) bool {
		reason, ok := key.(string)
		counter, ok2 := value.(*atomic.Uint64)
		if !ok || !ok2 || counter == nil {
			return true
		}
		n := counter.Load()
		dropped += n
		drops = append(drops, DropCount{Reason: reason, Count: n})
		return true
	})
	sort.Slice(drops, func(i, j int) bool { return drops[i].Reason < drops[j].Reason })

	snap := Snapshot{
		ReflectedTotal:      s.reflected.Load(),
		ReflectedBytesTotal: s.reflectedBytes.Load(),
		DroppedTotal:        dropped,
		Drops:               drops,
		SentTotal:           s.sent.Load(),
		SendFailuresTotal:   s.sendFailures.Load(),
		ReceivedTotal:       s.received.Load(),
		TimeoutsTotal:       s.timeouts.Load(),
		MismatchesTotal:     s.mismatches.Load(),
		MalformedTotal:      s.malformed.Load(),
		AnomaliesTotal:      s.anomalies.Load(),
		RTTLastMs:           math.Float64frombits(s.rttLast.Load()),
		RTTSumMs:            math.Float64frombits(s.rttSum.Load()),
	}
	if snap.ReceivedTotal > 0 {
		snap.RTTMinMs = math.Float64frombits(s.rttMin.Load())
		snap.RTTMaxMs = math.Float64frombits(s.rttMax.Load())
	}
	s.readiness.fill(&snap)
	return snap
}

// ReflectorRecorder returns an implementation of ReflectorRecorder backed by the store.
func (s *Store) ReflectorRecorder() ReflectorRecorder {
	return reflectorRecorder{store: s}
}

// SenderRecorder returns an implementation of SenderRecorder backed by the store.
func (s *Store) SenderRecorder() SenderRecorder {
	return senderRecorder{store: s}
}

type reflectorRecorder struct {
	store *Store
}

func (r reflectorRecorder) IncReflected(bytes int) {
	r.store.reflected.Add(1)
	if bytes > 0 {
		r.store.reflectedBytes.Add(uint64(bytes))
	}
}

func (r reflectorRecorder) IncDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if value, ok := r.store.dropReasons.Load(reason); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	actual, _ := r.store.dropReasons.LoadOrStore(reason, &atomic.Uint64{})
	actual.(*atomic.Uint64).Add(1)
}

type senderRecorder struct {
	store *Store
}

func (r senderRecorder) IncSent()         { r.store.sent.Add(1) }
func (r senderRecorder) IncSendFailures() { r.store.sendFailures.Add(1) }
func (r senderRecorder) IncTimeouts()     { r.store.timeouts.Add(1) }
func (r senderRecorder) IncMismatches()   { r.store.mismatches.Add(1) }
func (r senderRecorder) IncMalformed()    { r.store.malformed.Add(1) }
func (r senderRecorder) IncAnomalies()    { r.store.anomalies.Add(1) }

func (r senderRecorder) ObserveRTT(ms float64) {
	s := r.store
	s.received.Add(1)
	s.rttLast.Store(math.Float64bits(ms))
	addFloat(&s.rttSum, ms)
	swapIf(&s.rttMin, ms, func(cur float64) bool { return ms < cur })
	swapIf(&s.rttMax, ms, func(cur float64) bool { return ms > cur })
}

func addFloat(dst *atomic.Uint64, delta float64) {
	for {
		old := dst.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if dst.CompareAndSwap(old, next) {
			return
		}
	}
}

func swapIf(dst *atomic.Uint64, v float64, better func(cur float64) bool) {
	for {
		old := dst.Load()
		if !better(math.Float64frombits(old)) {
			return
		}
		if dst.CompareAndSwap(old, math.Float64bits(v)) {
			return
		}
	}
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	lines := []string{
		"# HELP stamp_reflector_packets_total Test packets reflected.",
		"# TYPE stamp_reflector_packets_total counter",
		fmt.Sprintf("stamp_reflector_packets_total %d", snap.ReflectedTotal),
		"# HELP stamp_reflector_bytes_total Bytes reflected.",
		"# TYPE stamp_reflector_bytes_total counter",
		fmt.Sprintf("stamp_reflector_bytes_total %d", snap.ReflectedBytesTotal),
		"# HELP stamp_reflector_dropped_total Inbound datagrams not reflected, by reason.",
		"# TYPE stamp_reflector_dropped_total counter",
	}
	if len(snap.Drops) == 0 {
		lines = append(lines, fmt.Sprintf("stamp_reflector_dropped_total{reason=%q} 0", "none"))
	}
	for _, d := range snap.Drops {
		lines = append(lines, fmt.Sprintf("stamp_reflector_dropped_total{reason=%q} %d", d.Reason, d.Count))
	}
	lines = append(lines,
		"# HELP stamp_sender_sent_total Test packets sent.",
		"# TYPE stamp_sender_sent_total counter",
		fmt.Sprintf("stamp_sender_sent_total %d", snap.SentTotal),
		"# HELP stamp_sender_send_failures_total Probes aborted before or during send.",
		"# TYPE stamp_sender_send_failures_total counter",
		fmt.Sprintf("stamp_sender_send_failures_total %d", snap.SendFailuresTotal),
		"# HELP stamp_sender_received_total Reflected packets scored.",
		"# TYPE stamp_sender_received_total counter",
		fmt.Sprintf("stamp_sender_received_total %d", snap.ReceivedTotal),
		"# HELP stamp_sender_timeouts_total Probes without a reply before the timeout.",
		"# TYPE stamp_sender_timeouts_total counter",
		fmt.Sprintf("stamp_sender_timeouts_total %d", snap.TimeoutsTotal),
		"# HELP stamp_sender_sequence_mismatch_total Replies discarded for carrying another sequence number.",
		"# TYPE stamp_sender_sequence_mismatch_total counter",
		fmt.Sprintf("stamp_sender_sequence_mismatch_total %d", snap.MismatchesTotal),
		"# HELP stamp_sender_malformed_total Replies shorter than a reflector packet.",
		"# TYPE stamp_sender_malformed_total counter",
		fmt.Sprintf("stamp_sender_malformed_total %d", snap.MalformedTotal),
		"# HELP stamp_sender_clock_anomalies_total Samples flagged for clock skew or negative delay.",
		"# TYPE stamp_sender_clock_anomalies_total counter",
		fmt.Sprintf("stamp_sender_clock_anomalies_total %d", snap.AnomaliesTotal),
		"# HELP stamp_sender_rtt_ms Round-trip time of scored samples in milliseconds.",
		"# TYPE stamp_sender_rtt_ms gauge",
		fmt.Sprintf("stamp_sender_rtt_ms{stat=%q} %g", "last", snap.RTTLastMs),
		fmt.Sprintf("stamp_sender_rtt_ms{stat=%q} %g", "min", snap.RTTMinMs),
		fmt.Sprintf("stamp_sender_rtt_ms{stat=%q} %g", "max", snap.RTTMaxMs),
		fmt.Sprintf("stamp_sender_rtt_ms{stat=%q} %g", "sum", snap.RTTSumMs),
	)
	lines = append(lines, readinessLines(snap)...)
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
