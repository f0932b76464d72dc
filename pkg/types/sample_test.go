package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSampleJSONContract(t *testing.T) {
	payload := []byte(`{
        "session_id": "3f1c2f3e-8f0e-4c1b-9a55-8f6c1a2b3c4d",
        "seq": 12,
        "peer": "192.0.2.10:862",
        "ts": "2026-05-01T10:00:00Z",
        "t1": 1.0,
        "t2": 1.002,
        "t3": 1.003,
        "t4": 1.002,
        "forward_ms": 2,
        "backward_ms": -1,
        "rtt_ms": 1,
        "offset_ms": 1.5,
        "ttl": 61,
        "negative_delay": true
    }`)

	var s Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if s.Seq != 12 || s.Peer != "192.0.2.10:862" || s.TTL != 61 {
		t.Fatalf("unexpected identity fields: %+v", s)
	}
	if !s.ObservedAt.Equal(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected ts: %s", s.ObservedAt)
	}
	if s.BackwardMs != -1 || s.OffsetMs != 1.5 {
		t.Fatalf("unexpected delays: %+v", s)
	}
	if !s.Anomalous() || s.ClockSkew {
		t.Fatalf("expected negative delay only, got %+v", s)
	}
}

func TestSampleOmitsCleanFlags(t *testing.T) {
	payload, err := json.Marshal(Sample{Seq: 1, RTTMs: 2})
	if err != nil {
		t.Fatalf("marshal sample: %v", err)
	}
	if strings.Contains(string(payload), "clock_skew") || strings.Contains(string(payload), "negative_delay") {
		t.Fatalf("expected anomaly flags omitted: %s", payload)
	}
}

func TestEventJSON(t *testing.T) {
	ev := Event{Type: EventSequenceMismatch, Timestamp: time.Unix(0, 0).UTC(), Seq: 4, Details: map[string]any{"got": 3}}
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if !strings.Contains(string(payload), `"type":"SequenceMismatch"`) {
		t.Fatalf("unexpected payload: %s", payload)
	}
}
