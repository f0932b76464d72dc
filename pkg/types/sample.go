package types

import "time"

// Sample is one scored STAMP exchange. T1..T4 are Unix seconds; delays are milliseconds.
type Sample struct {
	SessionID     string    `json:"session_id" yaml:"session_id"`
	Seq           uint32    `json:"seq" yaml:"seq"`
	Peer          string    `json:"peer" yaml:"peer"`
	ObservedAt    time.Time `json:"ts" yaml:"ts"`
	T1            float64   `json:"t1" yaml:"t1"`
	T2            float64   `json:"t2" yaml:"t2"`
	T3            float64   `json:"t3" yaml:"t3"`
	T4            float64   `json:"t4" yaml:"t4"`
	ForwardMs     float64   `json:"forward_ms" yaml:"forward_ms"`
	BackwardMs    float64   `json:"backward_ms" yaml:"backward_ms"`
	RTTMs         float64   `json:"rtt_ms" yaml:"rtt_ms"`
	OffsetMs      float64   `json:"offset_ms" yaml:"offset_ms"`
	AdjForwardMs  float64   `json:"adj_forward_ms" yaml:"adj_forward_ms"`
	AdjBackwardMs float64   `json:"adj_backward_ms" yaml:"adj_backward_ms"`
	TTL           uint8     `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	RxSource      string    `json:"rx_source,omitempty" yaml:"rx_source,omitempty"`
	ClockSkew     bool      `json:"clock_skew,omitempty" yaml:"clock_skew,omitempty"`
	NegativeDelay bool      `json:"negative_delay,omitempty" yaml:"negative_delay,omitempty"`
}

// Anomalous reports whether either clock anomaly flag is set.
func (s Sample) Anomalous() bool {
	return s.ClockSkew || s.NegativeDelay
}
