package sender

import "math"

// Stats are the sender's aggregate counters.
type Stats struct {
	Sent         uint64
	Received     uint64
	Timeouts     uint64
	SendFailures uint64
	Mismatches   uint64
	Malformed    uint64
	Anomalies    uint64
	MinRTT       float64
	MaxRTT       float64
	SumRTT       float64
}

func newStats() Stats {
	return Stats{MinRTT: math.Inf(1), MaxRTT: math.Inf(-1)}
}

func (s *Stats) observe(rtt float64) {
	s.Received++
	s.SumRTT += rtt
	s.MinRTT = math.Min(s.MinRTT, rtt)
	s.MaxRTT = math.Max(s.MaxRTT, rtt)
}

// LossPercent is 100 * (sent - received) / sent, or 0 before anything was sent.
func (s Stats) LossPercent() float64 {
	if s.Sent == 0 {
		return 0
	}
	lost := float64(s.Sent) - float64(s.Received)
	return lost * 100 / float64(s.Sent)
}

// AvgRTT is the mean RTT of scored samples, or 0 without samples.
func (s Stats) AvgRTT() float64 {
	if s.Received == 0 {
		return 0
	}
	return s.SumRTT / float64(s.Received)
}

// Min and Max report 0 when no sample has been scored.
func (s Stats) Min() float64 {
	if s.Received == 0 {
		return 0
	}
	return s.MinRTT
}

func (s Stats) Max() float64 {
	if s.Received == 0 {
		return 0
	}
	return s.MaxRTT
}

// ClockAnomaly reports whether any sample was flagged.
func (s Stats) ClockAnomaly() bool {
	return s.Anomalies > 0
}
