package sender

import "github.com/pingsantohq/stamp/pkg/types"

// Compute derives delays in milliseconds from the four exchange timestamps,
// given as Unix seconds. RTT does not depend on the clock offset between the
// two hosts; the one-way legs do. Anomalies are flagged, never filtered.
func Compute(t1, t2, t3, t4 float64) types.Sample {
	forward := (t2 - t1) * 1000
	backward := (t4 - t3) * 1000
	offset := ((t2 - t1) + (t3 - t4)) / 2 * 1000
	return types.Sample{
		T1:            t1,
		T2:            t2,
		T3:            t3,
		T4:            t4,
		ForwardMs:     forward,
		BackwardMs:    backward,
		RTTMs:         forward + backward,
		OffsetMs:      offset,
		AdjForwardMs:  forward - offset,
		AdjBackwardMs: backward + offset,
		ClockSkew:     t1 > t4,
		NegativeDelay: forward < 0 || backward < 0,
	}
}
