package metrics

// ReflectorRecorder receives reflector activity.
type ReflectorRecorder interface {
	IncReflected(bytes int)
	IncDropped(reason string)
}

type NoopReflectorRecorder struct{}

func (NoopReflectorRecorder) IncReflected(bytes int)   {}
func (NoopReflectorRecorder) IncDropped(reason string) {}

// SenderRecorder receives sender activity.
type SenderRecorder interface {
	IncSent()
	IncSendFailures()
	IncTimeouts()
	IncMismatches()
	IncMalformed()
	IncAnomalies()
	ObserveRTT(ms float64)
}

type NoopSenderRecorder struct{}

func (NoopSenderRecorder) IncSent()              {}
func (NoopSenderRecorder) IncSendFailures()      {}
func (NoopSenderRecorder) IncTimeouts()          {}
func (NoopSenderRecorder) IncMismatches()        {}
func (NoopSenderRecorder) IncMalformed()         {}
func (NoopSenderRecorder) IncAnomalies()         {}
func (NoopSenderRecorder) ObserveRTT(ms float64) {}

// Drop reasons used by the reflector.
const (
	DropOversized   = "oversized"
	DropSendFailure = "send_failure"
	DropClock       = "clock"
	DropRateLimited = "rate_limited"
)
