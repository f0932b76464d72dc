package types

import "time"

type EventType string

const (
	EventClockSkew        EventType = "ClockSkew"
	EventNegativeDelay    EventType = "NegativeDelay"
	EventSequenceMismatch EventType = "SequenceMismatch"
	EventTimeout          EventType = "Timeout"
	EventMalformed        EventType = "Malformed"
	EventDrop             EventType = "Drop"
	EventSendFailure      EventType = "SendFailure"
	EventRateLimit        EventType = "RateLimit"
)

type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"ts"`
	SessionID string            `json:"session_id,omitempty"`
	Peer      string            `json:"peer,omitempty"`
	Seq       uint32            `json:"seq,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Details   map[string]any    `json:"details,omitempty"`
}
