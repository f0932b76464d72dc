package events

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/pingsantohq/stamp/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// LogRecorder writes each event as a single key=value line.
type LogRecorder struct {
	Logger *log.Logger
}

func (r LogRecorder) Record(event types.Event) {
	if r.Logger == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "event=%s", event.Type)
	if event.SessionID != "" {
		fmt.Fprintf(&b, " session=%s", event.SessionID)
	}
	if event.Peer != "" {
		fmt.Fprintf(&b, " peer=%s", event.Peer)
	}
	fmt.Fprintf(&b, " seq=%d", event.Seq)
	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, event.Details[k])
	}
	r.Logger.Print(b.String())
}
