// Package report renders measurement results for terminals and pipelines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pingsantohq/stamp/internal/reflector"
	"github.com/pingsantohq/stamp/internal/sender"
	"github.com/pingsantohq/stamp/internal/transport"
	"github.com/pingsantohq/stamp/pkg/types"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

const sampleHeader = "Seq\tFwd(ms)\t\tBwd(ms)\t\tRTT(ms)\tOffset(ms)\t[adj_Fwd]\t[adj_Bwd]"

// SampleWriter renders scored samples one at a time.
type SampleWriter interface {
	WriteHeader() error
	WriteSample(types.Sample) error
}

// NewSampleWriter returns the writer for format, which is "text" or "json".
func NewSampleWriter(format string, w io.Writer) (SampleWriter, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return &TextWriter{w: w}, nil
	case FormatJSON:
		return &JSONWriter{enc: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("report: unknown output format %q", format)
	}
}

// TextWriter prints one tab-separated row per sample.
type TextWriter struct {
	w io.Writer
}

func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

func (t *TextWriter) WriteHeader() error {
	_, err := fmt.Fprintf(t.w, "%s\n%s\n", sampleHeader, strings.Repeat("-", 92))
	return err
}

func (t *TextWriter) WriteSample(s types.Sample) error {
	_, err := fmt.Fprintf(t.w, "%d\t%.3f\t\t%.3f\t\t%.3f\t%.3f\t\t%.3f\t\t%.3f\n",
		s.Seq, s.ForwardMs, s.BackwardMs, s.RTTMs, s.OffsetMs, s.AdjForwardMs, s.AdjBackwardMs)
	return err
}

// JSONWriter emits one JSON object per line.
type JSONWriter struct {
	enc *json.Encoder
}

func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{enc: json.NewEncoder(w)}
}

func (j *JSONWriter) WriteHeader() error { return nil }

func (j *JSONWriter) WriteSample(s types.Sample) error {
	return j.enc.Encode(s)
}

// SenderSummary prints the aggregate statistics shown when a sender stops.
// The RTT line is omitted when nothing was received.
func SenderSummary(w io.Writer, s sender.Stats) error {
	var b strings.Builder
	b.WriteString("\n--- STAMP Statistics ---\n")
	fmt.Fprintf(&b, "Packets sent: %d\n", s.Sent)
	fmt.Fprintf(&b, "Packets received: %d\n", s.Received)
	fmt.Fprintf(&b, "Packet loss: %.2f%%\n", s.LossPercent())
	fmt.Fprintf(&b, "Timeouts: %d\n", s.Timeouts)
	if s.Received > 0 {
		fmt.Fprintf(&b, "RTT min/avg/max = %.3f/%.3f/%.3f ms\n", s.Min(), s.AvgRTT(), s.Max())
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// ClockSkewWarning prints the advisory shown when any sample was flagged.
func ClockSkewWarning(w io.Writer) error {
	_, err := io.WriteString(w, "\nWarning: A negative delay was detected.\n"+
		"This typically indicates system clock skew.\n"+
		"Please ensure time synchronization is active on your system.\n"+
		"Tools: Windows (w32tm), Linux (chronyc/timedatectl), macOS (sntp).\n")
	return err
}

func ReflectorSummary(w io.Writer, s reflector.Stats) error {
	_, err := fmt.Fprintf(w, "\n--- STAMP Reflector Statistics ---\nPackets reflected: %d\nPackets dropped: %d\n",
		s.Reflected, s.Dropped)
	return err
}

// Reflected prints the per-datagram line of a running reflector.
func Reflected(w io.Writer, r reflector.Reflection) error {
	_, err := fmt.Fprintf(w, "Reflected packet Seq: %d from %s (%s: %d)\n",
		r.Seq, transport.FormatAddr(r.Peer), transport.TTLLabel(r.Peer), r.TTL)
	return err
}
