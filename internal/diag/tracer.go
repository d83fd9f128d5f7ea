// File: internal/diag/tracer.go
package diag

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LoggerName is the zap name trace records are logged under.
const LoggerName = "trace"

// Kind distinguishes span records from point events.
type Kind string

const (
	KindSpan  Kind = "span"
	KindEvent Kind = "event"
)

// Attrs are free-form diagnostic attributes.
type Attrs map[string]any

// Record is one diagnostic entry as it travels to the ring buffer.
type Record struct {
	Kind       Kind      `json:"kind"`
	ID         string    `json:"id,omitempty"`
	SpanID     string    `json:"spanId,omitempty"`
	Name       string    `json:"name"`
	Time       time.Time `json:"t"`
	DurationMs float64   `json:"durationMs,omitempty"`
	Events     int       `json:"events,omitempty"`
	Attrs      Attrs     `json:"attrs,omitempty"`
}

// Forwarder receives every finished record. Implementations must not block.
type Forwarder interface {
	Forward(Record)
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(Record)

func (f ForwarderFunc) Forward(r Record) { f(r) }

// Tracer records spans and events, logs them at debug level and forwards them.
// A nil *Tracer is valid and discards everything.
type Tracer struct {
	logger *zap.Logger
	fwd    Forwarder
	now    func() time.Time

	mu     sync.Mutex
	buffer []Record
}

// NewTracer creates a tracer. fwd may be nil.
func NewTracer(logger *zap.Logger, fwd Forwarder) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{logger: logger.Named(LoggerName), fwd: fwd, now: time.Now}
}

// Span is an open timed operation.
type Span struct {
	t      *Tracer
	id     string
	name   string
	start  time.Time
	mu     sync.Mutex
	attrs  Attrs
	events int
	ended  bool
}

// StartSpan opens a span.
func (t *Tracer) StartSpan(name string, attrs Attrs) *Span {
	if t == nil {
		return nil
	}
	s := &Span{t: t, id: uuid.NewString(), name: name, start: t.now(), attrs: copyAttrs(attrs)}
	t.logger.Debug("startSpan", zap.String("name", name), zap.String("id", s.id))
	return s
}

// Event records a point event inside the span.
func (s *Span) Event(name string, attrs Attrs) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.events++
	s.mu.Unlock()
	s.t.emit(Record{Kind: KindEvent, SpanID: s.id, Name: name, Time: s.t.now(), Attrs: copyAttrs(attrs)})
}

// End closes the span, merging attrs. Only the first call has any effect.
func (s *Span) End(attrs Attrs) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	for k, v := range attrs {
		if s.attrs == nil {
			s.attrs = Attrs{}
		}
		s.attrs[k] = v
	}
	end := s.t.now()
	rec := Record{
		Kind:       KindSpan,
		ID:         s.id,
		Name:       s.name,
		Time:       s.start,
		DurationMs: float64(end.Sub(s.start).Microseconds()) / 1000,
		Events:     s.events,
		Attrs:      copyAttrs(s.attrs),
	}
	s.mu.Unlock()
	s.t.emit(rec)
}

// ID returns the span identifier.
func (s *Span) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Event records a free-standing event.
func (t *Tracer) Event(name string, attrs Attrs) {
	if t == nil {
		return
	}
	t.emit(Record{Kind: KindEvent, Name: name, Time: t.now(), Attrs: copyAttrs(attrs)})
}

// Buffer returns a copy of every record emitted in this process.
func (t *Tracer) Buffer() []Record {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.buffer))
	copy(out, t.buffer)
	return out
}

func (t *Tracer) emit(rec Record) {
	t.mu.Lock()
	t.buffer = append(t.buffer, rec)
	t.mu.Unlock()

	fields := []zap.Field{
		zap.String("kind", string(rec.Kind)),
		zap.String("name", rec.Name),
		zap.Time("t", rec.Time),
	}
	if rec.ID != "" {
		fields = append(fields, zap.String("id", rec.ID))
	}
	if rec.SpanID != "" {
		fields = append(fields, zap.String("spanId", rec.SpanID))
	}
	if rec.Kind == KindSpan {
		fields = append(fields, zap.Float64("durationMs", rec.DurationMs), zap.Int("events", rec.Events))
	}
	if len(rec.Attrs) > 0 {
		fields = append(fields, zap.Any("attrs", rec.Attrs))
	}
	t.logger.Debug("trace", fields...)

	if t.fwd != nil {
		t.fwd.Forward(rec)
	}
}

func copyAttrs(a Attrs) Attrs {
	if len(a) == 0 {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// ParseLogLine recovers a trace record from one JSON log line. Lines that were
// not written by a Tracer report false.
func ParseLogLine(line []byte) (Record, bool) {
	var raw struct {
		Logger     string    `json:"logger"`
		Msg        string    `json:"msg"`
		Kind       Kind      `json:"kind"`
		ID         string    `json:"id"`
		SpanID     string    `json:"spanId"`
		Name       string    `json:"name"`
		Time       time.Time `json:"t"`
		DurationMs float64   `json:"durationMs"`
		Events     int       `json:"events"`
		Attrs      Attrs     `json:"attrs"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, false
	}
	if raw.Msg != "trace" || !(raw.Logger == LoggerName || strings.HasSuffix(raw.Logger, "."+LoggerName)) {
		return Record{}, false
	}
	return Record{
		Kind:       raw.Kind,
		ID:         raw.ID,
		SpanID:     raw.SpanID,
		Name:       raw.Name,
		Time:       raw.Time,
		DurationMs: raw.DurationMs,
		Events:     raw.Events,
		Attrs:      raw.Attrs,
	}, true
}

// WriteTable renders records as an aligned table.
func WriteTable(w io.Writer, recs []Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tID\tDURATION(ms)\tEVENTS\tTIME\tATTRS")
	for _, r := range recs {
		id := r.ID
		if r.Kind == KindEvent {
			id = r.SpanID
		}
		if len(id) > 8 {
			id = id[:8]
		}
		dur, events := "", ""
		if r.Kind == KindSpan {
			dur = fmt.Sprintf("%.1f", r.DurationMs)
			events = fmt.Sprint(r.Events)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Kind, r.Name, id, dur, events, r.Time.Format("15:04:05.000"), formatAttrs(r.Attrs))
	}
	return tw.Flush()
}

func formatAttrs(a Attrs) string {
	if len(a) == 0 {
		return ""
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, a[k]))
	}
	return strings.Join(parts, " ")
}
