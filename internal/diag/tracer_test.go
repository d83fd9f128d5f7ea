package diag

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type collect struct {
	mu   sync.Mutex
	recs []Record
}

func (c *collect) Forward(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, r)
}

func TestTracerSpans(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	fwd := &collect{}
	tr := NewTracer(zap.New(core), fwd)

	span := tr.StartSpan("inject", Attrs{"role": "body"})
	span.Event("focus", nil)
	span.Event("set_html", Attrs{"bytes": 42})
	span.End(Attrs{"ok": true})
	span.End(Attrs{"ok": false}) // ignored

	require.Len(t, fwd.recs, 3)
	assert.Equal(t, KindEvent, fwd.recs[0].Kind)
	assert.Equal(t, span.ID(), fwd.recs[0].SpanID)

	last := fwd.recs[2]
	assert.Equal(t, KindSpan, last.Kind)
	assert.Equal(t, "inject", last.Name)
	assert.Equal(t, 2, last.Events)
	assert.Equal(t, true, last.Attrs["ok"])
	assert.Equal(t, "body", last.Attrs["role"])

	assert.Len(t, tr.Buffer(), 3)
	assert.Equal(t, 3, logs.FilterMessage("trace").Len())
	assert.Equal(t, 1, logs.FilterMessage("startSpan").Len())
	for _, e := range logs.All() {
		assert.Equal(t, LoggerName, e.LoggerName)
	}
}

func TestTracerEvent(t *testing.T) {
	fwd := &collect{}
	tr := NewTracer(nil, fwd)
	tr.Event("config_mismatch", Attrs{"url": "https://example.com"})

	require.Len(t, fwd.recs, 1)
	assert.Equal(t, "config_mismatch", fwd.recs[0].Name)
	assert.Empty(t, fwd.recs[0].SpanID)
}

func TestNilTracerIsSafe(t *testing.T) {
	var tr *Tracer
	span := tr.StartSpan("x", nil)
	span.Event("y", nil)
	span.End(nil)
	tr.Event("z", nil)
	assert.Nil(t, tr.Buffer())
	assert.Empty(t, span.ID())
}

func TestParseLogLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(&buf), zapcore.DebugLevel)
	logger := zap.New(core).Named("articlemail")

	tr := NewTracer(logger, nil)
	tr.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	span := tr.StartSpan("readiness", nil)
	tr.Event("compose_max_attempts_reached", Attrs{"attempts": 50})
	span.End(nil)
	logger.Info("unrelated")

	var recs []Record
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if rec, ok := ParseLogLine([]byte(line)); ok {
			recs = append(recs, rec)
		}
	}
	require.Len(t, recs, 2)
	assert.Equal(t, "compose_max_attempts_reached", recs[0].Name)
	assert.EqualValues(t, 50, recs[0].Attrs["attempts"])
	assert.True(t, recs[0].Time.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, KindSpan, recs[1].Kind)
	assert.Equal(t, span.ID(), recs[1].ID)

	_, ok := ParseLogLine([]byte("not json"))
	assert.False(t, ok)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTable(&buf, []Record{
		{Kind: KindSpan, ID: "0123456789", Name: "inject", DurationMs: 12.34, Events: 2},
		{Kind: KindEvent, SpanID: "0123456789", Name: "focus", Attrs: Attrs{"b": 2, "a": 1}},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "12.3")
	assert.Contains(t, out, "01234567 ")
	assert.Contains(t, out, "a=1 b=2")
}
