package readiness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/articlemail/internal/compose"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/diag"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"github.com/xkilldash9x/articlemail/internal/inject"
	"github.com/xkilldash9x/articlemail/internal/store"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const composeMarkup = `
<table><tr><td><input name="to" aria-label="To recipients" style="width:400px;height:24px"></td></tr></table>
<div><input name="subjectbox" placeholder="Subject" style="width:400px;height:24px"></div>
<div aria-label="Message Body" contenteditable="true" role="textbox" style="width:500px;height:300px"></div>`

// slot is an in-memory payload slot with the same take semantics as the store.
type slot struct {
	mu      sync.Mutex
	payload *store.StagedPayload
	stolen  bool
	taken   int
	peekErr error
}

func newSlot(p *store.StagedPayload) *slot { return &slot{payload: p} }

func (s *slot) PeekPayload(context.Context) (store.StagedPayload, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peekErr != nil {
		return store.StagedPayload{}, false, s.peekErr
	}
	if s.payload == nil {
		return store.StagedPayload{}, false, nil
	}
	return *s.payload, true, nil
}

func (s *slot) TakePayload(context.Context) (store.StagedPayload, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payload == nil || s.stolen {
		return store.StagedPayload{}, false, nil
	}
	p := *s.payload
	s.payload = nil
	s.taken++
	return p, true, nil
}

type countingInjector struct {
	next  Injector
	calls atomic.Int32
}

func (c *countingInjector) Run(ctx context.Context, doc dom.Document, p store.StagedPayload) (inject.Report, error) {
	c.calls.Add(1)
	return c.next.Run(ctx, doc, p)
}

func staged() *store.StagedPayload {
	return &store.StagedPayload{
		ContentHTML:    "<h1>T</h1>\n<p><strong>Source:</strong> <a href=\"https://example.com\">x</a></p>",
		RecipientEmail: "reader@example.com",
		Subject:        "T",
	}
}

func fastConfig() config.ReadinessConfig {
	return config.ReadinessConfig{
		PollInterval:        5 * time.Millisecond,
		PollAttempts:        1000,
		PollSettle:          time.Millisecond,
		ObserveTimeout:      5 * time.Second,
		ObserveSettle:       time.Millisecond,
		ObserveRate:         0,
		TimerDelay:          time.Hour,
		TimerInterval:       5 * time.Millisecond,
		TimerAttempts:       1000,
		LargeEditableWidth:  300,
		LargeEditableHeight: 100,
	}
}

type harness struct {
	detector *Detector
	injector *countingInjector
	slot     *slot
	tracer   *diag.Tracer
}

func newHarness(t *testing.T, cfg config.ReadinessConfig, s *slot) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	tracer := diag.NewTracer(logger, nil)
	locator := compose.NewLocator(config.NewDefaultConfig().Compose(), logger)
	engine := inject.NewEngine(config.InjectConfig{Marker: "Source:", FallbackWidth: 600}, locator, logger, tracer)
	inj := &countingInjector{next: engine}
	return &harness{
		detector: NewDetector(cfg, "Source:", locator, s, inj, logger, tracer),
		injector: inj,
		slot:     s,
		tracer:   tracer,
	}
}

func (h *harness) events() []string {
	var out []string
	for _, r := range h.tracer.Buffer() {
		out = append(out, r.Name)
	}
	return out
}

func newDoc(t *testing.T, body string) *dom.Static {
	t.Helper()
	doc, err := dom.NewStaticString("https://mail.google.com/", "<html><body>"+body+"</body></html>")
	require.NoError(t, err)
	return doc
}

func TestReadyPageInjectsByPolling(t *testing.T) {
	h := newHarness(t, fastConfig(), newSlot(staged()))
	doc := newDoc(t, composeMarkup)

	res, err := h.detector.Run(context.Background(), doc)
	require.NoError(t, err)

	assert.True(t, res.Injected)
	assert.Equal(t, StrategyPolling, res.Strategy)
	assert.Equal(t, inject.OutcomeFilled, res.Report.Body)
	assert.EqualValues(t, 1, h.injector.calls.Load())
	assert.Equal(t, 1, h.slot.taken)
	assert.Contains(t, h.events(), "compose_all_elements_found")
}

func TestLateComposeInjectsExactlyOnce(t *testing.T) {
	for i := 0; i < 5; i++ {
		cfg := fastConfig()
		cfg.PollInterval = 2 * time.Millisecond
		cfg.TimerDelay = 0
		cfg.TimerInterval = 2 * time.Millisecond
		h := newHarness(t, cfg, newSlot(staged()))
		doc := newDoc(t, `<div id="app"></div>`)

		go func() {
			time.Sleep(20 * time.Millisecond)
			doc.Mutate(func(d *goquery.Document) {
				d.Find("#app").AppendHtml(composeMarkup)
			})
		}()

		res, err := h.detector.Run(context.Background(), doc)
		require.NoError(t, err)
		require.True(t, res.Injected)
		assert.Contains(t, []Strategy{StrategyPolling, StrategyMutation, StrategyTimer}, res.Strategy)
		assert.EqualValues(t, 1, h.injector.calls.Load(), "only one strategy injects")
		assert.Equal(t, 1, h.slot.taken, "the payload is consumed once")

		body, ok, err := dom.QueryFirst(context.Background(), doc, `div[aria-label="Message Body"]`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, inject.BodyEvents, doc.EventsFor(body.Ref))
	}
}

func TestExhaustedPollingForcesInjection(t *testing.T) {
	cfg := fastConfig()
	cfg.PollInterval = time.Millisecond
	cfg.PollAttempts = 3
	h := newHarness(t, cfg, newSlot(staged()))

	res, err := h.detector.Run(context.Background(), newDoc(t, `<p>Loading</p>`))
	require.NoError(t, err)

	assert.True(t, res.Injected)
	assert.Equal(t, StrategyForced, res.Strategy)
	assert.Equal(t, inject.OutcomeNotFound, res.Report.Body)
	assert.Contains(t, h.events(), "compose_max_attempts_reached")
	assert.Equal(t, 1, h.slot.taken, "the forced attempt still clears the slot")
}

func TestTimerFindsLargeEditable(t *testing.T) {
	cfg := fastConfig()
	cfg.TimerDelay = 0
	h := newHarness(t, cfg, newSlot(staged()))
	doc := newDoc(t, `
<div contenteditable="true" style="width:600px;height:300px"><p>Source: already sent</p></div>
<div contenteditable="true" aria-label="To" style="width:600px;height:300px"></div>
<div contenteditable="true" aria-label="Editor" style="width:600px;height:300px"></div>`)

	res, err := h.detector.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, res.Injected)
	assert.Equal(t, StrategyTimer, res.Strategy)
	assert.Contains(t, h.events(), "periodic_check_large_editable_found")
}

func TestNothingStaged(t *testing.T) {
	h := newHarness(t, fastConfig(), newSlot(nil))

	res, err := h.detector.Run(context.Background(), newDoc(t, composeMarkup))
	require.NoError(t, err)
	assert.False(t, res.Injected)
	assert.Zero(t, h.injector.calls.Load())
	assert.Contains(t, h.events(), "gmail_no_content")
}

func TestPayloadConsumedElsewhere(t *testing.T) {
	s := newSlot(staged())
	s.stolen = true
	h := newHarness(t, fastConfig(), s)

	res, err := h.detector.Run(context.Background(), newDoc(t, composeMarkup))
	require.NoError(t, err, "a vanished payload is a silent no-op")
	assert.False(t, res.Injected)
	assert.Zero(t, h.injector.calls.Load())
}

func TestPeekFailure(t *testing.T) {
	s := newSlot(staged())
	s.peekErr = errors.New("disk on fire")
	h := newHarness(t, fastConfig(), s)

	_, err := h.detector.Run(context.Background(), newDoc(t, composeMarkup))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestCancelledRun(t *testing.T) {
	h := newHarness(t, fastConfig(), newSlot(staged()))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := h.detector.Run(ctx, newDoc(t, `<p>Loading</p>`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, res.Injected)
	assert.Zero(t, h.injector.calls.Load())
	assert.NotNil(t, h.slot.payload, "the payload survives for the next page load")
}
