// File: internal/readiness/readiness.go
package readiness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/articlemail/internal/compose"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/diag"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"github.com/xkilldash9x/articlemail/internal/inject"
	"github.com/xkilldash9x/articlemail/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Strategy names which detector triggered an injection.
type Strategy string

const (
	StrategyPolling  Strategy = "polling"
	StrategyForced   Strategy = "forced"
	StrategyMutation Strategy = "mutation"
	StrategyTimer    Strategy = "timer"
)

// PayloadSource is the staged payload slot. TakePayload must read and clear
// the slot atomically; it is what keeps two strategies from both injecting.
type PayloadSource interface {
	PeekPayload(ctx context.Context) (store.StagedPayload, bool, error)
	TakePayload(ctx context.Context) (store.StagedPayload, bool, error)
}

// Injector writes a payload into the page.
type Injector interface {
	Run(ctx context.Context, doc dom.Document, p store.StagedPayload) (inject.Report, error)
}

// Result describes how a run ended.
type Result struct {
	Injected bool          `json:"injected"`
	Strategy Strategy      `json:"strategy,omitempty"`
	Report   inject.Report `json:"report"`
}

// Detector waits for the compose window to be ready and injects the staged
// payload exactly once.
type Detector struct {
	cfg      config.ReadinessConfig
	marker   string
	locator  *compose.Locator
	payloads PayloadSource
	injector Injector
	logger   *zap.Logger
	tracer   *diag.Tracer
}

// NewDetector creates a detector. marker is the text whose presence means a
// body has already been filled. tracer may be nil.
func NewDetector(cfg config.ReadinessConfig, marker string, locator *compose.Locator, payloads PayloadSource, injector Injector, logger *zap.Logger, tracer *diag.Tracer) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:      cfg,
		marker:   marker,
		locator:  locator,
		payloads: payloads,
		injector: injector,
		logger:   logger.Named("readiness"),
		tracer:   tracer,
	}
}

// run is the state of one Run call.
type run struct {
	d      *Detector
	doc    dom.Document
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	result Result
}

// Run starts the polling, mutation and timer strategies and returns once one
// of them has consumed the payload, all of them have given up, or ctx ends.
func (d *Detector) Run(ctx context.Context, doc dom.Document) (Result, error) {
	if _, ok, err := d.payloads.PeekPayload(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to read staged payload: %w", err)
	} else if !ok {
		d.logger.Info("No article content staged.")
		d.tracer.Event("gmail_no_content", nil)
		return Result{}, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	r := &run{d: d, doc: doc, ctx: gctx, cancel: cancel}

	g.Go(r.poll)
	g.Go(r.observe)
	g.Go(r.timer)

	err := g.Wait()
	r.mu.Lock()
	result := r.result
	r.mu.Unlock()
	if err != nil {
		return result, err
	}
	if !result.Injected && ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// trigger claims the payload and injects it. Whoever claims the payload wins;
// everyone else finds the slot empty and does nothing. Either way the run is
// over afterwards.
func (r *run) trigger(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil || r.result.Injected {
		return nil
	}
	defer r.cancel()

	p, ok, err := r.d.payloads.TakePayload(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to claim staged payload: %w", err)
	}
	if !ok {
		r.d.logger.Debug("Staged payload already consumed.", zap.String("strategy", string(s)))
		return nil
	}

	r.d.logger.Info("Compose window ready, injecting.", zap.String("strategy", string(s)))
	report, err := r.d.injector.Run(r.ctx, r.doc, p)
	r.result = Result{Injected: true, Strategy: s, Report: report}
	if err != nil {
		// The payload is already gone; a partial injection is not retried.
		r.d.logger.Warn("Injection finished with errors.", zap.Error(err))
	}
	return nil
}

func (r *run) poll() error {
	d := r.d
	for attempt := 1; attempt <= d.cfg.PollAttempts; attempt++ {
		d.tracer.Event("compose_wait_attempt", diag.Attrs{"attempt": attempt})
		p, err := d.locator.Probe(r.ctx, r.doc)
		if r.ctx.Err() != nil {
			return nil
		}
		if err != nil {
			d.logger.Debug("Compose probe failed.", zap.Error(err), zap.Int("attempt", attempt))
		}
		d.logger.Debug("Compose elements status.",
			zap.Int("attempt", attempt),
			zap.Bool("body", p.Body),
			zap.Bool("to", p.Recipient),
			zap.Bool("subject", p.Subject))
		if p.All() {
			d.tracer.Event("compose_all_elements_found", nil)
			if !sleep(r.ctx, d.cfg.PollSettle) {
				return nil
			}
			return r.trigger(StrategyPolling)
		}
		if !sleep(r.ctx, d.cfg.PollInterval) {
			return nil
		}
	}

	d.logger.Error("Compose window not found after maximum attempts, trying anyway.",
		zap.Int("attempts", d.cfg.PollAttempts))
	d.tracer.Event("compose_max_attempts_reached", diag.Attrs{"attempts": d.cfg.PollAttempts})
	r.dumpEditables()
	return r.trigger(StrategyForced)
}

func (r *run) dumpEditables() {
	els, err := compose.Editables(r.ctx, r.doc)
	if err != nil {
		return
	}
	for i, el := range els {
		r.d.logger.Debug("Editable element.",
			zap.Int("index", i),
			zap.String("tag", el.Tag),
			zap.String("name", el.Attr("name")),
			zap.String("aria_label", el.Attr("aria-label")),
			zap.String("placeholder", el.Attr("placeholder")),
			zap.String("class", el.ClassName),
			zap.String("size", fmt.Sprintf("%.0fx%.0f", el.Rect.Width, el.Rect.Height)))
	}
}

func (r *run) observe() error {
	d := r.d
	obs, ok := r.doc.(dom.Observable)
	if !ok {
		d.logger.Debug("Document does not support mutation observation.")
		return nil
	}
	octx, cancel := context.WithTimeout(r.ctx, d.cfg.ObserveTimeout)
	defer cancel()

	changes, stop, err := obs.Observe(octx)
	if err != nil {
		d.logger.Warn("Failed to observe document mutations.", zap.Error(err))
		return nil
	}
	defer stop()

	limit := rate.Limit(d.cfg.ObserveRate)
	if d.cfg.ObserveRate <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, 1)

	for {
		select {
		case <-octx.Done():
			if r.ctx.Err() == nil {
				d.logger.Debug("Stopped observing mutations after timeout.")
				d.tracer.Event("mutation_observer_expired", nil)
			}
			return nil
		case <-changes:
		}
		if err := limiter.Wait(octx); err != nil {
			continue
		}
		p, err := d.locator.Probe(octx, r.doc)
		if err != nil || !p.All() {
			continue
		}

		stop()
		d.tracer.Event("mutation_observer_detected_compose", nil)
		if _, ok, err := d.payloads.PeekPayload(r.ctx); err != nil || !ok {
			return nil
		}
		if !sleep(r.ctx, d.cfg.ObserveSettle) {
			return nil
		}
		return r.trigger(StrategyMutation)
	}
}

func (r *run) timer() error {
	d := r.d
	if !sleep(r.ctx, d.cfg.TimerDelay) {
		return nil
	}
	ticker := time.NewTicker(d.cfg.TimerInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= d.cfg.TimerAttempts; attempt++ {
		select {
		case <-r.ctx.Done():
			return nil
		case <-ticker.C:
		}
		d.tracer.Event("periodic_check_attempt", diag.Attrs{"attempt": attempt})
		if _, ok, err := d.payloads.PeekPayload(r.ctx); err != nil || !ok {
			continue
		}
		found, event := r.unfilledBody()
		if found {
			d.tracer.Event(event, nil)
			return r.trigger(StrategyTimer)
		}
	}
	d.tracer.Event("periodic_check_completed", nil)
	return nil
}

// unfilledBody looks for a body that is large enough and does not carry the
// marker yet, falling back to any large editable area that is not a field.
func (r *run) unfilledBody() (bool, string) {
	d := r.d
	if el, ok, err := d.locator.DetectBody(r.ctx, r.doc); err == nil && ok && !r.filled(el.Ref) {
		return true, "periodic_check_compose_found"
	}
	els, err := r.doc.QueryAll(r.ctx, `[contenteditable="true"]`)
	if err != nil {
		return false, ""
	}
	for _, el := range els {
		if el.Rect.Width <= d.cfg.LargeEditableWidth || el.Rect.Height <= d.cfg.LargeEditableHeight {
			continue
		}
		if d.locator.NamesField(el) || r.filled(el.Ref) {
			continue
		}
		return true, "periodic_check_large_editable_found"
	}
	return false, ""
}

func (r *run) filled(ref dom.Ref) bool {
	inner, err := r.doc.InnerHTML(r.ctx, ref)
	if err != nil {
		return true
	}
	return r.d.marker != "" && strings.Contains(inner, r.d.marker)
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
