// File: internal/inject/inject.go
package inject

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/articlemail/internal/compose"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/diag"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"github.com/xkilldash9x/articlemail/internal/store"
	"go.uber.org/zap"
)

// Event sequences the host UI listens for after a programmatic edit. The
// order is part of the contract with the page.
var (
	BodyEvents  = []string{dom.EventInput, dom.EventChange, dom.EventKeyUp, dom.EventPaste}
	FieldEvents = []string{dom.EventInput, dom.EventChange, dom.EventKeyUp, dom.EventBlur}
)

// Outcome is what happened to one role.
type Outcome string

const (
	OutcomeFilled   Outcome = "filled"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeNotFound Outcome = "not_found"
	OutcomeFailed   Outcome = "failed"
)

// Report summarises one injection run.
type Report struct {
	Body      Outcome `json:"body"`
	Recipient Outcome `json:"recipient"`
	Subject   Outcome `json:"subject"`
	// Verified is true when the marker was found on the first check.
	Verified bool `json:"verified"`
	// Retried is true when the body was written a second time.
	Retried bool `json:"retried"`
	Images  int  `json:"images"`
}

// Engine writes a staged payload into a resolved compose surface.
type Engine struct {
	cfg     config.InjectConfig
	locator *compose.Locator
	logger  *zap.Logger
	tracer  *diag.Tracer

	watchers sync.WaitGroup
}

// NewEngine creates an engine. tracer may be nil.
func NewEngine(cfg config.InjectConfig, locator *compose.Locator, logger *zap.Logger, tracer *diag.Tracer) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, locator: locator, logger: logger.Named("inject"), tracer: tracer}
}

// Run locates the compose fields and fills them. Each role is handled on its
// own; a missing or failing role does not stop the others. The returned error
// joins the per-role failures, or is the context error.
func (e *Engine) Run(ctx context.Context, doc dom.Document, p store.StagedPayload) (Report, error) {
	span := e.tracer.StartSpan("gmail_insert", nil)
	var report Report

	surface, err := e.locator.Locate(ctx, doc)
	if err != nil {
		span.End(diag.Attrs{"status": "locate_failed"})
		return report, fmt.Errorf("failed to locate compose fields: %w", err)
	}

	var errs []error
	if surface.Body == nil {
		e.logger.Warn("Body element not found.")
		span.Event("body_not_found", nil)
		report.Body = OutcomeNotFound
	} else {
		span.Event("gmail_body_found", diag.Attrs{
			"selector": surface.Body.Selector,
			"w":        math.Round(surface.Body.Element.Rect.Width),
			"h":        math.Round(surface.Body.Element.Rect.Height),
		})
		if err := e.fillBody(ctx, doc, surface.Body.Element.Ref, p.ContentHTML, &report, span); err != nil {
			report.Body = OutcomeFailed
			errs = append(errs, fmt.Errorf("body: %w", err))
		} else {
			report.Body = OutcomeFilled
		}
	}
	if ctx.Err() != nil {
		span.End(diag.Attrs{"status": "cancelled"})
		return report, ctx.Err()
	}

	report.Recipient, err = e.fillRole(ctx, doc, surface.Recipient, compose.RoleRecipient, p.RecipientEmail, span)
	if err != nil {
		errs = append(errs, err)
	}
	report.Subject, err = e.fillRole(ctx, doc, surface.Subject, compose.RoleSubject, p.Subject, span)
	if err != nil {
		errs = append(errs, err)
	}

	status := "success"
	if report.Body != OutcomeFilled {
		status = "body_" + string(report.Body)
	}
	span.End(diag.Attrs{"status": status, "retried": report.Retried})
	e.logger.Info("Injection finished.",
		zap.String("body", string(report.Body)),
		zap.String("recipient", string(report.Recipient)),
		zap.String("subject", string(report.Subject)),
		zap.Bool("verified", report.Verified),
		zap.Int("images", report.Images))
	return report, errors.Join(errs...)
}

// Wait blocks until every background image watcher has finished.
func (e *Engine) Wait() { e.watchers.Wait() }

func (e *Engine) fillBody(ctx context.Context, doc dom.Document, ref dom.Ref, content string, report *Report, span *diag.Span) error {
	if err := doc.Focus(ctx, ref); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	if err := sleep(ctx, e.cfg.SettleDelay); err != nil {
		return err
	}
	if err := doc.SetInnerHTML(ctx, ref, ""); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := doc.SetInnerHTML(ctx, ref, content); err != nil {
		return fmt.Errorf("set content: %w", err)
	}
	span.Event("content_inserted", diag.Attrs{"length": len(content)})

	n, err := e.fitImages(ctx, doc, ref)
	if err != nil {
		// Sizing is cosmetic.
		e.logger.Warn("Best-fit image sizing failed.", zap.Error(err))
	}
	report.Images = n
	if n == 0 {
		span.Event("no_images_found", nil)
	} else {
		span.Event("images_best_fit_applied", diag.Attrs{"count": n})
	}

	if err := doc.Dispatch(ctx, ref, BodyEvents...); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	span.Event("gmail_body_insert_complete", nil)

	if err := sleep(ctx, e.cfg.VerifyDelay); err != nil {
		return err
	}
	inner, err := doc.InnerHTML(ctx, ref)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if strings.Contains(inner, e.cfg.Marker) {
		report.Verified = true
		return nil
	}

	// One raw retry, nothing more.
	e.logger.Warn("Content insertion may have failed, retrying once.")
	span.Event("retry_body_insert", nil)
	report.Retried = true
	if err := doc.SetInnerHTML(ctx, ref, content); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return doc.Dispatch(ctx, ref, dom.EventInput)
}

func (e *Engine) fillRole(ctx context.Context, doc dom.Document, t *compose.Target, role compose.Role, value string, span *diag.Span) (Outcome, error) {
	if value == "" {
		return OutcomeSkipped, nil
	}
	if t == nil {
		e.logger.Warn("Compose field not found.", zap.String("role", string(role)))
		span.Event(string(role)+"_field_missing", nil)
		return OutcomeNotFound, nil
	}
	span.Event(string(role)+"_field_found", diag.Attrs{"selector": t.Selector})
	if err := fillField(ctx, doc, t.Element.Ref, value, e.cfg.SettleDelay); err != nil {
		return OutcomeFailed, fmt.Errorf("%s: %w", role, err)
	}
	span.Event(string(role)+"_field_filled", nil)
	return OutcomeFilled, nil
}

func fillField(ctx context.Context, doc dom.Document, ref dom.Ref, value string, settle time.Duration) error {
	if err := doc.Focus(ctx, ref); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	if err := sleep(ctx, settle); err != nil {
		return err
	}
	if err := doc.SetValue(ctx, ref, ""); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := doc.SetValue(ctx, ref, value); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	return doc.Dispatch(ctx, ref, FieldEvents...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
