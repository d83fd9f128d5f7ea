// Package clipboard copies the staged article to the clipboard as a
// convenience, trying progressively simpler methods.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/atotto/clipboard"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/diag"
	"github.com/xkilldash9x/articlemail/internal/store"
	"go.uber.org/zap"
)

// ErrUnavailable is returned by strategies that cannot run in this environment.
var ErrUnavailable = errors.New("clipboard: unavailable")

// Strategy is one way of writing the clipboard.
type Strategy interface {
	Name() string
	// Rich strategies write HTML and are skipped in plain-text-only mode.
	Rich() bool
	Write(ctx context.Context, html, text string) error
}

// Toaster shows a short notice to the user.
type Toaster interface {
	Toast(ctx context.Context, message string, ok bool) error
}

// Result tells which strategy succeeded, if any.
type Result struct {
	Copied   bool     `json:"copied"`
	Strategy string   `json:"strategy,omitempty"`
	Failures []string `json:"failures,omitempty"`
	Skipped  bool     `json:"skipped,omitempty"`
}

// Copier runs strategies in order until one succeeds.
type Copier struct {
	strategies []Strategy
	toaster    Toaster
	logger     *zap.Logger
	tracer     *diag.Tracer
}

// NewCopier creates a copier. The host strategy is appended when enabled in
// cfg. toaster and tracer may be nil.
func NewCopier(cfg config.ClipboardConfig, strategies []Strategy, toaster Toaster, logger *zap.Logger, tracer *diag.Tracer) *Copier {
	if logger == nil {
		logger = zap.NewNop()
	}
	all := append([]Strategy(nil), strategies...)
	if cfg.HostFallback {
		all = append(all, Host{})
	}
	return &Copier{strategies: all, toaster: toaster, logger: logger.Named("clipboard"), tracer: tracer}
}

// Copy writes html, with a plain-text rendering alongside, per settings.
// Failure is reported through the result and a toast, never as an error.
func (c *Copier) Copy(ctx context.Context, html string, settings store.UserSettings) Result {
	if !settings.ClipboardEnabled {
		return Result{Skipped: true}
	}
	text := PlainText(html)

	var res Result
	for _, s := range c.strategies {
		if s.Rich() && settings.ClipboardPlainTextOnly {
			continue
		}
		if err := s.Write(ctx, html, text); err != nil {
			c.logger.Debug("Clipboard strategy failed.", zap.String("strategy", s.Name()), zap.Error(err))
			res.Failures = append(res.Failures, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		res.Copied, res.Strategy = true, s.Name()
		break
	}

	if res.Copied {
		c.logger.Info("Article copied to clipboard.", zap.String("strategy", res.Strategy))
		c.tracer.Event("clipboard_copied", diag.Attrs{"strategy": res.Strategy})
		if settings.ToastEnabled {
			c.toast(ctx, "Article copied to clipboard", true)
		}
		return res
	}

	c.logger.Warn("Could not copy article to clipboard.", zap.Strings("failures", res.Failures))
	c.tracer.Event("clipboard_failed", diag.Attrs{"attempts": len(res.Failures)})
	// Total failure is the one case the user is always told about.
	c.toast(ctx, "Could not copy article to clipboard", false)
	return res
}

func (c *Copier) toast(ctx context.Context, msg string, ok bool) {
	if c.toaster == nil {
		return
	}
	if err := c.toaster.Toast(ctx, msg, ok); err != nil {
		c.logger.Debug("Failed to show toast.", zap.Error(err))
	}
}

// PlainText renders html as readable text, one block per line.
func PlainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, h1, h2, h3, h4, h5, h6, li, div, tr, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	var lines []string
	for _, l := range strings.Split(doc.Text(), "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

// Host writes plain text to the operating system clipboard.
type Host struct{}

func (Host) Name() string { return "host" }
func (Host) Rich() bool   { return false }

func (Host) Write(_ context.Context, _, text string) error {
	if clipboard.Unsupported {
		return ErrUnavailable
	}
	return clipboard.WriteAll(text)
}
