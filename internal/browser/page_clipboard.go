// internal/browser/page_clipboard.go
package browser

import (
	"context"
	"errors"
	"net/url"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/articlemail/internal/clipboard"
	"go.uber.org/zap"
)

const clipboardToastTTL = 3 * time.Second

var _ clipboard.Toaster = (*Page)(nil)

// ClipboardStrategies returns the in-page ways of writing the clipboard,
// richest first.
func (p *Page) ClipboardStrategies() []clipboard.Strategy {
	return []clipboard.Strategy{richClipboard{p}, textClipboard{p}, execClipboard{p}}
}

type richClipboard struct{ p *Page }

func (richClipboard) Name() string { return "clipboard_item" }
func (richClipboard) Rich() bool   { return true }

func (s richClipboard) Write(ctx context.Context, html, text string) error {
	s.p.grantClipboard(ctx)
	var ok bool
	return s.p.evalAsync(ctx, clipboardRichJS, &ok, html, text)
}

type textClipboard struct{ p *Page }

func (textClipboard) Name() string { return "write_text" }
func (textClipboard) Rich() bool   { return false }

func (s textClipboard) Write(ctx context.Context, _, text string) error {
	s.p.grantClipboard(ctx)
	var ok bool
	return s.p.evalAsync(ctx, clipboardTextJS, &ok, text)
}

type execClipboard struct{ p *Page }

func (execClipboard) Name() string { return "exec_command" }
func (execClipboard) Rich() bool   { return false }

func (s execClipboard) Write(ctx context.Context, _, text string) error {
	var ok bool
	if err := s.p.eval(ctx, clipboardExecJS, &ok, text); err != nil {
		return err
	}
	if !ok {
		return errors.New("copy command was refused")
	}
	return nil
}

// grantClipboard lets the page's origin write the clipboard without a
// prompt. Failure only means the write may be refused later.
func (p *Page) grantClipboard(ctx context.Context) {
	raw, err := p.URL(ctx)
	if err != nil {
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return
	}
	origin := u.Scheme + "://" + u.Host
	grant := cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{
		cdpbrowser.PermissionTypeClipboardReadWrite,
		cdpbrowser.PermissionTypeClipboardSanitizedWrite,
	}).WithOrigin(origin)
	if err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error { return grant.Do(c) })); err != nil {
		p.logger.Debug("Could not grant clipboard permission.", zap.String("origin", origin), zap.Error(err))
	}
}

// Toast shows a short notice at the bottom of the page.
func (p *Page) Toast(ctx context.Context, message string, ok bool) error {
	ttl := p.clip.ToastTTL
	if ttl <= 0 {
		ttl = clipboardToastTTL
	}
	var shown bool
	return p.eval(ctx, toastJS, &shown, message, ok, ttl.Milliseconds())
}
