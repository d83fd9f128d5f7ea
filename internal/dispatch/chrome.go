// internal/dispatch/chrome.go
package dispatch

import (
	"context"

	"github.com/xkilldash9x/articlemail/internal/browser"
	"github.com/xkilldash9x/articlemail/internal/clipboard"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/diag"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"go.uber.org/zap"
)

// ChromeOpener opens compose windows through a browser manager. Article pages
// that are live tabs become the popup's opener.
type ChromeOpener struct {
	Manager *browser.Manager
}

func (o ChromeOpener) OpenCompose(ctx context.Context, from dom.Document) (dom.Document, error) {
	opener, _ := from.(*browser.Page)
	p, err := o.Manager.OpenCompose(ctx, opener)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ClipboardFor builds a copier for page. Live tabs get the in-page strategies
// and toasts; anything else only has the host clipboard.
func ClipboardFor(cfg config.ClipboardConfig, logger *zap.Logger, tracer *diag.Tracer) func(dom.Document) Copier {
	return func(page dom.Document) Copier {
		if p, ok := page.(*browser.Page); ok {
			return clipboard.NewCopier(cfg, p.ClipboardStrategies(), p, logger, tracer)
		}
		return clipboard.NewCopier(cfg, nil, nil, logger, tracer)
	}
}
