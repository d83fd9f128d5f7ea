// internal/browser/binding.go
package browser

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Expose makes window[name](payload) in the page call fn with the payload
// string. The binding survives navigation within the tab.
func (p *Page) Expose(ctx context.Context, name string, fn func(payload string)) error {
	p.bindMu.Lock()
	defer p.bindMu.Unlock()

	if _, ok := p.bindings[name]; ok {
		p.bindings[name] = fn
		return nil
	}
	if err := p.run(ctx, runtime.AddBinding(name)); err != nil {
		return fmt.Errorf("failed to add binding '%s': %w", name, err)
	}
	p.bindings[name] = fn

	if !p.listening {
		// One listener per tab; it looks the handler up on every call.
		chromedp.ListenTarget(p.ctx, func(ev interface{}) {
			if ev, ok := ev.(*runtime.EventBindingCalled); ok {
				p.dispatchBinding(ev.Name, ev.Payload)
			}
		})
		p.listening = true
	}
	return nil
}

func (p *Page) dispatchBinding(name, payload string) {
	p.bindMu.Lock()
	fn, ok := p.bindings[name]
	p.bindMu.Unlock()
	if !ok {
		return
	}
	// Listener callbacks run on chromedp's event loop, so handlers get their
	// own goroutine.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic during exposed function call.",
					zap.String("name", name),
					zap.Any("panic_reason", r),
					zap.String("stack", string(debug.Stack())))
			}
		}()
		fn(payload)
	}()
}

// InjectScriptPersistently runs script in every document the tab loads from
// now on.
func (p *Page) InjectScriptPersistently(ctx context.Context, script string) error {
	var scriptID page.ScriptIdentifier
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		scriptID, err = page.AddScriptToEvaluateOnNewDocument(script).Do(c)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("could not inject persistent script: %w", err)
	}
	p.logger.Debug("Injected persistent script.", zap.String("scriptID", string(scriptID)))
	return nil
}
