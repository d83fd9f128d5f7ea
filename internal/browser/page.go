// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"go.uber.org/zap"
)

const mutationBinding = "__amMutated"

// Page is one Chrome tab. It implements dom.Document and dom.Observable.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	id     target.ID
	logger *zap.Logger
	clip   config.ClipboardConfig

	onClose   func()
	closeOnce sync.Once

	bindMu    sync.Mutex
	bindings  map[string]func(payload string)
	listening bool

	obsMu     sync.Mutex
	observers map[int]chan struct{}
	nextObs   int
	observing bool
}

var (
	_ dom.Document   = (*Page)(nil)
	_ dom.Observable = (*Page)(nil)
)

func newPage(ctx context.Context, cancel context.CancelFunc, id target.ID, clip config.ClipboardConfig, logger *zap.Logger) *Page {
	return &Page{
		ctx:       ctx,
		cancel:    cancel,
		id:        id,
		logger:    logger.Named("page").With(zap.String("target", string(id))),
		clip:      clip,
		bindings:  make(map[string]func(string)),
		observers: make(map[int]chan struct{}),
	}
}

// ID is the CDP target id.
func (p *Page) ID() target.ID { return p.id }

// Close closes the tab. It is safe to call more than once.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		if err := chromedp.Cancel(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Debug("Tab did not close cleanly.", zap.Error(err))
		}
		p.cancel()
		if p.onClose != nil {
			p.onClose()
		}
	})
}

// Done is closed when the tab goes away.
func (p *Page) Done() <-chan struct{} { return p.ctx.Done() }

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *Page) eval(ctx context.Context, body string, out any, args ...any) error {
	s, err := script(body, args...)
	if err != nil {
		return err
	}
	return scriptError(p.run(ctx, chromedp.Evaluate(s, out)))
}

func (p *Page) evalAsync(ctx context.Context, body string, out any, args ...any) error {
	s, err := asyncScript(body, args...)
	if err != nil {
		return err
	}
	await := func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true).WithUserGesture(true)
	}
	return scriptError(p.run(ctx, chromedp.Evaluate(s, out, await)))
}

// scriptError turns the registry's thrown markers into dom errors.
func scriptError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, staleMarker):
		return fmt.Errorf("%w: %s", dom.ErrStale, msg)
	case strings.Contains(msg, selectorMarker):
		return fmt.Errorf("%w: %s", dom.ErrInvalidSelector, msg)
	}
	return err
}

// Navigate loads url and waits for the body, bounded by timeout.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()
	if err := p.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitReady waits until the document has a body.
func (p *Page) WaitReady(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()
	if err := p.run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("page did not become ready: %w", err)
	}
	return nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var t string
	err := p.run(ctx, chromedp.Title(&t))
	return t, err
}

// Click clicks the first element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var h string
	err := p.run(ctx, chromedp.OuterHTML("html", &h, chromedp.ByQuery))
	return h, err
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	var els []dom.Element
	if err := p.eval(ctx, queryJS, &els, selector); err != nil {
		if errors.Is(err, dom.ErrInvalidSelector) {
			return nil, fmt.Errorf("%w: %q", dom.ErrInvalidSelector, selector)
		}
		return nil, err
	}
	return els, nil
}

func (p *Page) OuterHTML(ctx context.Context, ref dom.Ref) (string, error) {
	var s string
	err := p.eval(ctx, outerHTMLJS, &s, ref)
	return s, err
}

func (p *Page) InnerHTML(ctx context.Context, ref dom.Ref) (string, error) {
	var s string
	err := p.eval(ctx, innerHTMLJS, &s, ref)
	return s, err
}

func (p *Page) ClientWidth(ctx context.Context, ref dom.Ref) (float64, error) {
	var w float64
	err := p.eval(ctx, clientWidthJS, &w, ref)
	return w, err
}

func (p *Page) Focus(ctx context.Context, ref dom.Ref) error {
	var ok bool
	return p.eval(ctx, focusJS, &ok, ref)
}

func (p *Page) SetInnerHTML(ctx context.Context, ref dom.Ref, html string) error {
	var ok bool
	return p.eval(ctx, setInnerJS, &ok, ref, html)
}

func (p *Page) SetValue(ctx context.Context, ref dom.Ref, value string) error {
	var ok bool
	return p.eval(ctx, setValueJS, &ok, ref, value)
}

func (p *Page) Dispatch(ctx context.Context, ref dom.Ref, events ...string) error {
	if len(events) == 0 {
		return nil
	}
	var ok bool
	return p.eval(ctx, dispatchJS, &ok, ref, events)
}

func (p *Page) Images(ctx context.Context, container dom.Ref) ([]dom.Image, error) {
	var imgs []dom.Image
	err := p.eval(ctx, imagesJS, &imgs, container)
	return imgs, err
}

func (p *Page) StyleImage(ctx context.Context, img dom.Ref, css string) error {
	var ok bool
	return p.eval(ctx, styleImageJS, &ok, img, css)
}

// Observe reports DOM changes in this tab, including in documents loaded
// after the call, until ctx ends or stop is called.
func (p *Page) Observe(ctx context.Context) (<-chan struct{}, func(), error) {
	if err := p.startObserving(ctx); err != nil {
		return nil, nil, err
	}

	ch := make(chan struct{}, 1)
	p.obsMu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = ch
	p.obsMu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			p.obsMu.Lock()
			delete(p.observers, id)
			p.obsMu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-p.ctx.Done():
		}
		stop()
	}()
	return ch, stop, nil
}

func (p *Page) startObserving(ctx context.Context) error {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	if p.observing {
		return nil
	}
	if err := p.Expose(ctx, mutationBinding, func(string) { p.notify() }); err != nil {
		return err
	}
	js := fmt.Sprintf(observerJS, mutationBinding)
	if err := p.InjectScriptPersistently(ctx, js); err != nil {
		return err
	}
	if err := p.run(ctx, chromedp.Evaluate(js, nil)); err != nil {
		return fmt.Errorf("failed to start mutation observer: %w", err)
	}
	p.observing = true
	return nil
}

func (p *Page) notify() {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	for _, ch := range p.observers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
