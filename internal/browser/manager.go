// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/articlemail/internal/browser/stealth"
	"github.com/xkilldash9x/articlemail/internal/config"
	"go.uber.org/zap"
)

// ErrClosed is returned once the manager has shut down.
var ErrClosed = errors.New("browser: manager is shut down")

// Manager owns the Chrome process and the pages opened in it.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig
	clip   config.ClipboardConfig

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	pages  map[*Page]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewManager launches Chrome and checks that it answers.
func NewManager(ctx context.Context, cfg config.BrowserConfig, clip config.ClipboardConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		clip:   clip,
		pages:  make(map[*Page]struct{}),
	}
	if err := m.launch(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) launch(ctx context.Context) error {
	m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))

	// The allocator lives until Shutdown, not until ctx ends.
	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(Detach(ctx), allocatorOptions(m.cfg, runtime.GOOS)...)

	var logOpts []chromedp.ContextOption
	if m.cfg.Debug {
		logOpts = append(logOpts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
	}
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx, logOpts...)

	startCtx, cancel := CombineContext(m.browserCtx, ctx)
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		m.browserCancel()
		m.allocCancel()
		return fmt.Errorf("failed to start browser: %w", err)
	}
	m.logger.Debug("Browser is up.")
	return nil
}

type flag struct {
	name  string
	value any
}

// allocatorFlags are the Chrome switches on top of chromedp's defaults.
func allocatorFlags(cfg config.BrowserConfig, goos string) []flag {
	flags := []flag{
		{"headless", cfg.Headless},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-gpu", cfg.Headless},
		{"disable-popup-blocking", true},
		{"window-size", fmt.Sprintf("%d,%d", max(cfg.PopupWidth, 1280), max(cfg.PopupHeight, 900))},
	}
	if goos == "linux" {
		flags = append(flags,
			flag{"no-sandbox", true},
			flag{"disable-dev-shm-usage", true},
			flag{"disable-setuid-sandbox", true},
		)
	}
	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		if name, value, ok := strings.Cut(arg, "="); ok {
			flags = append(flags, flag{name, value})
			continue
		}
		flags = append(flags, flag{arg, true})
	}
	return flags
}

func allocatorOptions(cfg config.BrowserConfig, goos string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	// A later flag replaces the default of the same name.
	opts = append(opts, chromedp.Flag("enable-automation", false))
	for _, f := range allocatorFlags(cfg, goos) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// NewPage opens a blank tab.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	return m.attach(ctx)
}

// OpenURL opens a tab and navigates it, bounded by the navigation timeout.
func (m *Manager) OpenURL(ctx context.Context, url string) (*Page, error) {
	p, err := m.attach(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.Navigate(ctx, url, m.cfg.NavigationTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// OpenCompose opens the compose URL. With an opener it is opened as a popup
// of that page, the way a user click would; a blocked popup falls back to a
// plain tab.
func (m *Manager) OpenCompose(ctx context.Context, opener *Page) (*Page, error) {
	if opener == nil {
		return m.OpenURL(ctx, m.cfg.ComposeURL)
	}

	created := chromedp.WaitNewTarget(opener.ctx, func(info *target.Info) bool {
		return info.OpenerID == opener.id
	})
	var opened bool
	if err := opener.evalAsync(ctx, openPopupJS, &opened, m.cfg.ComposeURL, popupFeatures(m.cfg.PopupWidth, m.cfg.PopupHeight)); err != nil {
		return nil, fmt.Errorf("failed to open compose popup: %w", err)
	}
	if !opened {
		m.logger.Warn("Compose popup was blocked, opening a tab instead.")
		return m.OpenURL(ctx, m.cfg.ComposeURL)
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()
	select {
	case id := <-created:
		p, err := m.attach(ctx, chromedp.WithTargetID(id))
		if err != nil {
			return nil, err
		}
		if err := p.WaitReady(ctx, m.cfg.NavigationTimeout); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	case <-waitCtx.Done():
		return nil, fmt.Errorf("compose popup did not appear: %w", waitCtx.Err())
	}
}

func (m *Manager) attach(ctx context.Context, opts ...chromedp.ContextOption) (*Page, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx, opts...)
	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	// Run with no actions creates or attaches the target.
	if err := chromedp.Run(runCtx); err != nil {
		tabCancel()
		m.wg.Done()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if m.cfg.Stealth {
		if err := chromedp.Run(runCtx, stealth.Apply(m.persona(), m.logger)); err != nil {
			m.logger.Warn("Failed to apply stealth persona.", zap.Error(err))
		}
	}

	p := newPage(tabCtx, tabCancel, chromedp.FromContext(tabCtx).Target.TargetID, m.clip, m.logger)
	p.onClose = func() {
		m.mu.Lock()
		delete(m.pages, p)
		m.mu.Unlock()
		m.wg.Done()
	}
	m.mu.Lock()
	m.pages[p] = struct{}{}
	m.mu.Unlock()
	return p, nil
}

func (m *Manager) persona() stealth.Persona {
	return stealth.Persona{UserAgent: m.cfg.UserAgent, Locale: m.cfg.Locale, Timezone: m.cfg.Timezone}
}

// Shutdown closes every page and then the browser. It waits for pages to
// finish closing or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pages := make([]*Page, 0, len(m.pages))
	for p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser.", zap.Int("open_pages", len(pages)))
	for _, p := range pages {
		p.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		m.logger.Warn("Timed out waiting for pages to close.", zap.Error(err))
	case <-time.After(10 * time.Second):
		err = errors.New("timed out waiting for pages to close")
	}

	if cerr := chromedp.Cancel(m.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
		m.logger.Debug("Browser context did not close cleanly.", zap.Error(cerr))
	}
	m.browserCancel()
	m.allocCancel()
	return err
}
