// File: cmd/app.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/articlemail/internal/browser"
	"github.com/xkilldash9x/articlemail/internal/compose"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/diag"
	"github.com/xkilldash9x/articlemail/internal/dispatch"
	"github.com/xkilldash9x/articlemail/internal/inject"
	"github.com/xkilldash9x/articlemail/internal/observability"
	"github.com/xkilldash9x/articlemail/internal/readiness"
	"github.com/xkilldash9x/articlemail/internal/relay"
	"github.com/xkilldash9x/articlemail/internal/sites"
	"github.com/xkilldash9x/articlemail/internal/store"
	"go.uber.org/zap"
)

// app holds the components every command shares: the store, the site
// repository, the relay and the tracer feeding it.
type app struct {
	cfg    config.Interface
	logger *zap.Logger
	store  *store.Store
	sites  *sites.Repository
	relay  *relay.Relay
	tracer *diag.Tracer
}

func openApp(ctx context.Context, cfg config.Interface) (*app, error) {
	logger := observability.GetLogger()
	st, err := store.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	rl := relay.New(logger, st, cfg.Diagnostics(), 1024)
	rl.Start()
	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		sites:  sites.NewRepository(st, logger),
		relay:  rl,
		tracer: diag.NewTracer(logger, rl),
	}, nil
}

func (a *app) Close() {
	a.relay.Shutdown()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close store.", zap.Error(err))
	}
	observability.Sync()
}

// chrome is an app plus a running browser and the compose pipeline on top of it.
type chrome struct {
	*app
	manager  *browser.Manager
	locator  *compose.Locator
	engine   *inject.Engine
	detector *readiness.Detector
	sender   *dispatch.Sender
}

func openChrome(ctx context.Context, cfg config.Interface) (*chrome, error) {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m, err := browser.NewManager(ctx, cfg.Browser(), cfg.Clipboard(), a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	locator := compose.NewLocator(cfg.Compose(), a.logger)
	engine := inject.NewEngine(cfg.Inject(), locator, a.logger, a.tracer)
	detector := readiness.NewDetector(cfg.Readiness(), cfg.Inject().Marker, locator, a.store, engine, a.logger, a.tracer)
	sender := dispatch.NewSender(cfg.Browser().ComposeDelay, dispatch.Deps{
		Sites:     a.sites,
		Store:     a.store,
		Saver:     a.relay,
		Copier:    dispatch.ClipboardFor(cfg.Clipboard(), a.logger, a.tracer),
		Opener:    dispatch.ChromeOpener{Manager: m},
		Readiness: detector,
		Logger:    a.logger,
		Tracer:    a.tracer,
	})
	return &chrome{app: a, manager: m, locator: locator, engine: engine, detector: detector, sender: sender}, nil
}

func (c *chrome) Close() {
	c.engine.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.manager.Shutdown(ctx); err != nil {
		c.logger.Warn("Browser did not shut down cleanly.", zap.Error(err))
	}
	c.app.Close()
}
