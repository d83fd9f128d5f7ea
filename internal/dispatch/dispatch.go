// Package dispatch runs the send flow: resolve the site, extract the
// article, stage it, copy it and hand it to the compose window.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/articlemail/internal/article"
	"github.com/xkilldash9x/articlemail/internal/clipboard"
	"github.com/xkilldash9x/articlemail/internal/diag"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"github.com/xkilldash9x/articlemail/internal/readiness"
	"github.com/xkilldash9x/articlemail/internal/sites"
	"github.com/xkilldash9x/articlemail/internal/store"
	"go.uber.org/zap"
)

// ErrNoConfig means no site config matches the page. Callers treat it as a
// quiet no-op.
var ErrNoConfig = errors.New("dispatch: no site config matches the page")

// SiteSource loads the stored site configs.
type SiteSource interface {
	Load(ctx context.Context) ([]sites.SiteConfig, error)
}

// Stager owns the payload slot and the user settings.
type Stager interface {
	StagePayload(ctx context.Context, p store.StagedPayload) error
	Settings(ctx context.Context) (store.UserSettings, error)
}

// ArticleSaver keeps the last article for later retrieval.
type ArticleSaver interface {
	SaveArticle(ctx context.Context, content string) error
}

// Copier copies the article for the user.
type Copier interface {
	Copy(ctx context.Context, html string, settings store.UserSettings) clipboard.Result
}

// Opener opens the compose window. from is the article page, which may be
// used as the popup's opener.
type Opener interface {
	OpenCompose(ctx context.Context, from dom.Document) (dom.Document, error)
}

// Waiter waits for the compose window and injects the staged payload.
type Waiter interface {
	Run(ctx context.Context, doc dom.Document) (readiness.Result, error)
}

// Deps are the collaborators of a Sender. Saver, Copier and Tracer may be nil.
type Deps struct {
	Sites     SiteSource
	Store     Stager
	Saver     ArticleSaver
	Copier    func(page dom.Document) Copier
	Opener    Opener
	Readiness Waiter
	Logger    *zap.Logger
	Tracer    *diag.Tracer
}

// Outcome summarizes one send.
type Outcome struct {
	Site      string              `json:"site"`
	Selector  string              `json:"selector"`
	URL       string              `json:"url"`
	Title     string              `json:"title"`
	Clipboard clipboard.Result    `json:"clipboard"`
	Readiness readiness.Result    `json:"readiness"`
	Compose   dom.Document        `json:"-"`
	Payload   store.StagedPayload `json:"-"`
}

// Sender drives the send flow.
type Sender struct {
	d            Deps
	composeDelay time.Duration
	logger       *zap.Logger
}

// NewSender creates a sender. composeDelay is the pause between staging and
// opening the compose window.
func NewSender(composeDelay time.Duration, d Deps) *Sender {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{d: d, composeDelay: composeDelay, logger: logger.Named("dispatch")}
}

// Stage resolves the site for page, extracts the article and writes the
// payload slot. It returns ErrNoConfig when no site matches and
// article.ErrNotFound when no selector does.
func (s *Sender) Stage(ctx context.Context, page dom.Document) (article.Extraction, sites.SiteConfig, error) {
	pageURL, err := page.URL(ctx)
	if err != nil {
		return article.Extraction{}, sites.SiteConfig{}, fmt.Errorf("failed to read page URL: %w", err)
	}
	configs, err := s.d.Sites.Load(ctx)
	if err != nil {
		return article.Extraction{}, sites.SiteConfig{}, fmt.Errorf("failed to load site configs: %w", err)
	}

	cfg, ok := sites.Resolve(pageURL, configs, s.d.Tracer)
	if !ok {
		s.d.Tracer.Event("config_mismatch", diag.Attrs{"url": pageURL, "configs": len(configs)})
		s.logger.Info("No site config matches this page.", zap.String("url", pageURL))
		return article.Extraction{}, sites.SiteConfig{}, ErrNoConfig
	}

	ex, err := article.Extract(ctx, page, cfg)
	if errors.Is(err, article.ErrNotFound) {
		s.d.Tracer.Event("article_not_found", diag.Attrs{"url": pageURL, "site": cfg.Name, "selectors": len(cfg.Selectors)})
		s.logger.Warn("Article not found.", zap.String("url", pageURL), zap.String("site", cfg.Name))
		return article.Extraction{}, cfg, err
	}
	if err != nil {
		return article.Extraction{}, cfg, fmt.Errorf("failed to extract article: %w", err)
	}

	if err := s.d.Store.StagePayload(ctx, ex.Payload); err != nil {
		return article.Extraction{}, cfg, fmt.Errorf("failed to stage article: %w", err)
	}
	s.d.Tracer.Event("article_staged", diag.Attrs{
		"site":     cfg.Name,
		"selector": ex.Selector,
		"length":   len(ex.Payload.ContentHTML),
		"hasTo":    ex.Payload.RecipientEmail != "",
	})
	s.logger.Info("Article staged.", zap.String("site", cfg.Name), zap.String("selector", ex.Selector))

	if s.d.Saver != nil {
		if err := s.d.Saver.SaveArticle(ctx, ex.Payload.ContentHTML); err != nil {
			s.logger.Warn("Failed to save last article.", zap.Error(err))
		}
	}
	return ex, cfg, nil
}

// Send runs the whole flow for page and returns once the compose window has
// been filled or every readiness strategy has given up.
func (s *Sender) Send(ctx context.Context, page dom.Document) (Outcome, error) {
	ex, cfg, err := s.Stage(ctx, page)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Site: cfg.Name, Selector: ex.Selector, URL: ex.URL, Title: ex.Title, Payload: ex.Payload}

	if s.d.Copier != nil {
		settings, err := s.d.Store.Settings(ctx)
		if err != nil {
			s.logger.Warn("Failed to read settings, using defaults.", zap.Error(err))
			settings = store.DefaultSettings()
		}
		if c := s.d.Copier(page); c != nil {
			out.Clipboard = c.Copy(ctx, ex.Payload.ContentHTML, settings)
		}
	}

	if s.composeDelay > 0 {
		t := time.NewTimer(s.composeDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return out, ctx.Err()
		case <-t.C:
		}
	}

	composeDoc, err := s.d.Opener.OpenCompose(ctx, page)
	if err != nil {
		return out, fmt.Errorf("failed to open compose window: %w", err)
	}
	out.Compose = composeDoc

	res, err := s.d.Readiness.Run(ctx, composeDoc)
	out.Readiness = res
	if err != nil {
		return out, err
	}
	if !res.Injected {
		s.logger.Warn("The compose window was never filled.")
	}
	return out, nil
}
