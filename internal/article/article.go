// Package article finds the article element on a page and turns it into the
// staged payload for the compose window.
package article

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/xkilldash9x/articlemail/internal/dom"
	"github.com/xkilldash9x/articlemail/internal/sites"
	"github.com/xkilldash9x/articlemail/internal/store"
	"github.com/xkilldash9x/articlemail/internal/urlnorm"
)

// ErrNotFound means no selector matched anything on the page.
var ErrNotFound = errors.New("article: no selector matched")

// Locate returns the first element matched by the first selector, in order,
// that matches anything. Selectors that fail to parse are skipped.
func Locate(ctx context.Context, q dom.Querier, selectors []string) (dom.Element, string, error) {
	for _, sel := range selectors {
		el, ok, err := dom.QueryFirst(ctx, q, sel)
		if errors.Is(err, dom.ErrInvalidSelector) {
			continue
		}
		if err != nil {
			return dom.Element{}, "", err
		}
		if ok {
			return el, sel, nil
		}
	}
	return dom.Element{}, "", ErrNotFound
}

// ComposeHTML builds the message body: heading, source line, then the article.
func ComposeHTML(title, pageURL, articleHTML string) string {
	t := html.EscapeString(title)
	u := html.EscapeString(pageURL)
	return fmt.Sprintf("<h1>%s</h1>\n<p><strong>Source:</strong> <a href=\"%s\" target=\"_blank\">%s</a></p>\n%s", t, u, u, articleHTML)
}

// Extraction is everything pulled out of one article page.
type Extraction struct {
	URL      string
	Title    string
	Selector string
	Payload  store.StagedPayload
}

// Extract locates the article configured by cfg, makes its resource URLs
// absolute and builds the payload.
func Extract(ctx context.Context, doc dom.Document, cfg sites.SiteConfig) (Extraction, error) {
	pageURL, err := doc.URL(ctx)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to read page URL: %w", err)
	}
	title, err := doc.Title(ctx)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to read page title: %w", err)
	}

	el, sel, err := Locate(ctx, doc, cfg.Selectors)
	if err != nil {
		return Extraction{}, err
	}
	outer, err := doc.OuterHTML(ctx, el.Ref)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to read article markup: %w", err)
	}
	origin, err := urlnorm.Origin(pageURL)
	if err != nil {
		return Extraction{}, err
	}
	normalized, err := urlnorm.Normalize(outer, origin)
	if err != nil {
		return Extraction{}, err
	}

	return Extraction{
		URL:      pageURL,
		Title:    title,
		Selector: sel,
		Payload: store.StagedPayload{
			ContentHTML:    ComposeHTML(title, pageURL, normalized),
			RecipientEmail: cfg.DefaultRecipient,
			Subject:        title,
		},
	}, nil
}
