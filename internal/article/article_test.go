package article

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"github.com/xkilldash9x/articlemail/internal/sites"
)

func TestLocate(t *testing.T) {
	ctx := context.Background()

	t.Run("falls back to the next selector", func(t *testing.T) {
		doc, err := dom.NewStaticString("https://example.com/x", `<body><article id="a">x</article></body>`)
		require.NoError(t, err)

		el, sel, err := Locate(ctx, doc, []string{".article", "article"})
		require.NoError(t, err)
		assert.Equal(t, "article", sel)
		assert.Equal(t, "a", el.Attr("id"))
	})

	t.Run("ordered first match, not best match", func(t *testing.T) {
		doc, err := dom.NewStaticString("https://example.com/x",
			`<body><div class="teaser">short</div><article>long long long</article><div class="teaser">2</div></body>`)
		require.NoError(t, err)

		el, sel, err := Locate(ctx, doc, []string{".teaser", "article"})
		require.NoError(t, err)
		assert.Equal(t, ".teaser", sel)
		assert.Equal(t, "short", el.ContainerText)
	})

	t.Run("invalid selectors are skipped", func(t *testing.T) {
		doc, err := dom.NewStaticString("https://example.com/x", `<main>m</main>`)
		require.NoError(t, err)

		_, sel, err := Locate(ctx, doc, []string{"[[", "main"})
		require.NoError(t, err)
		assert.Equal(t, "main", sel)
	})

	t.Run("nothing matches", func(t *testing.T) {
		doc, err := dom.NewStaticString("https://example.com/x", `<p>x</p>`)
		require.NoError(t, err)

		_, _, err = Locate(ctx, doc, []string{"article"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestComposeHTML(t *testing.T) {
	got := ComposeHTML("A & B", "https://example.com/x?a=1&b=2", "<article>x</article>")
	assert.Equal(t,
		"<h1>A &amp; B</h1>\n<p><strong>Source:</strong> <a href=\"https://example.com/x?a=1&amp;b=2\" target=\"_blank\">https://example.com/x?a=1&amp;b=2</a></p>\n<article>x</article>",
		got)
}

func TestExtract(t *testing.T) {
	ctx := context.Background()
	doc, err := dom.NewStaticString("https://example.com/news/1",
		`<html><head><title>Big News</title></head><body><article><p>Body</p><img src="/img/a.png"></article></body></html>`)
	require.NoError(t, err)

	cfg := sites.SiteConfig{Name: "ex", HostPattern: "example", Selectors: []string{".article", "article"}, DefaultRecipient: "me@example.com"}
	ex, err := Extract(ctx, doc, cfg)
	require.NoError(t, err)

	assert.Equal(t, "article", ex.Selector)
	assert.Equal(t, "Big News", ex.Title)
	assert.Equal(t, "Big News", ex.Payload.Subject)
	assert.Equal(t, "me@example.com", ex.Payload.RecipientEmail)
	assert.Contains(t, ex.Payload.ContentHTML, "<h1>Big News</h1>")
	assert.Contains(t, ex.Payload.ContentHTML, "<strong>Source:</strong>")
	assert.Contains(t, ex.Payload.ContentHTML, `src="https://example.com/img/a.png"`)

	_, err = Extract(ctx, doc, sites.SiteConfig{Selectors: []string{"main"}})
	assert.ErrorIs(t, err, ErrNotFound)
}
