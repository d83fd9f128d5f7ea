package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/articlemail/internal/diag"
)

func TestResolve(t *testing.T) {
	configs := []SiteConfig{
		{Name: "broken", HostPattern: `example\.com/(`, Selectors: []string{"main"}},
		{Name: "empty", HostPattern: "", Selectors: []string{"main"}},
		{Name: "news", HostPattern: `example\.com/news`, Selectors: []string{".article"}},
		{Name: "catchall", HostPattern: `example\.com`, Selectors: []string{"article"}},
	}

	t.Run("first match in stored order wins", func(t *testing.T) {
		got, ok := Resolve("https://example.com/news/1", configs, nil)
		require.True(t, ok)
		assert.Equal(t, "news", got.Name)

		got, ok = Resolve("https://example.com/blog", configs, nil)
		require.True(t, ok)
		assert.Equal(t, "catchall", got.Name)
	})

	t.Run("malformed pattern is a recorded non-match", func(t *testing.T) {
		var recs []diag.Record
		tracer := diag.NewTracer(nil, diag.ForwarderFunc(func(r diag.Record) { recs = append(recs, r) }))

		got, ok := Resolve("https://example.com/news/1", configs, tracer)
		require.True(t, ok)
		assert.Equal(t, "news", got.Name, "later configs are still evaluated")

		require.Len(t, recs, 1)
		assert.Equal(t, "config_invalid_pattern", recs[0].Name)
		assert.Equal(t, "broken", recs[0].Attrs["name"])
	})

	t.Run("no match", func(t *testing.T) {
		_, ok := Resolve("https://other.org/", configs, nil)
		assert.False(t, ok)
		_, ok = Resolve("https://example.com", nil, nil)
		assert.False(t, ok)
	})

	t.Run("pattern is matched against the full URL", func(t *testing.T) {
		c := []SiteConfig{{HostPattern: `/posts/\d+$`, Selectors: []string{"x"}}}
		_, ok := Resolve("https://blog.test/posts/42", c, nil)
		assert.True(t, ok)
	})
}

func TestNormalizeAndValidate(t *testing.T) {
	c := SiteConfig{
		Name:        "  news ",
		HostPattern: "example",
		Selectors:   []string{" .article ", "", "   ", "article"},
	}.Normalize()
	assert.Equal(t, "news", c.Name)
	assert.Equal(t, []string{".article", "article"}, c.Selectors)
	assert.NoError(t, c.Validate())

	blank := SiteConfig{HostPattern: "x", Selectors: []string{" ", ""}}.Normalize()
	assert.ErrorIs(t, blank.Validate(), ErrNoSelectors)

	assert.ErrorIs(t, SiteConfig{Selectors: []string{"a"}}.Validate(), ErrNoHostPattern)
}

func TestFind(t *testing.T) {
	configs := []SiteConfig{{Name: "a"}, {Name: "b"}}
	assert.Equal(t, 1, Find(configs, "b"))
	assert.Equal(t, -1, Find(configs, "c"))
}
