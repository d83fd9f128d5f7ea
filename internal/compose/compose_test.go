package compose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"go.uber.org/zap/zaptest"
)

const gmailPage = `<html><body>
<div class="nH">
  <div aria-label="Message Body" class="Am Al editable" contenteditable="true" style="width:10px;height:10px"></div>
  <table><tr><td>
    <input name="to" aria-label="To recipients" style="width:400px;height:24px">
  </td></tr></table>
  <div class="aoT">
    <input name="subjectbox" placeholder="Subject" style="width:400px;height:24px">
  </div>
  <div aria-label="Message Body" class="Am Al editable" contenteditable="true" role="textbox" style="width:600px;height:300px"></div>
</div>
</body></html>`

func newDoc(t *testing.T, src string) *dom.Static {
	t.Helper()
	d, err := dom.NewStaticString("https://mail.google.com/mail/?view=cm&fs=1", src)
	require.NoError(t, err)
	return d
}

func defaultLocator(t *testing.T) *Locator {
	return NewLocator(config.NewDefaultConfig().Compose(), zaptest.NewLogger(t))
}

func TestLocate(t *testing.T) {
	ctx := context.Background()
	doc := newDoc(t, gmailPage)

	surface, err := defaultLocator(t).Locate(ctx, doc)
	require.NoError(t, err)
	require.True(t, surface.Complete())

	assert.Equal(t, `div[aria-label="Message Body"]`, surface.Body.Selector)
	assert.Equal(t, 600.0, surface.Body.Element.Rect.Width, "the tiny decoy body is skipped")
	assert.Equal(t, `input[name="to"]`, surface.Recipient.Selector)
	assert.Equal(t, `input[name="subjectbox"]`, surface.Subject.Selector)
	assert.Same(t, surface.Body, surface.Get(RoleBody))
}

func TestLocateRolesAreIndependent(t *testing.T) {
	ctx := context.Background()
	doc := newDoc(t, `<div aria-label="Message Body" contenteditable="true" style="width:600px;height:300px"></div>`)

	surface, err := defaultLocator(t).Locate(ctx, doc)
	require.NoError(t, err)
	assert.NotNil(t, surface.Body)
	assert.Nil(t, surface.Recipient)
	assert.Nil(t, surface.Subject)
	assert.False(t, surface.Complete())

	_, err = defaultLocator(t).Find(ctx, doc, RoleSubject)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExclusionRules(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewDefaultConfig().Compose()
	cfg.Recipient.Selectors = []string{`input[type="email"]`, `input[aria-label*="To" i]`}
	cfg.Subject.Selectors = []string{`input[aria-label*="Subject" i]`, `input.field`}
	cfg.Body.Selectors = []string{`div[g_editable="true"]`}
	l := NewLocator(cfg, zaptest.NewLogger(t))

	doc := newDoc(t, `<html><body>
<div>Cc <input type="email" id="cc" style="width:300px;height:20px"></div>
<div><input id="preview" aria-label="To (Subject line preview)" style="width:300px;height:20px"></div>
<div><input id="real-subject" aria-label="Subject" style="width:300px;height:20px"></div>
<div>Subject <input class="field" id="unlabelled" style="width:300px;height:20px"></div>
<div g_editable="true" id="body" style="width:500px;height:200px">Forward this to the subject owner</div>
</body></html>`)

	t.Run("a label naming another role first rejects the candidate", func(t *testing.T) {
		target, err := l.Find(ctx, doc, RoleSubject)
		require.NoError(t, err)
		assert.Equal(t, "real-subject", target.Element.Attr("id"))
	})

	t.Run("recipient needs evidence for its own role", func(t *testing.T) {
		target, err := l.Find(ctx, doc, RoleRecipient)
		require.NoError(t, err)
		assert.Equal(t, "preview", target.Element.Attr("id"), "the unlabelled Cc field is skipped")
	})

	t.Run("container text counts as evidence for fields", func(t *testing.T) {
		only := cfg
		only.Subject.Selectors = []string{`input.field`}
		target, err := NewLocator(only, zaptest.NewLogger(t)).Find(ctx, doc, RoleSubject)
		require.NoError(t, err)
		assert.Equal(t, "unlabelled", target.Element.Attr("id"))
	})

	t.Run("body ignores its own text", func(t *testing.T) {
		target, err := l.Find(ctx, doc, RoleBody)
		require.NoError(t, err)
		assert.Equal(t, "body", target.Element.Attr("id"))
	})
}

func TestSizeFilter(t *testing.T) {
	ctx := context.Background()
	doc := newDoc(t, `<html><body>
<div style="display:none"><input name="to" aria-label="To" id="hidden" style="width:300px;height:20px"></div>
<input name="to" aria-label="To" id="thin" style="width:300px;height:5px">
<input name="to" aria-label="To" id="ok" style="width:300px;height:20px">
</body></html>`)

	target, err := defaultLocator(t).Find(ctx, doc, RoleRecipient)
	require.NoError(t, err)
	assert.Equal(t, "ok", target.Element.Attr("id"))
}

func TestCandidates(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewDefaultConfig().Compose()
	cfg.Subject.Selectors = []string{`input[aria-label*="Subject" i]`, `input[[`}
	l := NewLocator(cfg, zaptest.NewLogger(t))
	doc := newDoc(t, `<html><body>
<div><input aria-label="To (Subject line preview)" style="width:300px;height:20px"></div>
<div><input aria-label="Subject" style="width:3px;height:20px"></div>
<div><input aria-label="Subject" style="width:300px;height:20px"></div>
</body></html>`)

	cands, err := l.Candidates(ctx, doc, RoleSubject)
	require.NoError(t, err)
	require.Len(t, cands, 4)
	assert.Equal(t, "aria-label names recipient", cands[0].Reason)
	assert.Equal(t, "too small (3x20)", cands[1].Reason)
	assert.Empty(t, cands[2].Reason)
	assert.Equal(t, "invalid selector", cands[3].Reason)

	_, err = l.Candidates(ctx, doc, Role("cc"))
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	l := defaultLocator(t)

	p, err := l.Probe(ctx, newDoc(t, gmailPage))
	require.NoError(t, err)
	assert.True(t, p.All())

	p, err = l.Probe(ctx, newDoc(t, `<html><body>
<div aria-label="Message Body" style="width:100px;height:20px"></div>
<input name="to">
</body></html>`))
	require.NoError(t, err)
	assert.Equal(t, Presence{Recipient: true}, p, "a small body does not count")
}

func TestNamesField(t *testing.T) {
	l := defaultLocator(t)
	assert.True(t, l.NamesField(dom.Element{Attrs: map[string]string{"aria-label": "To"}}))
	assert.True(t, l.NamesField(dom.Element{Attrs: map[string]string{"aria-label": "Subject"}}))
	assert.False(t, l.NamesField(dom.Element{Attrs: map[string]string{"aria-label": "Message Body"}}))
	assert.False(t, l.NamesField(dom.Element{Attrs: map[string]string{"aria-label": "Editor"}}))
}

func TestEditables(t *testing.T) {
	doc := newDoc(t, gmailPage+`<input type="hidden" name="csrf">`)
	els, err := Editables(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, els, 4, "the hidden input has no box")
	assert.Equal(t, "to", els[1].Attr("name"))
}
