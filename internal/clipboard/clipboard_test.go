package clipboard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/store"
	"go.uber.org/zap/zaptest"
)

type fakeStrategy struct {
	name  string
	rich  bool
	err   error
	calls int
	text  string
}

func (f *fakeStrategy) Name() string { return f.name }
func (f *fakeStrategy) Rich() bool   { return f.rich }
func (f *fakeStrategy) Write(_ context.Context, _, text string) error {
	f.calls++
	f.text = text
	return f.err
}

type mockToaster struct{ mock.Mock }

func (m *mockToaster) Toast(ctx context.Context, message string, ok bool) error {
	return m.Called(ctx, message, ok).Error(0)
}

const article = `<h1>Title</h1>
<p><strong>Source:</strong> <a href="https://example.com">https://example.com</a></p>
<article><p>First   paragraph.</p><p>Second<br>line</p></article>`

func noHost() config.ClipboardConfig { return config.ClipboardConfig{HostFallback: false} }

func TestCopyFallsThrough(t *testing.T) {
	rich := &fakeStrategy{name: "rich", rich: true, err: errors.New("permission denied")}
	plain := &fakeStrategy{name: "writeText"}
	exec := &fakeStrategy{name: "execCommand"}
	toaster := &mockToaster{}
	toaster.On("Toast", mock.Anything, "Article copied to clipboard", true).Return(nil).Once()

	c := NewCopier(noHost(), []Strategy{rich, plain, exec}, toaster, zaptest.NewLogger(t), nil)
	res := c.Copy(context.Background(), article, store.DefaultSettings())

	assert.True(t, res.Copied)
	assert.Equal(t, "writeText", res.Strategy)
	assert.Len(t, res.Failures, 1)
	assert.Equal(t, 1, rich.calls)
	assert.Zero(t, exec.calls)
	assert.Equal(t, "Title\nSource: https://example.com\nFirst paragraph.\nSecond\nline", plain.text)
	toaster.AssertExpectations(t)
}

func TestCopyPlainTextOnly(t *testing.T) {
	rich := &fakeStrategy{name: "rich", rich: true}
	plain := &fakeStrategy{name: "writeText"}
	settings := store.DefaultSettings()
	settings.ClipboardPlainTextOnly = true
	settings.ToastEnabled = false

	c := NewCopier(noHost(), []Strategy{rich, plain}, nil, zaptest.NewLogger(t), nil)
	res := c.Copy(context.Background(), article, settings)

	assert.Equal(t, "writeText", res.Strategy)
	assert.Zero(t, rich.calls)
}

func TestCopyTotalFailureToasts(t *testing.T) {
	failing := &fakeStrategy{name: "writeText", err: errors.New("no focus")}
	toaster := &mockToaster{}
	toaster.On("Toast", mock.Anything, "Could not copy article to clipboard", false).Return(errors.New("page gone")).Once()
	settings := store.DefaultSettings()
	settings.ToastEnabled = false

	c := NewCopier(noHost(), []Strategy{failing}, toaster, zaptest.NewLogger(t), nil)
	res := c.Copy(context.Background(), article, settings)

	assert.False(t, res.Copied)
	assert.Equal(t, []string{"writeText: no focus"}, res.Failures)
	toaster.AssertExpectations(t)
}

func TestCopyDisabled(t *testing.T) {
	s := &fakeStrategy{name: "writeText"}
	settings := store.DefaultSettings()
	settings.ClipboardEnabled = false

	res := NewCopier(noHost(), []Strategy{s}, nil, zaptest.NewLogger(t), nil).Copy(context.Background(), article, settings)
	assert.True(t, res.Skipped)
	assert.Zero(t, s.calls)
}

func TestHostFallbackAppended(t *testing.T) {
	c := NewCopier(config.ClipboardConfig{HostFallback: true}, nil, nil, zaptest.NewLogger(t), nil)
	if assert.Len(t, c.strategies, 1) {
		assert.Equal(t, "host", c.strategies[0].Name())
		assert.False(t, c.strategies[0].Rich())
	}
}
