package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/articlemail/internal/config"
	"go.uber.org/zap/zaptest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), config.StoreConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "nested", "store.db"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "bolt"}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestPayloadLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.PeekPayload(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first := StagedPayload{ContentHTML: "<h1>One</h1>", RecipientEmail: "a@example.com", Subject: "One"}
	second := StagedPayload{ContentHTML: "<h1>Two</h1>", Subject: "Two"}
	require.NoError(t, s.StagePayload(ctx, first))
	require.NoError(t, s.StagePayload(ctx, second))

	got, ok, err := s.PeekPayload(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, got, "a second stage overwrites the first")

	got, ok, err = s.TakePayload(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, got)

	_, ok, err = s.TakePayload(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "the slot is empty once taken")

	raw, present, err := s.GetRaw(ctx, KeyArticleTo)
	require.NoError(t, err)
	assert.False(t, present, "all three payload keys go together")
	assert.Nil(t, raw)
}

func TestTakePayloadSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.StagePayload(ctx, StagedPayload{ContentHTML: "<p>x</p>"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.TakePayload(ctx)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestClearPayload(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.StagePayload(ctx, StagedPayload{ContentHTML: "<p>x</p>"}))
	require.NoError(t, s.ClearPayload(ctx))
	_, ok, err := s.PeekPayload(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults when absent", func(t *testing.T) {
		s := openTestStore(t)
		got, err := s.Settings(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultSettings(), got)
		assert.True(t, got.ClipboardEnabled)
		assert.False(t, got.ClipboardPlainTextOnly)
		assert.True(t, got.ToastEnabled)
	})

	t.Run("partial records keep defaults for missing fields", func(t *testing.T) {
		s := openTestStore(t)
		require.NoError(t, s.PutJSON(ctx, KeyUserSettings, map[string]any{"clipboardPlainTextOnly": true}))
		got, err := s.Settings(ctx)
		require.NoError(t, err)
		assert.Equal(t, UserSettings{ClipboardEnabled: true, ClipboardPlainTextOnly: true, ToastEnabled: true}, got)
	})

	t.Run("round trip", func(t *testing.T) {
		s := openTestStore(t)
		want := UserSettings{ClipboardEnabled: false, ToastEnabled: false}
		require.NoError(t, s.SaveSettings(ctx, want))
		got, err := s.Settings(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("corrupt record falls back to defaults", func(t *testing.T) {
		s := openTestStore(t)
		require.NoError(t, s.backend.Set(ctx, map[string]string{KeyUserSettings: "{not json"}))
		got, err := s.Settings(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultSettings(), got)
	})
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var out []string
	ok, err := s.GetJSON(ctx, "missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutJSON(ctx, KeyLastArticle, []string{"a", "b"}))
	ok, err = s.GetJSON(ctx, KeyLastArticle, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, out)

	require.NoError(t, s.Delete(ctx, KeyLastArticle))
	ok, err = s.GetJSON(ctx, KeyLastArticle, &out)
	require.NoError(t, err)
	assert.False(t, ok)
}
