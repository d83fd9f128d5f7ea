// internal/browser/manager_test.go
package browser

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/dom"
)

func flagMap(flags []flag) map[string]any {
	m := make(map[string]any, len(flags))
	for _, f := range flags {
		m[f.name] = f.value
	}
	return m
}

func TestAllocatorFlags(t *testing.T) {
	cfg := config.BrowserConfig{
		Headless:    true,
		PopupWidth:  900,
		PopupHeight: 800,
		Args:        []string{"--lang=en-US", "mute-audio", "  ", "--proxy-server=http://127.0.0.1:8080"},
	}

	t.Run("linux", func(t *testing.T) {
		m := flagMap(allocatorFlags(cfg, "linux"))
		assert.Equal(t, true, m["headless"])
		assert.Equal(t, "AutomationControlled", m["disable-blink-features"])
		assert.Equal(t, true, m["no-sandbox"])
		assert.Equal(t, true, m["disable-dev-shm-usage"])
		assert.Equal(t, "en-US", m["lang"])
		assert.Equal(t, true, m["mute-audio"])
		assert.Equal(t, "http://127.0.0.1:8080", m["proxy-server"], "only the first = splits")
		assert.Equal(t, "1280,900", m["window-size"])
		_, blank := m[""]
		assert.False(t, blank)
	})

	t.Run("darwin", func(t *testing.T) {
		m := flagMap(allocatorFlags(cfg, "darwin"))
		_, ok := m["no-sandbox"]
		assert.False(t, ok)
	})

	t.Run("headful", func(t *testing.T) {
		m := flagMap(allocatorFlags(config.BrowserConfig{}, "linux"))
		assert.Equal(t, false, m["headless"])
		assert.Equal(t, false, m["disable-gpu"])
	})
}

func TestAllocatorOptionsIncludePaths(t *testing.T) {
	base := allocatorOptions(config.BrowserConfig{}, "linux")
	withPaths := allocatorOptions(config.BrowserConfig{ExecPath: "/opt/chrome", UserDataDir: "/tmp/profile"}, "linux")
	assert.Len(t, withPaths, len(base)+2)
}

func TestPopupFeatures(t *testing.T) {
	assert.Equal(t,
		"popup,width=900,height=800,menubar=no,toolbar=no,location=no,status=no,resizable=yes,scrollbars=yes",
		popupFeatures(900, 800))
}

func TestScriptError(t *testing.T) {
	assert.NoError(t, scriptError(nil))
	assert.ErrorIs(t, scriptError(errors.New("exception \"Uncaught Error: am:stale 4\"")), dom.ErrStale)
	assert.ErrorIs(t, scriptError(errors.New("Uncaught Error: am:selector 'div[' is not a valid selector")), dom.ErrInvalidSelector)

	other := errors.New("Cannot find context with specified id")
	assert.Same(t, other, scriptError(other))
}

func TestScriptEncodesArguments(t *testing.T) {
	s, err := script(setValueJS, 3, `it's "quoted"`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, "(() => {"))
	assert.Contains(t, s, "const a0 = 3;")
	assert.Contains(t, s, `const a1 = "it's \"quoted\"";`)
	assert.Contains(t, s, "window.__am")

	async, err := asyncScript(clipboardTextJS, "hi")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(async, "(async () => {"))
	assert.Equal(t, 1, strings.Count(async, "(async () => {"), "only the outer wrapper is async")

	_, err = script(queryJS, func() {})
	assert.Error(t, err)
}
