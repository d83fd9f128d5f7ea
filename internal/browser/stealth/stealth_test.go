package stealth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPersonaLanguages(t *testing.T) {
	assert.Nil(t, Persona{}.Languages())
	assert.Equal(t, []string{"fr"}, Persona{Locale: "fr"}.Languages())
	assert.Equal(t, []string{"en-GB", "en"}, Persona{Locale: "en-GB"}.Languages())

	assert.Equal(t, "", Persona{}.AcceptLanguage())
	assert.Equal(t, "en-GB,en;q=0.9", Persona{Locale: "en-GB"}.AcceptLanguage())
}

func TestScript(t *testing.T) {
	s, err := Persona{Locale: "de-DE"}.Script()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, `window.__amLanguages = ["de-DE","de"];`))
	assert.Contains(t, s, "'webdriver'")

	s, err = Persona{}.Script()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, "window.__amLanguages = null;"))
}

func TestApply(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	assert.Len(t, Apply(Persona{}, logger), 1, "only the script when nothing is overridden")

	tasks := Apply(Persona{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Chrome/126.0.0.0 Safari/537.36",
		Locale:    "en-US",
		Timezone:  "Europe/Berlin",
	}, logger)
	assert.Len(t, tasks, 5)

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[1]
	assert.Equal(t, "Applying browser stealth persona", entry.Message)
	assert.Equal(t, "Europe/Berlin", entry.ContextMap()["timezone"])
}
