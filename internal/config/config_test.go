// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "articlemail", cfg.Logger().ServiceName)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, "https://mail.google.com/mail/?view=cm&fs=1", cfg.Browser().ComposeURL)
	assert.Equal(t, 900, cfg.Browser().PopupWidth)
	assert.Equal(t, 800, cfg.Browser().PopupHeight)
	assert.True(t, cfg.Browser().Stealth)
	assert.Equal(t, "sqlite", cfg.Store().Driver)

	r := cfg.Readiness()
	assert.Equal(t, 300*time.Millisecond, r.PollInterval)
	assert.Equal(t, 50, r.PollAttempts)
	assert.Equal(t, 500*time.Millisecond, r.PollSettle)
	assert.Equal(t, 30*time.Second, r.ObserveTimeout)
	assert.Equal(t, 3*time.Second, r.TimerDelay)
	assert.Equal(t, 20, r.TimerAttempts)

	in := cfg.Inject()
	assert.Equal(t, 100*time.Millisecond, in.SettleDelay)
	assert.Equal(t, 200*time.Millisecond, in.VerifyDelay)
	assert.Equal(t, "Source:", in.Marker)
	assert.Equal(t, 600.0, in.FallbackWidth)

	assert.Equal(t, 500, cfg.Diagnostics().RingCapacity)
	assert.Equal(t, 200, cfg.Diagnostics().RecentWindow)
}

func TestComposeDefaults(t *testing.T) {
	c := NewDefaultConfig().Compose()

	require.Len(t, c.Body.Selectors, 10)
	assert.Equal(t, `div[aria-label="Message Body"]`, c.Body.Selectors[0])
	assert.Equal(t, c.Body.Selectors[:5], c.Body.Detect)
	assert.Equal(t, 200.0, c.Body.MinWidth)
	assert.Equal(t, 50.0, c.Body.MinHeight)

	require.Len(t, c.Recipient.Selectors, 18)
	assert.Equal(t, `textarea[name="to"]`, c.Recipient.Selectors[0])
	assert.Len(t, c.Recipient.Detect, 4)
	assert.Contains(t, c.Recipient.Keywords, "to")

	require.Len(t, c.Subject.Selectors, 12)
	assert.Equal(t, `input[name="subjectbox"]`, c.Subject.Selectors[0])
	assert.Equal(t, []string{"subject"}, c.Subject.Keywords)
	assert.Equal(t, 10.0, c.Subject.MinWidth)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate(), "defaults should validate")

		noCompose := *cfg
		noCompose.BrowserCfg.ComposeURL = ""
		err := noCompose.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.compose_url is required")

		emptyRole := *cfg
		emptyRole.ComposeCfg.Subject.Selectors = nil
		err = emptyRole.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "compose.subject.selectors must not be empty")

		badWindow := *cfg
		badWindow.DiagnosticsCfg.RecentWindow = 501
		err = badWindow.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "recent_window cannot exceed ring_capacity")
	})

	t.Run("Store Validation", func(t *testing.T) {
		assert.NoError(t, (&StoreConfig{Driver: "sqlite", Path: "/tmp/a.db"}).Validate())
		assert.NoError(t, (&StoreConfig{Driver: "postgres", DSN: "postgres://x"}).Validate())

		err := (&StoreConfig{Driver: "postgres"}).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ARTICLEMAIL_STORE_DSN")

		err = (&StoreConfig{Driver: "bolt"}).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown driver "bolt"`)
	})

	t.Run("Readiness Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Readiness()
		assert.NoError(t, valid.Validate())

		noAttempts := valid
		noAttempts.PollAttempts = 0
		err := noAttempts.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be greater than 0")

		noExpiry := valid
		noExpiry.ObserveTimeout = 0
		err = noExpiry.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "observe_timeout must be a positive duration")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  headless: true
  popup_width: 1024
readiness:
  poll_attempts: 5
compose:
  subject:
    selectors: ["input.subject"]
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.True(t, cfg.Browser().Headless)
		assert.Equal(t, 1024, cfg.Browser().PopupWidth)
		assert.Equal(t, 5, cfg.Readiness().PollAttempts)
		assert.Equal(t, []string{"input.subject"}, cfg.Compose().Subject.Selectors)
		// Untouched sections keep their defaults.
		assert.Equal(t, "info", cfg.Logger().Level)
		assert.Len(t, cfg.Compose().Body.Selectors, 10)
	})

	t.Run("Home Expansion", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.NotContains(t, cfg.Store().Path, "~")
		assert.Contains(t, cfg.Store().Path, ".articlemail")
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("store.driver", "postgres")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "dsn is required")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("store.driver", "postgres")

		yamlConfig := []byte(`
store:
  dsn: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		t.Setenv("ARTICLEMAIL_STORE_DSN", "postgres://envvar/db")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		// The env var wins over the file.
		assert.Equal(t, "postgres://envvar/db", cfg.Store().DSN)
	})
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetBrowserHeadless(true)
	iface.SetBrowserExecPath("/usr/bin/chromium")
	iface.SetStoreDriver("postgres")
	iface.SetStoreDSN("postgres://localhost/am")

	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, "/usr/bin/chromium", cfg.Browser().ExecPath)
	assert.Equal(t, "postgres", cfg.Store().Driver)
	assert.Equal(t, "postgres://localhost/am", cfg.Store().DSN)
}
