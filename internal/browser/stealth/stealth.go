// Package stealth makes an automated Chrome tab look like one a person opened,
// so webmail sign-in pages do not refuse it.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Persona is what the tab claims to be. Empty fields keep Chrome's own value.
type Persona struct {
	UserAgent string
	// Locale is a BCP 47 tag such as "en-US".
	Locale   string
	Timezone string
}

// Languages derives navigator.languages from the locale: the tag itself and
// its base language.
func (p Persona) Languages() []string {
	if p.Locale == "" {
		return nil
	}
	langs := []string{p.Locale}
	if base, _, ok := strings.Cut(p.Locale, "-"); ok && base != "" {
		langs = append(langs, base)
	}
	return langs
}

// AcceptLanguage renders Languages as an Accept-Language header value.
func (p Persona) AcceptLanguage() string {
	langs := p.Languages()
	parts := make([]string, 0, len(langs))
	for i, l := range langs {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, 1-0.1*float64(i)))
	}
	return strings.Join(parts, ",")
}

// Script is the evasions script, preceded by the persona's languages.
func (p Persona) Script() (string, error) {
	langs, err := json.Marshal(p.Languages())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("window.__amLanguages = %s;\n%s", langs, evasionsScript), nil
}

// Apply returns the actions that put p on the current tab. They affect
// documents loaded afterwards.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("locale", p.Locale),
		zap.String("timezone", p.Timezone),
	)

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := p.Script()
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}
	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if p.Locale != "" {
			ua = ua.WithAcceptLanguage(p.AcceptLanguage())
		}
		tasks = append(tasks, ua)
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks,
			emulation.SetLocaleOverride().WithLocale(p.Locale),
			network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": p.AcceptLanguage()}),
		)
	}
	return tasks
}
