// Package sites holds the per-site extraction configs and picks the one that
// applies to a page.
package sites

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/articlemail/internal/diag"
)

var (
	ErrNoHostPattern = errors.New("hostPattern must be a non-empty string")
	ErrNoSelectors   = errors.New("selectors must contain at least one non-blank entry")
)

// SiteConfig tells the extractor where the article lives on one site.
type SiteConfig struct {
	Name string `json:"name" yaml:"name"`
	// HostPattern is a regular expression matched against the full page URL.
	HostPattern      string   `json:"hostPattern" yaml:"hostPattern"`
	Selectors        []string `json:"selectors" yaml:"selectors"`
	DefaultRecipient string   `json:"defaultRecipient,omitempty" yaml:"defaultRecipient,omitempty"`
}

// Normalize trims selectors and drops blank ones.
func (c SiteConfig) Normalize() SiteConfig {
	out := c
	out.Name = strings.TrimSpace(c.Name)
	out.DefaultRecipient = strings.TrimSpace(c.DefaultRecipient)
	out.Selectors = make([]string, 0, len(c.Selectors))
	for _, s := range c.Selectors {
		if s = strings.TrimSpace(s); s != "" {
			out.Selectors = append(out.Selectors, s)
		}
	}
	return out
}

// Validate checks the shape of a normalized config. The pattern itself is not
// compiled here; a bad pattern is a non-match at resolve time.
func (c SiteConfig) Validate() error {
	if strings.TrimSpace(c.HostPattern) == "" {
		return ErrNoHostPattern
	}
	if len(c.Selectors) == 0 {
		return ErrNoSelectors
	}
	return nil
}

// Resolve returns the first config, in stored order, whose HostPattern matches
// url. Empty or malformed patterns never match; a malformed one is recorded
// on tracer and the remaining configs are still tried.
func Resolve(url string, configs []SiteConfig, tracer *diag.Tracer) (SiteConfig, bool) {
	for i, c := range configs {
		if c.HostPattern == "" {
			continue
		}
		re, err := regexp.Compile(c.HostPattern)
		if err != nil {
			tracer.Event("config_invalid_pattern", diag.Attrs{
				"index":   i,
				"name":    c.Name,
				"pattern": c.HostPattern,
				"error":   err.Error(),
			})
			continue
		}
		if re.MatchString(url) {
			return c, true
		}
	}
	return SiteConfig{}, false
}

// Find returns the index of the config with the given name, or -1.
func Find(configs []SiteConfig, name string) int {
	for i, c := range configs {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// entryError ties a shape problem to its position in a list.
type entryError struct {
	Index int
	Err   error
}

func (e *entryError) Error() string { return fmt.Sprintf("site config #%d: %v", e.Index, e.Err) }
func (e *entryError) Unwrap() error { return e.Err }
