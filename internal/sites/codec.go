package sites

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format is an import/export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath guesses the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParseFormat accepts "json", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported format %q", s)
}

// wireConfig is the on-disk shape. toEmail is the legacy name of defaultRecipient.
type wireConfig struct {
	Name             string   `json:"name" yaml:"name"`
	HostPattern      *string  `json:"hostPattern" yaml:"hostPattern"`
	Selectors        []string `json:"selectors" yaml:"selectors"`
	DefaultRecipient string   `json:"defaultRecipient" yaml:"defaultRecipient"`
	ToEmail          string   `json:"toEmail" yaml:"toEmail"`
}

func (w wireConfig) toConfig() (SiteConfig, error) {
	if w.HostPattern == nil {
		return SiteConfig{}, ErrNoHostPattern
	}
	c := SiteConfig{
		Name:             w.Name,
		HostPattern:      *w.HostPattern,
		Selectors:        w.Selectors,
		DefaultRecipient: w.DefaultRecipient,
	}
	if c.DefaultRecipient == "" {
		c.DefaultRecipient = w.ToEmail
	}
	c = c.Normalize()
	return c, c.Validate()
}

// decodeEntries decodes a list entry by entry so that one bad entry does not
// hide the others. Bad entries come back as errors alongside the good configs.
func decodeEntries(data []byte, format Format) ([]SiteConfig, []error, error) {
	var (
		out  []SiteConfig
		errs []error
	)
	add := func(i int, w wireConfig, err error) {
		if err == nil {
			var c SiteConfig
			if c, err = w.toConfig(); err == nil {
				out = append(out, c)
				return
			}
		}
		errs = append(errs, &entryError{Index: i, Err: err})
	}

	switch format {
	case FormatYAML:
		var nodes []yaml.Node
		if err := yaml.Unmarshal(data, &nodes); err != nil {
			return nil, nil, fmt.Errorf("site configs must be a YAML list: %w", err)
		}
		for i := range nodes {
			var w wireConfig
			err := nodes[i].Decode(&w)
			if err == nil && !isYAMLString(&nodes[i], "hostPattern") {
				err = ErrNoHostPattern
			}
			add(i, w, err)
		}
	default:
		var raws []jsoniter.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, nil, fmt.Errorf("site configs must be a JSON array: %w", err)
		}
		for i, raw := range raws {
			var w wireConfig
			err := json.Unmarshal(raw, &w)
			add(i, w, err)
		}
	}
	return out, errs, nil
}

// isYAMLString reports whether the mapping node has key with a plain string
// value. yaml.v3 happily decodes `hostPattern: 42` into a string.
func isYAMLString(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			v := node.Content[i+1]
			return v.Kind == yaml.ScalarNode && v.ShortTag() == "!!str"
		}
	}
	return false
}

// Decode parses an import file. Any malformed entry rejects the whole file.
func Decode(r io.Reader, format Format) ([]SiteConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read site configs: %w", err)
	}
	configs, errs, err := decodeEntries(data, format)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return configs, nil
}

// Encode writes configs in the given format.
func Encode(w io.Writer, configs []SiteConfig, format Format) error {
	if configs == nil {
		configs = []SiteConfig{}
	}
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(configs); err != nil {
			return fmt.Errorf("failed to encode site configs: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode site configs: %w", err)
		}
		_, err := w.Write(buf.Bytes())
		return err
	default:
		b, err := json.MarshalIndent(configs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode site configs: %w", err)
		}
		_, err = w.Write(append(b, '\n'))
		return err
	}
}
