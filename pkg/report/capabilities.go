package report

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// hiddenCapabilities are grid bookkeeping keys left out of the display.
var hiddenCapabilities = []string{"name", "build", "testFileNameTemplate"}

// Browser is the environment summary decoded from session capabilities.
type Browser struct {
	Name     string `mapstructure:"browserName" json:"name,omitempty"`
	Version  string `mapstructure:"browserVersion" json:"version,omitempty"`
	Platform string `mapstructure:"platformName" json:"platform,omitempty"`
}

// String renders the browser as "chrome 120 (linux)".
func (b *Browser) String() string {
	parts := make([]string, 0, 3)

	if b.Name != "" {
		parts = append(parts, b.Name)
	}

	if b.Version != "" {
		parts = append(parts, b.Version)
	}

	if b.Platform != "" {
		parts = append(parts, "("+b.Platform+")")
	}

	return strings.Join(parts, " ")
}

// parseCapabilities decodes the stored capabilities and drops hidden keys.
// Empty or malformed input yields nil.
func parseCapabilities(raw string) map[string]any {
	if raw == "" {
		return nil
	}

	var caps map[string]any
	if err := json.Unmarshal([]byte(raw), &caps); err != nil {
		return nil
	}

	for _, k := range hiddenCapabilities {
		delete(caps, k)
	}

	if len(caps) == 0 {
		return nil
	}

	return caps
}

// formatCapabilities renders capabilities as sorted "key: value" pairs.
func formatCapabilities(caps map[string]any) string {
	if len(caps) == 0 {
		return ""
	}

	keys := make([]string, 0, len(caps))
	for k := range caps {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	parts := make([]string, 0, len(keys))

	for _, k := range keys {
		v := caps[k]

		switch v.(type) {
		case map[string]any, []any:
			data, err := json.Marshal(v)
			if err == nil {
				parts = append(parts, fmt.Sprintf("%s: %s", k, data))

				continue
			}
		}

		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}

	return strings.Join(parts, ", ")
}

// decodeBrowser extracts browser details. Legacy "version" and "platform"
// keys are used when the W3C names are absent.
func decodeBrowser(caps map[string]any) *Browser {
	if len(caps) == 0 {
		return nil
	}

	var b Browser

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &b,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil
	}

	if err := dec.Decode(caps); err != nil {
		return nil
	}

	if b.Version == "" {
		if v, ok := caps["version"]; ok {
			b.Version = fmt.Sprint(v)
		}
	}

	if b.Platform == "" {
		if v, ok := caps["platform"]; ok {
			b.Platform = fmt.Sprint(v)
		}
	}

	if b == (Browser{}) {
		return nil
	}

	return &b
}
