package catalog

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// FallbackAdvice is returned when no entry matches.
const FallbackAdvice = "Continue monitoring the plant. Apply general plant care practices."

// DefaultAdvice is the built-in treatment table keyed by AdviceKey.
var DefaultAdvice = map[string]string{
	"apple_scab":     "Apply fungicide treatments. Remove infected leaves. Improve air circulation.",
	"black_rot":      "Prune infected branches. Apply copper-based fungicide. Sanitize tools.",
	"powdery_mildew": "Use sulfur or neem oil spray. Ensure proper spacing between plants.",
	"leaf_spot":      "Remove affected leaves. Apply fungicide. Increase air circulation.",
}

// AdviceKey lower-cases a disease name and replaces spaces with underscores.
func AdviceKey(diseaseName string) string {
	// Casers carry state, so one is built per call.
	return strings.ReplaceAll(cases.Lower(language.Und).String(diseaseName), " ", "_")
}

// Advice is an immutable recommended-action table.
type Advice struct {
	entries map[string]string
}

// NewAdvice builds a table; keys are normalized with AdviceKey.
func NewAdvice(entries map[string]string) *Advice {
	a := &Advice{entries: make(map[string]string, len(entries))}
	for k, v := range entries {
		a.entries[AdviceKey(k)] = v
	}
	return a
}

// DefaultAdviceTable returns the built-in table.
func DefaultAdviceTable() *Advice {
	return NewAdvice(DefaultAdvice)
}

// LoadAdvice reads a yaml map of disease -> advice and layers it over the
// built-in table.
func LoadAdvice(path string) (*Advice, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: advice path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read advice table: %w", err)
	}
	var extra map[string]string
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parse advice table %s: %w", path, err)
	}

	merged := make(map[string]string, len(DefaultAdvice)+len(extra))
	for k, v := range DefaultAdvice {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return NewAdvice(merged), nil
}

// Lookup returns the advice for diseaseName or FallbackAdvice.
func (a *Advice) Lookup(diseaseName string) string {
	if a == nil {
		return FallbackAdvice
	}
	if v, ok := a.entries[AdviceKey(diseaseName)]; ok {
		return v
	}
	return FallbackAdvice
}

// Len is the number of entries.
func (a *Advice) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}
