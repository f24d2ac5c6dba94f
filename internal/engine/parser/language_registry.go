// # internal/engine/parser/language_registry.go
package parser

import (
	"fmt"
	"sort"
	"strings"

	"storyindex/internal/shared/util"
)

const (
	LangJavaScript = "javascript"
	LangTypeScript = "typescript"
	LangTSX        = "tsx"
)

// LanguageSpec routes file extensions to one compiled-in grammar.
type LanguageSpec struct {
	Name       string
	Extensions []string
	Enabled    bool
}

// LanguageOverride adjusts one entry of the default registry. Nil or empty
// fields keep the default.
type LanguageOverride struct {
	Enabled    *bool
	Extensions []string
}

func DefaultLanguageRegistry() map[string]LanguageSpec {
	return map[string]LanguageSpec{
		LangJavaScript: {Name: LangJavaScript, Extensions: []string{".cjs", ".js", ".jsx", ".mjs"}, Enabled: true},
		LangTypeScript: {Name: LangTypeScript, Extensions: []string{".cts", ".mts", ".ts"}, Enabled: true},
		LangTSX:        {Name: LangTSX, Extensions: []string{".tsx"}, Enabled: true},
	}
}

// BuildLanguageRegistry applies overrides to the defaults. Every extension
// must belong to at most one enabled grammar, and at least one grammar must
// stay enabled.
func BuildLanguageRegistry(overrides map[string]LanguageOverride) (map[string]LanguageSpec, error) {
	registry := cloneLanguageRegistry(DefaultLanguageRegistry())
	for _, name := range util.SortedStringKeys(overrides) {
		override := overrides[name]
		spec, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown language %q (want one of %s)", name, strings.Join(util.SortedStringKeys(registry), ", "))
		}
		if override.Enabled != nil {
			spec.Enabled = *override.Enabled
		}
		if len(override.Extensions) > 0 {
			spec.Extensions = normalizeExtensions(override.Extensions)
		}
		registry[name] = spec
	}
	if err := validateLanguageRegistry(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

func cloneLanguageRegistry(in map[string]LanguageSpec) map[string]LanguageSpec {
	out := make(map[string]LanguageSpec, len(in))
	for name, spec := range in {
		spec.Extensions = append([]string(nil), spec.Extensions...)
		out[name] = spec
	}
	return out
}

func validateLanguageRegistry(registry map[string]LanguageSpec) error {
	owner := make(map[string]string)
	enabled := 0
	for _, name := range util.SortedStringKeys(registry) {
		spec := registry[name]
		if !spec.Enabled {
			continue
		}
		enabled++
		for _, ext := range spec.Extensions {
			if ext == ".mdx" {
				return fmt.Errorf("language %q cannot claim .mdx", name)
			}
			if prev, ok := owner[ext]; ok {
				return fmt.Errorf("extension %q is claimed by both %q and %q", ext, prev, name)
			}
			owner[ext] = name
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one language must stay enabled")
	}
	return nil
}

// normalizeExtensions lowercases, dot-prefixes, dedupes and sorts.
func normalizeExtensions(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		ext := strings.ToLower(strings.TrimSpace(value))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !seen[ext] {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}
