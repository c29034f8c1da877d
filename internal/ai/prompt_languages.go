// prompt_languages.go - Language template registry loaded from languages.yaml

package ai

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var languagesYAML []byte

// LanguageTemplate is the instruction block used for one language code
type LanguageTemplate struct {
	Name        string `yaml:"name"`
	Instruction string `yaml:"instruction"`
}

type languageFile struct {
	Default   string                      `yaml:"default"`
	Languages map[string]LanguageTemplate `yaml:"languages"`
}

// TemplateRegistry maps language codes to their templates. It is read-only
// after construction and safe for concurrent use.
type TemplateRegistry struct {
	defaultCode string
	templates   map[string]LanguageTemplate
}

// Templates is the registry built from the embedded languages.yaml
var Templates = mustLoadTemplates(languagesYAML)

// LoadTemplates parses a registry from YAML. The default code must exist.
func LoadTemplates(data []byte) (*TemplateRegistry, error) {
	var file languageFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse language templates: %w", err)
	}

	registry := &TemplateRegistry{
		defaultCode: normalizeLanguage(file.Default),
		templates:   make(map[string]LanguageTemplate, len(file.Languages)),
	}
	for code, tmpl := range file.Languages {
		registry.templates[normalizeLanguage(code)] = tmpl
	}

	if _, ok := registry.templates[registry.defaultCode]; !ok {
		return nil, fmt.Errorf("default language %q has no template", file.Default)
	}
	return registry, nil
}

func mustLoadTemplates(data []byte) *TemplateRegistry {
	registry, err := LoadTemplates(data)
	if err != nil {
		panic(err)
	}
	return registry
}

// Resolve returns the template and its code for code, falling back to the default
func (r *TemplateRegistry) Resolve(code string) (string, LanguageTemplate) {
	normalized := normalizeLanguage(code)
	if tmpl, ok := r.templates[normalized]; ok {
		return normalized, tmpl
	}
	return r.defaultCode, r.templates[r.defaultCode]
}

// Lookup returns the instruction text for code. Unknown or empty codes get the default.
func (r *TemplateRegistry) Lookup(code string) string {
	_, tmpl := r.Resolve(code)
	return tmpl.Instruction
}

// DisplayName returns the human readable language name for code
func (r *TemplateRegistry) DisplayName(code string) string {
	resolved, tmpl := r.Resolve(code)
	if tmpl.Name == "" {
		return resolved
	}
	return tmpl.Name
}

// Codes lists the supported language codes in sorted order
func (r *TemplateRegistry) Codes() []string {
	codes := make([]string, 0, len(r.templates))
	for code := range r.templates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func normalizeLanguage(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
