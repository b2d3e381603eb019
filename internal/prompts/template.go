// Package prompts loads classification prompt templates and renders
// products into finished prompts.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placeholder is the substitution point for the rendered product JSON.
const Placeholder = "{product_json}"

// Template is a prompt template file.
type Template struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Text        string `yaml:"text"`
}

// Load reads a YAML template from dir/name.
func Load(dir, name string) (*Template, error) {
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}

	tmpl, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}

	if tmpl.Name == "" {
		tmpl.Name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return tmpl, nil
}

// Parse decodes YAML template content and checks it has exactly one placeholder.
func Parse(data []byte) (*Template, error) {
	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	if err := tmpl.validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (t *Template) validate() error {
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: text is empty", ErrInvalidTemplate)
	}
	if n := strings.Count(t.Text, Placeholder); n != 1 {
		return fmt.Errorf("%w: expected one %s placeholder, found %d", ErrInvalidTemplate, Placeholder, n)
	}
	return nil
}
