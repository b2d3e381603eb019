package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JaimeStill/ktru/internal/products"
)

// Renderer turns products into prompts using a fixed template.
type Renderer struct {
	template *Template
}

// NewRenderer creates a Renderer for tmpl.
func NewRenderer(tmpl *Template) (*Renderer, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("%w: nil template", ErrInvalidTemplate)
	}
	if err := tmpl.validate(); err != nil {
		return nil, err
	}
	return &Renderer{template: tmpl}, nil
}

// Name returns the template name.
func (r *Renderer) Name() string {
	return r.template.Name
}

// Render substitutes the product's JSON into the template.
// Non-ASCII text and HTML characters are written unescaped.
func (r *Renderer) Render(p products.Product) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("encode product %s: %w", p.ID, err)
	}

	productJSON := strings.TrimSuffix(buf.String(), "\n")
	return strings.Replace(r.template.Text, Placeholder, productJSON, 1), nil
}
