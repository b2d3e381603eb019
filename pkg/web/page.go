// Package web serves HTML pages rendered from embedded templates.
package web

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
)

// Page is a template parsed once at startup.
type Page struct {
	tmpl *template.Template
}

// NewPage parses the named file from fsys.
func NewPage(fsys fs.FS, name string) (*Page, error) {
	tmpl, err := template.ParseFS(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", name, err)
	}
	return &Page{tmpl: tmpl}, nil
}

// Handler renders the page with data. Rendering completes into a buffer
// before any bytes are written, so template errors yield a clean 500.
func (p *Page) Handler(data any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := p.tmpl.Execute(&buf, data); err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}
