package web_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/JaimeStill/ktru/pkg/web"
)

func TestRouterFallback(t *testing.T) {
	r := web.NewRouter()
	r.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("index"))
	})

	t.Run("no fallback", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/missing", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	r.SetFallback(http.RedirectHandler("/scalar", http.StatusFound))

	tests := []struct {
		name string
		path string
		want int
	}{
		{"registered", "/", http.StatusOK},
		{"unmatched", "/missing", http.StatusFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestPage(t *testing.T) {
	fsys := fstest.MapFS{
		"index.html": {Data: []byte(`<div data-url="{{.SpecURL}}"></div>`)},
		"broken.html": {Data: []byte(`{{.Missing.Field}}`)},
	}

	page, err := web.NewPage(fsys, "index.html")
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}

	rec := httptest.NewRecorder()
	page.Handler(map[string]string{"SpecURL": "/api/openapi.json"})(rec, httptest.NewRequest("GET", "/", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("content-type = %s", ct)
	}
	if !strings.Contains(rec.Body.String(), `data-url="/api/openapi.json"`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	broken, err := web.NewPage(fsys, "broken.html")
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	rec = httptest.NewRecorder()
	broken.Handler(struct{}{})(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}

	if _, err := web.NewPage(fsys, "absent.html"); err == nil {
		t.Error("expected error for missing template")
	}
}
