package module_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JaimeStill/ktru/pkg/module"
)

func TestNewPrefixValidation(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		panics bool
	}{
		{"api", "/api", false},
		{"scalar", "/scalar", false},
		{"empty", "", true},
		{"no leading slash", "api", true},
		{"multi-level", "/api/v1", true},
		{"root", "/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if tt.panics && r == nil {
					t.Error("expected panic")
				}
				if !tt.panics && r != nil {
					t.Errorf("unexpected panic: %v", r)
				}
			}()

			m := module.New(tt.prefix, http.NewServeMux())
			if m.Prefix() != tt.prefix {
				t.Errorf("prefix = %s, want %s", m.Prefix(), tt.prefix)
			}
		})
	}
}

func TestServeStripsPrefixAndAppliesMiddleware(t *testing.T) {
	mux := http.NewServeMux()

	var seen string
	mux.HandleFunc("GET /products/batch/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	m := module.New("/api", mux)

	var wrapped bool
	m.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped = true
			next.ServeHTTP(w, r)
		})
	})

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/api/products/batch/b1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen != "/products/batch/b1" {
		t.Errorf("inner path = %s", seen)
	}
	if !wrapped {
		t.Error("module middleware not applied")
	}
}

func TestRouter(t *testing.T) {
	api := http.NewServeMux()
	api.HandleFunc("GET /products/batches", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("api"))
	})
	api.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("api-root"))
	})

	docs := http.NewServeMux()
	docs.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("scalar"))
	})

	router := module.NewRouter()
	router.Mount(module.New("/api", api))
	router.Mount(module.New("/scalar", docs))
	router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	tests := []struct {
		name string
		path string
		body string
	}{
		{"api route", "/api/products/batches", "api"},
		{"trailing slash", "/api/products/batches/", "api"},
		{"module root", "/api", "api-root"},
		{"second module", "/scalar", "scalar"},
		{"native", "/healthz", "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestMountDuplicatePanics(t *testing.T) {
	router := module.NewRouter()
	router.Mount(module.New("/api", http.NewServeMux()))

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate mount")
		}
	}()
	router.Mount(module.New("/api", http.NewServeMux()))
}

func TestPrefixesSorted(t *testing.T) {
	router := module.NewRouter()
	router.Mount(module.New("/scalar", http.NewServeMux()))
	router.Mount(module.New("/api", http.NewServeMux()))

	got := router.Prefixes()
	if len(got) != 2 || got[0] != "/api" || got[1] != "/scalar" {
		t.Errorf("Prefixes() = %v", got)
	}
}

func TestUseAfterFirstRequestPanics(t *testing.T) {
	m := module.New("/api", http.NewServeMux())
	m.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/x", nil))

	defer func() {
		if recover() == nil {
			t.Error("expected panic when adding middleware after first request")
		}
	}()
	m.Use(func(next http.Handler) http.Handler { return next })
}
