package routes_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JaimeStill/ktru/pkg/routes"
)

func echo(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body + ":" + r.PathValue("id")))
	}
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()

	routes.Register(mux,
		routes.Group{
			Prefix: "/products",
			Routes: []routes.Route{
				{Method: "POST", Pattern: "/batch", Handler: echo("submit")},
				{Method: "GET", Pattern: "/batch/{id}", Handler: echo("find")},
			},
		},
		routes.Group{
			Prefix: "/provider",
			Children: []routes.Group{
				{
					Prefix: "/v1",
					Routes: []routes.Route{
						{Method: "POST", Pattern: "/callback", Handler: echo("callback")},
					},
				},
			},
		},
	)

	tests := []struct {
		name   string
		method string
		path   string
		status int
		body   string
	}{
		{"submit", "POST", "/products/batch", http.StatusOK, "submit:"},
		{"find", "GET", "/batch/abc", http.StatusNotFound, ""},
		{"find prefixed", "GET", "/products/batch/abc", http.StatusOK, "find:abc"},
		{"nested group", "POST", "/provider/v1/callback", http.StatusOK, "callback:"},
		{"wrong method", "GET", "/products/batch", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestPatterns(t *testing.T) {
	got := routes.Patterns(
		routes.Group{
			Prefix: "/products",
			Routes: []routes.Route{
				{Method: "POST", Pattern: "/batch", Handler: echo("")},
			},
			Children: []routes.Group{
				{Prefix: "/batch", Routes: []routes.Route{
					{Method: "GET", Pattern: "/{id}", Handler: echo("")},
				}},
			},
		},
		routes.Group{Prefix: "/empty"},
	)

	want := []string{"POST /products/batch", "GET /products/batch/{id}"}
	if len(got) != len(want) {
		t.Fatalf("Patterns() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pattern[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
