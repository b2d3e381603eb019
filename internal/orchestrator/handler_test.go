package orchestrator_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/orchestrator"
	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/pkg/openapi"
	"github.com/JaimeStill/ktru/pkg/pagination"
	"github.com/JaimeStill/ktru/pkg/routes"
	"github.com/JaimeStill/ktru/pkg/signature"
)

type mockSystem struct {
	submitFn    func(ctx context.Context, list []products.Product) (*orchestrator.Envelope, error)
	getFn       func(ctx context.Context, id string, include bool) (*orchestrator.Envelope, error)
	reconcileFn func(ctx context.Context, id string) (*orchestrator.Envelope, error)
	listFn      func(ctx context.Context, page pagination.PageRequest, filters batches.Filters) (*pagination.PageResult[orchestrator.Envelope], error)
	callbackFn  func(ctx context.Context, body []byte, sig string) error
}

func (m *mockSystem) Handler(maxBodySize int64) *orchestrator.Handler {
	return orchestrator.NewHandler(m, discard, pageCfg, maxBodySize)
}

func (m *mockSystem) SubmitBatch(ctx context.Context, list []products.Product) (*orchestrator.Envelope, error) {
	return m.submitFn(ctx, list)
}

func (m *mockSystem) GetBatch(ctx context.Context, id string, include bool) (*orchestrator.Envelope, error) {
	return m.getFn(ctx, id, include)
}

func (m *mockSystem) ReconcileBatch(ctx context.Context, id string) (*orchestrator.Envelope, error) {
	return m.reconcileFn(ctx, id)
}

func (m *mockSystem) ListBatches(ctx context.Context, page pagination.PageRequest, filters batches.Filters) (*pagination.PageResult[orchestrator.Envelope], error) {
	return m.listFn(ctx, page, filters)
}

func (m *mockSystem) HandleProviderCallback(ctx context.Context, body []byte, sig string) error {
	return m.callbackFn(ctx, body, sig)
}

func newMux(sys orchestrator.System, maxBody int64) *http.ServeMux {
	h := sys.Handler(maxBody)
	mux := http.NewServeMux()
	routes.Register(mux, h.Routes(), h.CallbackRoutes())
	return mux
}

func TestHandlerSubmit(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		sysErr   error
		wantCode int
		wantN    int
	}{
		{"array body", `[{"id":"a","title":"A"},{"id":"b","title":"B"}]`, nil, http.StatusAccepted, 2},
		{"object body", `{"products":[{"id":"a","title":"A"}]}`, nil, http.StatusAccepted, 1},
		{"empty body", ``, nil, http.StatusBadRequest, 0},
		{"malformed", `[{"id":`, nil, http.StatusBadRequest, 0},
		{"validation", `[{"id":"a"}]`, fmt.Errorf("%w: title required", batches.ErrValidation), http.StatusBadRequest, 1},
		{"store down", `[{"id":"a","title":"A"}]`, fmt.Errorf("persist batch: %w", batches.ErrStoreUnavailable), http.StatusServiceUnavailable, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got int
			sys := &mockSystem{submitFn: func(_ context.Context, list []products.Product) (*orchestrator.Envelope, error) {
				got = len(list)
				if tt.sysErr != nil {
					return nil, tt.sysErr
				}
				return &orchestrator.Envelope{BatchID: "product_batch_x", Status: batches.StatusPending, ProductCount: len(list)}, nil
			}}

			req := httptest.NewRequest("POST", "/products/batch", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			newMux(sys, 1<<20).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if got != tt.wantN {
				t.Errorf("products passed = %d, want %d", got, tt.wantN)
			}
		})
	}
}

func TestHandlerSubmitTooLarge(t *testing.T) {
	sys := &mockSystem{submitFn: func(context.Context, []products.Product) (*orchestrator.Envelope, error) {
		t.Fatal("system should not be called")
		return nil, nil
	}}

	body := `[{"id":"a","title":"` + strings.Repeat("x", 200) + `"}]`
	req := httptest.NewRequest("POST", "/products/batch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newMux(sys, 64).ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestHandlerFind(t *testing.T) {
	code := "17.12.14.129-00000001"
	sys := &mockSystem{getFn: func(_ context.Context, id string, include bool) (*orchestrator.Envelope, error) {
		if id != "product_batch_1" {
			return nil, batches.ErrNotFound
		}
		env := &orchestrator.Envelope{BatchID: id, Status: batches.StatusCompleted, Completed: true, ProductCount: 1, ProcessedCount: 1}
		if include {
			env.Products = []products.Enriched{{Product: products.Product{ID: "a", Title: "A"}, KtruCode: &code}}
		}
		return env, nil
	}}
	mux := newMux(sys, 1<<20)

	t.Run("with products", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/products/batch/product_batch_1?include_products=true", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body struct {
			BatchID   string `json:"batch_id"`
			Completed bool   `json:"completed"`
			Products  []struct {
				ID       string `json:"id"`
				KtruCode string `json:"ktru_code"`
			} `json:"products"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.BatchID != "product_batch_1" || !body.Completed || len(body.Products) != 1 || body.Products[0].KtruCode != code {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("without products", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/products/batch/product_batch_1", nil))

		var body map[string]json.RawMessage
		json.NewDecoder(rec.Body).Decode(&body)
		if _, ok := body["products"]; ok {
			t.Error("products present")
		}
		if _, ok := body["reason"]; ok {
			t.Error("empty reason present")
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/products/batch/nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandlerReconcile(t *testing.T) {
	sys := &mockSystem{reconcileFn: func(_ context.Context, id string) (*orchestrator.Envelope, error) {
		return &orchestrator.Envelope{BatchID: id, Status: batches.StatusProcessing}, nil
	}}

	rec := httptest.NewRecorder()
	newMux(sys, 1<<20).ServeHTTP(rec, httptest.NewRequest("POST", "/products/batch/product_batch_1/reconcile", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandlerList(t *testing.T) {
	var gotPage pagination.PageRequest
	var gotFilters batches.Filters
	sys := &mockSystem{listFn: func(_ context.Context, page pagination.PageRequest, filters batches.Filters) (*pagination.PageResult[orchestrator.Envelope], error) {
		gotPage, gotFilters = page, filters
		r := pagination.NewPageResult([]orchestrator.Envelope{{BatchID: "b1"}}, 1, page.Page, page.PageSize)
		return &r, nil
	}}

	rec := httptest.NewRecorder()
	newMux(sys, 1<<20).ServeHTTP(rec, httptest.NewRequest("GET", "/products/batches?status=failed&page=2&page_size=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotPage.Page != 2 || gotPage.PageSize != 5 {
		t.Errorf("page = %+v", gotPage)
	}
	if gotFilters.Status == nil || *gotFilters.Status != "failed" {
		t.Errorf("filters = %+v", gotFilters)
	}
}

func TestHandlerCallback(t *testing.T) {
	body := []byte(`{"id":"msgbatch_1"}`)
	sig := signature.Sign([]byte("k"), body)

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"bad signature", fmt.Errorf("%w: %w", batches.ErrUnauthorized, signature.ErrMismatch), http.StatusUnauthorized},
		{"unknown job", batches.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := &mockSystem{callbackFn: func(_ context.Context, got []byte, gotSig string) error {
				if !bytes.Equal(got, body) || gotSig != sig {
					t.Errorf("callback got body %q sig %q", got, gotSig)
				}
				return tt.err
			}}

			req := httptest.NewRequest("POST", "/provider/callback", bytes.NewReader(body))
			req.Header.Set(signature.Header, sig)
			rec := httptest.NewRecorder()
			newMux(sys, 1<<20).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestSpec(t *testing.T) {
	cfg := &openapi.Config{}
	cfg.Finalize(nil)

	spec := orchestrator.Spec(cfg, "1.2.3", "/api")

	for _, path := range []string{
		"/products/batch",
		"/products/batch/{id}",
		"/products/batch/{id}/reconcile",
		"/products/batches",
		"/provider/callback",
	} {
		if spec.Paths[path] == nil {
			t.Errorf("missing path %s", path)
		}
	}
	if spec.Paths["/products/batch"].Post.Responses[http.StatusAccepted] == nil {
		t.Error("submit lacks 202 response")
	}
	if _, ok := spec.Components.Schemas["Envelope"]; !ok {
		t.Error("missing Envelope schema")
	}

	data, err := openapi.MarshalJSON(spec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !json.Valid(data) {
		t.Error("spec is not valid json")
	}
}

func TestSpecDocumentsEveryRoute(t *testing.T) {
	cfg := &openapi.Config{}
	cfg.Finalize(nil)
	spec := orchestrator.Spec(cfg, "1.2.3", "/api")

	h := (&mockSystem{}).Handler(1024)
	routes.Walk(func(method, path string, _ http.HandlerFunc) {
		if spec.Paths[path].Operation(method) == nil {
			t.Errorf("%s %s is not documented", method, path)
		}
	}, h.Routes(), h.CallbackRoutes())
}

func TestMapHTTPStatusThroughHandler(t *testing.T) {
	sys := &mockSystem{getFn: func(context.Context, string, bool) (*orchestrator.Envelope, error) {
		return nil, errors.New("boom")
	}}

	rec := httptest.NewRecorder()
	newMux(sys, 1<<20).ServeHTTP(rec, httptest.NewRequest("GET", "/products/batch/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
