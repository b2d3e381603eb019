package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/pkg/handlers"
	"github.com/JaimeStill/ktru/pkg/pagination"
	"github.com/JaimeStill/ktru/pkg/routes"
	"github.com/JaimeStill/ktru/pkg/signature"
)

// Handler provides HTTP endpoints for batch orchestration.
type Handler struct {
	sys         System
	logger      *slog.Logger
	pagination  pagination.Config
	maxBodySize int64
}

// NewHandler creates a Handler with the given system, logger, pagination config, and body size limit.
func NewHandler(
	sys System,
	logger *slog.Logger,
	pagination pagination.Config,
	maxBodySize int64,
) *Handler {
	return &Handler{
		sys:         sys,
		logger:      logger.With("handler", "orchestrator"),
		pagination:  pagination,
		maxBodySize: maxBodySize,
	}
}

// Routes returns the product batch endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/products",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/batch", Handler: h.Submit},
			{Method: "GET", Pattern: "/batch/{id}", Handler: h.Find},
			{Method: "POST", Pattern: "/batch/{id}/reconcile", Handler: h.Reconcile},
			{Method: "GET", Pattern: "/batches", Handler: h.List},
		},
	}
}

// CallbackRoutes returns the provider webhook endpoint, which is
// authenticated by signature rather than API key.
func (h *Handler) CallbackRoutes() routes.Group {
	return routes.Group{
		Prefix: "/provider",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/callback", Handler: h.Callback},
		},
	}
}

// Submit accepts a product list and responds 202 with the new batch.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		handlers.RespondError(w, h.logger, statusForBody(err), err)
		return
	}

	list, err := decodeSubmit(body)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	env, err := h.sys.SubmitBatch(r.Context(), list.Products)
	if err != nil {
		handlers.RespondError(w, h.logger, batches.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, env)
}

// Find returns a batch, with enriched products when include_products is true.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	include, _ := strconv.ParseBool(r.URL.Query().Get("include_products"))

	env, err := h.sys.GetBatch(r.Context(), r.PathValue("id"), include)
	if err != nil {
		handlers.RespondError(w, h.logger, batches.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, env)
}

// Reconcile polls the batch's outstanding provider jobs immediately.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	env, err := h.sys.ReconcileBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, batches.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, env)
}

// List returns a page of batches filtered by status.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := batches.FiltersFromQuery(r.URL.Query())

	result, err := h.sys.ListBatches(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, batches.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Callback accepts a signed provider notification.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		handlers.RespondError(w, h.logger, statusForBody(err), err)
		return
	}

	if err := h.sys.HandleProviderCallback(r.Context(), body, r.Header.Get(signature.Header)); err != nil {
		handlers.RespondError(w, h.logger, batches.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func statusForBody(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func decodeSubmit(body []byte) (*SubmitRequest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", batches.ErrValidation)
	}

	var req SubmitRequest
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &req.Products); err != nil {
			return nil, fmt.Errorf("%w: decode products: %w", batches.ErrValidation, err)
		}
		return &req, nil
	}

	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("%w: decode products: %w", batches.ErrValidation, err)
	}
	return &req, nil
}
