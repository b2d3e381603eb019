package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JaimeStill/ktru/internal/reconcile"
	"github.com/JaimeStill/ktru/pkg/formatting"
	"github.com/JaimeStill/ktru/pkg/handlers"
	"github.com/JaimeStill/ktru/pkg/routes"
	"github.com/JaimeStill/ktru/pkg/storage"
)

// archiveFile is one archived provider job in a batch listing.
type archiveFile struct {
	storage.Blob
	Handle    string `json:"handle"`
	SizeLabel string `json:"size_label"`
}

type archiveHandler struct {
	store  storage.System
	logger *slog.Logger
}

func newArchiveHandler(store storage.System, logger *slog.Logger) *archiveHandler {
	return &archiveHandler{
		store:  store,
		logger: logger.With("handler", "archive"),
	}
}

func (h *archiveHandler) routes() routes.Group {
	return routes.Group{
		Prefix: "/archive",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{id}", Handler: h.list},
			{Method: "GET", Pattern: "/{id}/{handle}", Handler: h.download},
		},
	}
}

func (h *archiveHandler) list(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	prefix := reconcile.ArchivePrefix(id)

	blobs, err := h.store.List(r.Context(), prefix)
	if err != nil {
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}

	files := make([]archiveFile, 0, len(blobs))
	for _, b := range blobs {
		files = append(files, archiveFile{
			Blob:      b,
			Handle:    strings.TrimSuffix(strings.TrimPrefix(b.Key, prefix), ".jsonl"),
			SizeLabel: formatting.FormatBytes(b.Size, 1),
		})
	}

	handlers.RespondJSON(w, http.StatusOK, map[string]any{
		"batch_id": id,
		"files":    files,
	})
}

func (h *archiveHandler) download(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	key := reconcile.ArchiveKey(r.PathValue("id"), handle)

	body, err := h.store.Download(r.Context(), key)
	if err != nil {
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/jsonl")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", handle+".jsonl"))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("archive download interrupted", "key", key, "error", err)
	}
}
