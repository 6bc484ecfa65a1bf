package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// ArchiveHandler streams monthly execution archives from blob storage.
type ArchiveHandler struct {
	reader domain.BlobReader
	path   func(month string) string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. path maps "YYYY-MM" to an
// object key.
func NewArchiveHandler(reader domain.BlobReader, path func(month string) string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, path: path, logger: logger}
}

// Get streams one month as JSONL.
// GET /api/archive/{month}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	month := r.PathValue("month")
	if _, err := time.Parse("2006-01", month); err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	body, err := h.reader.Get(r.Context(), h.path(month))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="executions-`+month+`.jsonl"`)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("month", month),
			slog.String("error", err.Error()),
		)
	}
}
