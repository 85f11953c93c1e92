package handlers

import (
	"net/http"

	"github.com/diewo77/go-prefacturation/httpx"
	"github.com/diewo77/go-prefacturation/internal/logging"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/services"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
	"go.uber.org/zap"
)

type ExportHandler struct {
	svc *services.ExportService
	log *zap.Logger
}

func NewExportHandler(svc *services.ExportService, log *zap.Logger) *ExportHandler {
	return &ExportHandler{svc: svc, log: logging.OrNop(log)}
}

func (h *ExportHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/exports", h.List)
	mux.HandleFunc("POST /api/exports", h.Create)
	mux.HandleFunc("GET /api/exports/{id}", h.View)
	mux.HandleFunc("GET /api/exports/{id}/download", h.Download)
}

func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v := validation.Violations{}
	f := store.ExportFilter{
		AccountingSystem: models.AccountingSystem(q.Get("accounting_system")),
		Status:           models.ExportStatus(q.Get("status")),
		Page:             pageParams(r, v),
	}
	if !v.Empty() {
		writeError(w, h.log, &services.ValidationError{Fields: v})
		return
	}
	items, total, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list(items, total))
}

// Create answers 201 even for an unbalanced journal; the imbalance is
// reported in the export's validation block.
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.ExportInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.Actor = actor(r, in.Actor)
	e, err := h.svc.Export(r.Context(), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *ExportHandler) View(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	e, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	body, contentType, filename, err := h.svc.Render(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.Download(w, contentType, filename, body)
}
