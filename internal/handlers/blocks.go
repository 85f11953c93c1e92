package handlers

import (
	"context"
	"net/http"

	"github.com/diewo77/go-prefacturation/httpx"
	"github.com/diewo77/go-prefacturation/internal/logging"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/services"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
	"go.uber.org/zap"
)

type BlockHandler struct {
	registry *services.BlockRegistry
	log      *zap.Logger
}

func NewBlockHandler(registry *services.BlockRegistry, log *zap.Logger) *BlockHandler {
	return &BlockHandler{registry: registry, log: logging.OrNop(log)}
}

func (h *BlockHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/blocks", h.List)
	mux.HandleFunc("POST /api/blocks", h.Create)
	mux.HandleFunc("GET /api/blocks/check", h.Check)
	mux.HandleFunc("GET /api/blocks/{id}", h.View)
	mux.HandleFunc("POST /api/blocks/{id}/resolve", h.Resolve)
	mux.HandleFunc("POST /api/blocks/{id}/cancel", h.Cancel)
}

func (h *BlockHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v := validation.Violations{}
	f := store.BlockFilter{
		EntityType: models.BlockEntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		Status:     models.BlockStatus(q.Get("status")),
		Type:       models.BlockType(q.Get("type")),
		Page:       pageParams(r, v),
	}
	if !v.Empty() {
		writeError(w, h.log, &services.ValidationError{Fields: v})
		return
	}
	items, total, err := h.registry.List(r.Context(), f)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list(items, total))
}

func (h *BlockHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.CreateBlockInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.CreatedBy = actor(r, in.CreatedBy)
	b, err := h.registry.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

// Check lists the active blocks of ?entity_type=&entity_id=, adding the
// compliance blocks of ?carrier_id= when given.
func (h *BlockHandler) Check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityType := models.BlockEntityType(q.Get("entity_type"))
	v := validation.Violations{}
	validation.OneOf("entity_type", entityType.Valid(), v)
	validation.Required("entity_id", q.Get("entity_id"), v)
	if !v.Empty() {
		writeError(w, h.log, &services.ValidationError{Fields: v})
		return
	}
	blocks, err := h.registry.Check(r.Context(), entityType, q.Get("entity_id"), q.Get("carrier_id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if blocks == nil {
		blocks = []models.Block{}
	}
	blocked := false
	for _, b := range blocks {
		if b.BlocksBilling() {
			blocked = true
			break
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"blocked": blocked,
		"blocks":  blocks,
	})
}

func (h *BlockHandler) View(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	b, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *BlockHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.lift(w, r, h.registry.Resolve)
}

func (h *BlockHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.lift(w, r, h.registry.Cancel)
}

type liftFunc func(ctx context.Context, id uint, in services.LiftBlockInput) (*models.Block, error)

func (h *BlockHandler) lift(w http.ResponseWriter, r *http.Request, op liftFunc) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var in services.LiftBlockInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.Actor = actor(r, in.Actor)
	b, err := op(r.Context(), id, in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}
