package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/diewo77/go-prefacturation/httpx"
	"github.com/diewo77/go-prefacturation/internal/logging"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/services"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	svc *services.DisputeService
	log *zap.Logger
}

func NewDisputeHandler(svc *services.DisputeService, log *zap.Logger) *DisputeHandler {
	return &DisputeHandler{svc: svc, log: logging.OrNop(log)}
}

func (h *DisputeHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/disputes", h.List)
	mux.HandleFunc("POST /api/disputes", h.Open)
	mux.HandleFunc("GET /api/disputes/{id}", h.View)
	mux.HandleFunc("POST /api/disputes/{id}/review", h.event(h.svc.Review))
	mux.HandleFunc("POST /api/disputes/{id}/escalate", h.event(h.svc.Escalate))
	mux.HandleFunc("POST /api/disputes/{id}/comment", h.event(h.svc.Comment))
	mux.HandleFunc("POST /api/disputes/{id}/reject", h.event(h.svc.Reject))
	mux.HandleFunc("POST /api/disputes/{id}/resolve", h.Resolve)
}

// List accepts prefacturation_id, carrier_id, type and a comma separated status.
func (h *DisputeHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v := validation.Violations{}
	f := store.DisputeFilter{
		CarrierID: q.Get("carrier_id"),
		Type:      models.DisputeType(q.Get("type")),
		Page:      pageParams(r, v),
	}
	if raw := q.Get("prefacturation_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			v["prefacturation_id"] = "invalid_id"
		}
		f.PrefacturationID = uint(id)
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, models.DisputeStatus(strings.TrimSpace(s)))
		}
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

func (h *DisputeHandler) Open(w http.ResponseWriter, r *http.Request) {
	var in services.OpenDisputeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.Actor = actor(r, in.Actor)
	d, err := h.svc.Open(r.Context(), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *DisputeHandler) View(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

type eventFunc func(ctx context.Context, id uint, in services.EventInput) (*models.Dispute, error)

func (h *DisputeHandler) event(op eventFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		var in services.EventInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			badJSON(w, err)
			return
		}
		in.Actor = actor(r, in.Actor)
		d, err := op(r.Context(), id, in)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		httpx.JSON(w, http.StatusOK, d)
	}
}

func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var in services.ResolveDisputeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.Actor = actor(r, in.Actor)
	d, err := h.svc.Resolve(r.Context(), id, in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}
