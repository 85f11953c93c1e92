package handlers

import (
	"net/http"
	"strconv"

	"github.com/diewo77/go-prefacturation/httpx"
	"github.com/diewo77/go-prefacturation/internal/logging"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/services"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
	"go.uber.org/zap"
)

type VigilanceHandler struct {
	svc *services.ComplianceService
	log *zap.Logger
}

func NewVigilanceHandler(svc *services.ComplianceService, log *zap.Logger) *VigilanceHandler {
	return &VigilanceHandler{svc: svc, log: logging.OrNop(log)}
}

// Register mounts the carrier compliance routes on mux.
func (h *VigilanceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/vigilance", h.List)
	mux.HandleFunc("POST /api/vigilance/reevaluate", h.ReevaluateAll)
	mux.HandleFunc("GET /api/carriers/{carrier}/vigilance", h.View)
	mux.HandleFunc("POST /api/carriers/{carrier}/documents", h.UpsertDocument)
	mux.HandleFunc("DELETE /api/carriers/{carrier}/documents/{doc}", h.RemoveDocument)
	mux.HandleFunc("POST /api/carriers/{carrier}/documents/{doc}/verify", h.VerifyDocument)
	mux.HandleFunc("POST /api/carriers/{carrier}/restriction", h.SetRestriction)
	mux.HandleFunc("POST /api/carriers/{carrier}/evaluate", h.Evaluate)
}

func (h *VigilanceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v := validation.Violations{}
	f := store.VigilanceFilter{
		OverallStatus: models.ComplianceStatus(q.Get("overall_status")),
		Page:          pageParams(r, v),
	}
	if raw := q.Get("blocked"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			v["blocked"] = "invalid_value"
		}
		f.Blocked = &b
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

func (h *VigilanceHandler) ReevaluateAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ReevaluateAll(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *VigilanceHandler) View(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Get(r.Context(), r.PathValue("carrier"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *VigilanceHandler) UpsertDocument(w http.ResponseWriter, r *http.Request) {
	var in services.DocumentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	v, err := h.svc.UpsertDocument(r.Context(), r.PathValue("carrier"), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *VigilanceHandler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.RemoveDocument(r.Context(), r.PathValue("carrier"), r.PathValue("doc"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *VigilanceHandler) VerifyDocument(w http.ResponseWriter, r *http.Request) {
	var in services.VerificationInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.Actor = actor(r, in.Actor)
	v, err := h.svc.VerifyDocument(r.Context(), r.PathValue("carrier"), r.PathValue("doc"), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *VigilanceHandler) SetRestriction(w http.ResponseWriter, r *http.Request) {
	var in services.RestrictionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.Actor = actor(r, in.Actor)
	v, err := h.svc.SetBillingRestriction(r.Context(), r.PathValue("carrier"), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *VigilanceHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Evaluate(r.Context(), r.PathValue("carrier"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}
