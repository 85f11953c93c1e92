package handlers

import (
	"errors"
	"net/http"

	"github.com/diewo77/go-prefacturation/httpx"
	"github.com/diewo77/go-prefacturation/internal/logging"
	"github.com/diewo77/go-prefacturation/internal/services"
	"go.uber.org/zap"
)

type PrefacturationHandler struct {
	svc *services.PrefacturationService
	log *zap.Logger
}

func NewPrefacturationHandler(svc *services.PrefacturationService, log *zap.Logger) *PrefacturationHandler {
	return &PrefacturationHandler{svc: svc, log: logging.OrNop(log)}
}

// Register mounts the pre-invoice routes on mux.
func (h *PrefacturationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/prefacturations", h.List)
	mux.HandleFunc("POST /api/prefacturations", h.Generate)
	mux.HandleFunc("GET /api/prefacturations/stats", h.Stats)
	mux.HandleFunc("GET /api/prefacturations/payments.csv", h.PaymentsCSV)
	mux.HandleFunc("POST /api/prefacturations/send", h.SendToIndustrial)
	mux.HandleFunc("POST /api/prefacturations/countdowns", h.UpdateCountdowns)
	mux.HandleFunc("GET /api/prefacturations/{id}", h.View)
	mux.HandleFunc("POST /api/prefacturations/{id}/validate", h.Validate)
	mux.HandleFunc("POST /api/prefacturations/{id}/finalize", h.Finalize)
	mux.HandleFunc("POST /api/prefacturations/{id}/dispute", h.Dispute)
	mux.HandleFunc("POST /api/prefacturations/{id}/release", h.ReleaseHold)
	mux.HandleFunc("POST /api/prefacturations/{id}/payment", h.MarkPaid)
	mux.HandleFunc("POST /api/prefacturations/{id}/invoiced", h.MarkInvoiced)
	mux.HandleFunc("POST /api/prefacturations/{id}/carrier-invoice", h.UploadCarrierInvoice)
}

func (h *PrefacturationHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := prefacturationFilter(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	items, total, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list(items, total))
}

func (h *PrefacturationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var in services.GenerateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.Actor = actor(r, in.Actor)
	p, err := h.svc.Generate(r.Context(), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *PrefacturationHandler) View(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *PrefacturationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	f, err := prefacturationFilter(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	st, err := h.svc.Stats(r.Context(), f)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *PrefacturationHandler) PaymentsCSV(w http.ResponseWriter, r *http.Request) {
	f, err := prefacturationFilter(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	body, err := h.svc.PaymentsCSV(r.Context(), f)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.Download(w, "text/csv; charset=utf-8", "payments.csv", body)
}

type batchRequest struct {
	IDs   []uint `json:"ids"`
	Actor string `json:"actor"`
}

func (h *PrefacturationHandler) SendToIndustrial(w http.ResponseWriter, r *http.Request) {
	var in batchRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	res, err := h.svc.SendToIndustrial(r.Context(), in.IDs, actor(r, in.Actor))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *PrefacturationHandler) UpdateCountdowns(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.UpdateCountdowns(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *PrefacturationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var in services.ValidateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.Actor = actor(r, in.Actor)
	p, err := h.svc.Validate(r.Context(), id, in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type actorRequest struct {
	Actor   string `json:"actor"`
	Reason  string `json:"reason"`
	Comment string `json:"comment"`
}

// decodeActor reads an optional actorRequest body.
func decodeActor(w http.ResponseWriter, r *http.Request) (uint, actorRequest, bool) {
	var in actorRequest
	id, err := pathID(r)
	if err != nil {
		writeError(w, zap.NewNop(), err)
		return 0, in, false
	}
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return 0, in, false
	}
	in.Actor = actor(r, in.Actor)
	return id, in, true
}

func (h *PrefacturationHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, in, ok := decodeActor(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Finalize(r.Context(), id, in.Actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *PrefacturationHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	id, in, ok := decodeActor(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Dispute(r.Context(), id, in.Reason, in.Actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *PrefacturationHandler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	id, in, ok := decodeActor(w, r)
	if !ok {
		return
	}
	p, err := h.svc.ReleaseHold(r.Context(), id, in.Actor, in.Comment)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *PrefacturationHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var in services.PaymentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.Actor = actor(r, in.Actor)
	p, err := h.svc.MarkPaid(r.Context(), id, in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *PrefacturationHandler) MarkInvoiced(w http.ResponseWriter, r *http.Request) {
	id, in, ok := decodeActor(w, r)
	if !ok {
		return
	}
	p, err := h.svc.MarkInvoiced(r.Context(), id, in.Actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// UploadCarrierInvoice answers 423 with the stored pre-invoice when the
// invoice was kept but acceptance is blocked.
func (h *PrefacturationHandler) UploadCarrierInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var in services.CarrierInvoiceInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		badJSON(w, err)
		return
	}
	in.Actor = actor(r, in.Actor)
	p, err := h.svc.UploadCarrierInvoice(r.Context(), id, in)
	var be *services.BlockedError
	if errors.As(err, &be) && p != nil {
		httpx.JSONError(w, http.StatusLocked, "blocked", map[string]any{
			"blocks":         be.Blocks,
			"prefacturation": p,
		})
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}
