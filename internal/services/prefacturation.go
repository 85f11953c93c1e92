package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/diewo77/go-prefacturation/internal/lock"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/pricing"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
	"go.uber.org/zap"
)

const defaultDisputeReason = "Contested by industrial"

// errUnchanged tells mutate to skip the save.
var errUnchanged = errors.New("unchanged")

// PrefacturationService owns the pre-invoice lifecycle.
type PrefacturationService struct {
	store  *store.Store
	locker lock.Locker
	blocks *BlockRegistry
	calc   *pricing.Calculator
	opts   options
}

// NewPrefacturationService wires the lifecycle engine. blocks gates finalization.
func NewPrefacturationService(st *store.Store, locker lock.Locker, blocks *BlockRegistry, opts ...Option) *PrefacturationService {
	o := newOptions(opts)
	return &PrefacturationService{
		store:  st,
		locker: locker,
		blocks: blocks,
		calc:   pricing.NewCalculator(o.settings.FuelSurchargeRate, o.settings.VATRate),
		opts:   o,
	}
}

// GenerateInput is the order data a draft pre-invoice is built from.
type GenerateInput struct {
	Reference string              `json:"reference,omitempty"`
	Carrier   models.Party        `json:"carrier"`
	Client    models.Party        `json:"client"`
	Period    models.Period       `json:"period"`
	Lines     []pricing.LineInput `json:"lines"`
	Actor     string              `json:"actor,omitempty"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
}

// Adjustment replaces the tax-included amount of one line.
type Adjustment struct {
	LineIndex      int     `json:"line_index"`
	AdjustedAmount float64 `json:"adjusted_amount"`
	Reason         string  `json:"reason"`
}

// ValidateInput carries the industrial validation.
type ValidateInput struct {
	Actor       string       `json:"validated_by"`
	Notes       string       `json:"comments,omitempty"`
	Adjustments []Adjustment `json:"adjustments,omitempty"`
}

// PaymentInput records a payment.
type PaymentInput struct {
	Reference string     `json:"reference"`
	Amount    *float64   `json:"amount,omitempty"`
	Method    string     `json:"method,omitempty"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	Actor     string     `json:"actor,omitempty"`
}

// BatchResult reports a batch operation applied entity by entity.
type BatchResult struct {
	Requested int             `json:"requested"`
	Updated   int             `json:"updated"`
	Failed    map[uint]string `json:"failed,omitempty"`
}

func (r *BatchResult) fail(id uint, err error) {
	if r.Failed == nil {
		r.Failed = make(map[uint]string)
	}
	r.Failed[id] = err.Error()
}

// Generate prices the order lines and stores a new draft.
func (s *PrefacturationService) Generate(ctx context.Context, in GenerateInput) (*models.Prefacturation, error) {
	v := validation.Violations{}
	validation.Required("carrier.id", in.Carrier.ID, v)
	validation.Required("client.id", in.Client.ID, v)
	validation.RequiredTime("period.start", in.Period.Start, v)
	if !in.Period.End.IsZero() && in.Period.End.Before(in.Period.Start) {
		v["period.end"] = "before_start"
	}
	for i, l := range in.Lines {
		validation.NonNegativeFloat(fmt.Sprintf("lines[%d].weight", i), l.Weight, v)
		validation.NonNegativeFloat(fmt.Sprintf("lines[%d].price_per_kg", i), l.PricePerKg, v)
	}
	if err := invalid(v); err != nil {
		return nil, err
	}

	now := s.opts.now()
	lines := s.calc.PriceLines(in.Lines)
	p := &models.Prefacturation{
		Reference: strings.TrimSpace(in.Reference),
		Carrier:   in.Carrier,
		Client:    in.Client,
		Period:    in.Period,
		Lines:     lines,
		Totals:    pricing.Aggregate(lines),
		Status:    models.StatusDraft,
		Metadata:  in.Metadata,
	}
	p.RecountDiscrepancies()
	p.AddHistory(now, "generated", in.Actor, fmt.Sprintf("%d line(s)", len(lines)))

	keys := []string{lock.Key("sequence", "prefacturation")}
	if p.Reference != "" {
		keys = []string{lock.Key("reference", p.Reference)}
	}
	release, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	if p.Reference == "" {
		if p.Reference, err = s.store.NextPrefacturationReference(ctx, now); err != nil {
			return nil, err
		}
	}
	err = s.store.CreatePrefacturation(ctx, p)
	s.opts.metrics.Operation("generate", err)
	if err != nil {
		return nil, fmt.Errorf("create prefacturation: %w", err)
	}

	s.opts.log.Info("prefacturation generated",
		zap.String("reference", p.Reference),
		zap.String("carrier_id", p.Carrier.ID),
		zap.Int("lines", len(p.Lines)),
		zap.Float64("total_ttc", p.Totals.TotalTTC))
	return p, nil
}

// Get loads a pre-invoice.
func (s *PrefacturationService) Get(ctx context.Context, id uint) (*models.Prefacturation, error) {
	return s.store.GetPrefacturation(ctx, id)
}

// List returns the pre-invoices matching f and the total match count.
func (s *PrefacturationService) List(ctx context.Context, f store.PrefacturationFilter) ([]models.Prefacturation, int64, error) {
	return s.store.FindPrefacturations(ctx, f)
}

// mutate applies fn to the pre-invoice while holding its lock and saves the
// result. Nothing is written when fn fails or returns errUnchanged.
func (s *PrefacturationService) mutate(ctx context.Context, id uint, op string, fn func(p *models.Prefacturation) error) (*models.Prefacturation, error) {
	release, err := s.locker.Lock(ctx, lock.Key("prefacturation", id))
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.store.GetPrefacturation(ctx, id)
	if err != nil {
		return nil, err
	}
	from := p.Status
	err = fn(p)
	if errors.Is(err, errUnchanged) {
		return p, nil
	}
	if err == nil {
		err = s.store.SavePrefacturation(ctx, p)
	}
	s.opts.metrics.Operation(op, err)
	if err != nil {
		return nil, err
	}

	s.opts.log.Info("prefacturation updated",
		zap.String("operation", op),
		zap.String("reference", p.Reference),
		zap.String("from", string(from)),
		zap.String("to", string(p.Status)))
	return p, nil
}

func transition(p *models.Prefacturation, op string, to models.PrefacturationStatus) error {
	if !models.CanTransition(p.Status, to) {
		return &StateError{Op: op, From: p.Status}
	}
	p.Status = to
	return nil
}

// startPayment sets a fresh payment schedule of the configured term.
func (s *PrefacturationService) startPayment(p *models.Prefacturation, now time.Time) {
	term := s.opts.settings.PaymentTermDays
	due := now.AddDate(0, 0, term)
	p.Payment.DueDate = &due
	p.Payment.TermDays = term
	p.Payment.DaysRemaining = term
}

// SendToIndustrial moves drafts to sent_to_industrial and starts their
// payment term. Each pre-invoice is updated on its own.
func (s *PrefacturationService) SendToIndustrial(ctx context.Context, ids []uint, actor string) (*BatchResult, error) {
	if len(ids) == 0 {
		return nil, invalidField("ids", "required")
	}
	res := &BatchResult{Requested: len(ids)}
	for _, id := range ids {
		_, err := s.mutate(ctx, id, "send_to_industrial", func(p *models.Prefacturation) error {
			if p.Status != models.StatusDraft {
				return &StateError{Op: "send to industrial", From: p.Status}
			}
			if err := transition(p, "send to industrial", models.StatusSentToIndustrial); err != nil {
				return err
			}
			now := s.opts.now()
			s.startPayment(p, now)
			p.AddHistory(now, "sent_to_industrial", actor, "")
			return nil
		})
		if err != nil {
			res.fail(id, err)
			continue
		}
		res.Updated++
	}
	s.opts.metrics.Batch("send_to_industrial", res.Updated)
	s.opts.log.Info("sent to industrial",
		zap.Int("requested", res.Requested),
		zap.Int("updated", res.Updated))
	return res, nil
}

// Validate records the industrial validation, applying line adjustments.
// Totals are recomputed from the lines after every adjustment is applied.
func (s *PrefacturationService) Validate(ctx context.Context, id uint, in ValidateInput) (*models.Prefacturation, error) {
	return s.mutate(ctx, id, "validate", func(p *models.Prefacturation) error {
		if p.Status != models.StatusSentToIndustrial && p.Status != models.StatusPending {
			return &StateError{Op: "validate", From: p.Status}
		}

		v := validation.Violations{}
		for i, adj := range in.Adjustments {
			validation.IndexInRange(fmt.Sprintf("adjustments[%d].line_index", i), adj.LineIndex, len(p.Lines), v)
			validation.NonNegativeFloat(fmt.Sprintf("adjustments[%d].adjusted_amount", i), adj.AdjustedAmount, v)
		}
		if err := invalid(v); err != nil {
			return err
		}

		for _, adj := range in.Adjustments {
			line := &p.Lines[adj.LineIndex]
			previous := line.TotalTTC
			pricing.AdjustLineTTC(line, adj.AdjustedAmount)
			line.Discrepancies = append(line.Discrepancies, models.Discrepancy{
				Type:          string(models.DisputeTariff),
				Description:   "Adjustment: " + adj.Reason,
				ExpectedValue: previous,
				ActualValue:   adj.AdjustedAmount,
				Impact:        adj.AdjustedAmount - previous,
			})
		}
		if len(in.Adjustments) > 0 {
			p.Totals = pricing.Aggregate(p.Lines)
		}
		p.RecountDiscrepancies()

		if err := transition(p, "validate", models.StatusValidatedIndustrial); err != nil {
			return err
		}
		now := s.opts.now()
		actor := in.Actor
		if actor == "" {
			actor = "industrial"
		}
		p.ValidationDate = &now
		p.ValidatedBy = actor
		p.ValidationNotes = in.Notes
		if p.Payment.DueDate == nil {
			s.startPayment(p, now)
		}
		p.AddHistory(now, "validated", actor, fmt.Sprintf("%d adjustment(s)", len(in.Adjustments)))
		return nil
	})
}

// finalizeKeys lists the locks held while a pre-invoice is accepted: the
// pre-invoice itself and every entity whose blocks gate it.
func finalizeKeys(p *models.Prefacturation) []string {
	keys := []string{lock.Key("sequence", "invoice")}
	for _, t := range billingTargets(p) {
		keys = append(keys, entityKey(t.Type, t.ID))
	}
	return keys
}

// Finalize accepts the pre-invoice and assigns its invoice reference.
// It fails with a BlockedError listing every active block.
func (s *PrefacturationService) Finalize(ctx context.Context, id uint, actor string) (*models.Prefacturation, error) {
	peek, err := s.store.GetPrefacturation(ctx, id)
	if err != nil {
		return nil, err
	}
	release, err := s.locker.Lock(ctx, finalizeKeys(peek)...)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.store.GetPrefacturation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = s.accept(ctx, p, actor); err == nil {
		err = s.store.SavePrefacturation(ctx, p)
	}
	s.opts.metrics.Operation("finalize", err)
	if err != nil {
		s.opts.log.Warn("finalize rejected",
			zap.String("reference", p.Reference),
			zap.String("status", string(p.Status)),
			zap.Error(err))
		return nil, err
	}

	s.opts.log.Info("prefacturation finalized",
		zap.String("reference", p.Reference),
		zap.String("invoice_reference", p.InvoiceReference))
	return p, nil
}

// accept runs the finalization guards and stamps p. Callers hold finalizeKeys.
func (s *PrefacturationService) accept(ctx context.Context, p *models.Prefacturation, actor string) error {
	if p.Status.IsAccepted() || !models.CanTransition(p.Status, models.StatusInvoiceAccepted) {
		return &StateError{Op: "finalize", From: p.Status}
	}
	blocks, err := s.blocks.billingBlocks(ctx, p)
	if err != nil {
		return err
	}
	if len(blocks) > 0 {
		return &BlockedError{Blocks: blocks}
	}

	now := s.opts.now()
	ref, err := s.store.NextInvoiceReference(ctx, now)
	if err != nil {
		return err
	}
	if err := transition(p, "finalize", models.StatusInvoiceAccepted); err != nil {
		return err
	}
	p.FinalizationDate = &now
	p.InvoiceReference = ref
	p.AddHistory(now, "finalized", actor, ref)
	return nil
}

// Dispute puts the pre-invoice on hold. It does not open a Dispute record.
func (s *PrefacturationService) Dispute(ctx context.Context, id uint, reason, actor string) (*models.Prefacturation, error) {
	if strings.TrimSpace(reason) == "" {
		reason = defaultDisputeReason
	}
	return s.mutate(ctx, id, "dispute", func(p *models.Prefacturation) error {
		if p.Status.IsTerminal() {
			return &StateError{Op: "dispute", From: p.Status}
		}
		if p.Status != models.StatusDisputed {
			p.StatusBeforeDispute = p.Status
		}
		if err := transition(p, "dispute", models.StatusDisputed); err != nil {
			return err
		}
		now := s.opts.now()
		p.Blocks = append(p.Blocks, models.Hold{
			Type:      string(models.BlockDispute),
			Reason:    reason,
			CreatedAt: now,
		})
		p.AddHistory(now, "disputed", actor, reason)
		return nil
	})
}

// ReleaseHold lifts the dispute holds and restores the previous status.
func (s *PrefacturationService) ReleaseHold(ctx context.Context, id uint, actor, comment string) (*models.Prefacturation, error) {
	return s.mutate(ctx, id, "release_hold", func(p *models.Prefacturation) error {
		if p.Status != models.StatusDisputed {
			return &StateError{Op: "release hold", From: p.Status}
		}
		p.RemoveHolds(func(h models.Hold) bool { return h.Type == string(models.BlockDispute) })
		restore := p.StatusBeforeDispute
		if restore == "" {
			restore = models.StatusDraft
		}
		if err := transition(p, "release hold", restore); err != nil {
			return err
		}
		p.StatusBeforeDispute = ""
		p.AddHistory(s.opts.now(), "hold_released", actor, comment)
		return nil
	})
}

// MarkPaid records the payment. The amount defaults to the total TTC.
func (s *PrefacturationService) MarkPaid(ctx context.Context, id uint, in PaymentInput) (*models.Prefacturation, error) {
	v := validation.Violations{}
	validation.Required("reference", in.Reference, v)
	if in.Amount != nil {
		validation.NonNegativeFloat("amount", *in.Amount, v)
	}
	if err := invalid(v); err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "mark_paid", func(p *models.Prefacturation) error {
		if err := transition(p, "mark paid", models.StatusPaid); err != nil {
			return err
		}
		now := s.opts.now()
		paidAt := now
		if in.PaidAt != nil {
			paidAt = *in.PaidAt
		}
		amount := p.Totals.TotalTTC
		if in.Amount != nil {
			amount = *in.Amount
		}
		p.Payment.PaidDate = &paidAt
		p.Payment.PaidAmount = amount
		p.Payment.Reference = strings.TrimSpace(in.Reference)
		p.Payment.Method = in.Method
		p.Payment.DaysRemaining = 0
		p.AddHistory(now, "paid", in.Actor, p.Payment.Reference)
		return nil
	})
}

// MarkInvoiced closes an accepted pre-invoice that was billed outside the
// payment flow.
func (s *PrefacturationService) MarkInvoiced(ctx context.Context, id uint, actor string) (*models.Prefacturation, error) {
	return s.mutate(ctx, id, "mark_invoiced", func(p *models.Prefacturation) error {
		if err := transition(p, "mark invoiced", models.StatusInvoiced); err != nil {
			return err
		}
		p.AddHistory(s.opts.now(), "invoiced", actor, p.InvoiceReference)
		return nil
	})
}

// daysUntil rounds the remaining time up to whole days.
func daysUntil(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}
