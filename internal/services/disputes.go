package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/diewo77/go-prefacturation/internal/lock"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
	"go.uber.org/zap"
)

// DisputeService tracks disputes and keeps the discrepancy counters of the
// parent pre-invoice in step with them.
type DisputeService struct {
	store  *store.Store
	locker lock.Locker
	opts   options
}

// NewDisputeService returns a dispute ledger backed by st.
func NewDisputeService(st *store.Store, locker lock.Locker, opts ...Option) *DisputeService {
	return &DisputeService{store: st, locker: locker, opts: newOptions(opts)}
}

// OpenDisputeInput describes a new dispute. When no discrepancy is named
// the first unresolved, unlinked discrepancy of the pre-invoice is used.
type OpenDisputeInput struct {
	PrefacturationID uint               `json:"prefacturation_id"`
	Type             models.DisputeType `json:"type"`
	Priority         models.Severity    `json:"priority,omitempty"`
	Initiator        string             `json:"initiator,omitempty"`
	Actor            string             `json:"actor"`
	Subject          string             `json:"subject"`
	Description      string             `json:"description,omitempty"`
	LineIndex        *int               `json:"line_index,omitempty"`
	DiscrepancyIndex *int               `json:"discrepancy_index,omitempty"`
	DisputedAmount   float64            `json:"disputed_amount,omitempty"`
	ProposedAmount   *float64           `json:"proposed_amount,omitempty"`
	Evidence         []models.FileRef   `json:"evidence,omitempty"`
}

// ResolveDisputeInput closes a dispute with a decision.
type ResolveDisputeInput struct {
	Decision       models.DisputeDecision `json:"decision"`
	AdjustedAmount *float64               `json:"adjusted_amount,omitempty"`
	Comment        string                 `json:"comment,omitempty"`
	Actor          string                 `json:"actor"`
}

// EventInput is an actor and a free comment.
type EventInput struct {
	Actor   string `json:"actor"`
	Comment string `json:"comment,omitempty"`
}

// Get loads a dispute.
func (s *DisputeService) Get(ctx context.Context, id uint) (*models.Dispute, error) {
	return s.store.GetDispute(ctx, id)
}

// List returns the disputes matching f.
func (s *DisputeService) List(ctx context.Context, f store.DisputeFilter) ([]models.Dispute, int64, error) {
	return s.store.FindDisputes(ctx, f)
}

// linkable reports whether a discrepancy can back a new dispute.
func linkable(d models.Discrepancy) bool {
	return !d.Resolved && d.DisputeID == 0
}

// Open creates a dispute on a pre-invoice and links it to a discrepancy.
func (s *DisputeService) Open(ctx context.Context, in OpenDisputeInput) (*models.Dispute, error) {
	v := validation.Violations{}
	if in.PrefacturationID == 0 {
		v["prefacturation_id"] = "required"
	}
	validation.OneOf("type", in.Type.Valid(), v)
	validation.Required("subject", in.Subject, v)
	validation.Required("actor", in.Actor, v)
	validation.NonNegativeFloat("disputed_amount", in.DisputedAmount, v)
	if in.Priority == "" {
		in.Priority = models.SeverityMedium
	}
	validation.OneOf("priority", in.Priority.Valid(), v)
	if in.DiscrepancyIndex != nil && in.LineIndex == nil {
		v["line_index"] = "required"
	}
	if err := invalid(v); err != nil {
		return nil, err
	}

	release, err := s.locker.Lock(ctx, lock.Key("prefacturation", in.PrefacturationID))
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.store.GetPrefacturation(ctx, in.PrefacturationID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return nil, &StateError{Op: "open dispute", From: p.Status}
	}

	line, disc, err := pickDiscrepancy(p, in.LineIndex, in.DiscrepancyIndex)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	d := &models.Dispute{
		Reference:         newReference("DSP"),
		PrefacturationID:  p.ID,
		PrefacturationRef: p.Reference,
		CarrierID:         p.Carrier.ID,
		Type:              in.Type,
		Status:            models.DisputeOpen,
		Priority:          in.Priority,
		Initiator:         in.Initiator,
		InitiatedBy:       in.Actor,
		Subject:           strings.TrimSpace(in.Subject),
		Description:       in.Description,
		Amount:            models.DisputeAmount{Disputed: in.DisputedAmount, Proposed: in.ProposedAmount},
		Evidence:          in.Evidence,
	}
	if line >= 0 {
		d.LineIndex, d.DiscrepancyIndex = &line, &disc
		if d.Amount.Disputed == 0 {
			d.Amount.Disputed = math.Abs(p.Lines[line].Discrepancies[disc].Impact)
		}
	}
	d.AddEvent(now, "opened", in.Actor, in.Description)

	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateDispute(ctx, d); err != nil {
			return err
		}
		if line < 0 {
			return nil
		}
		p.Lines[line].Discrepancies[disc].DisputeID = d.ID
		p.AddHistory(now, "dispute_opened", in.Actor, d.Reference)
		return tx.SavePrefacturation(ctx, p)
	})
	s.opts.metrics.Operation("dispute_open", err)
	if err != nil {
		return nil, fmt.Errorf("open dispute: %w", err)
	}

	s.opts.log.Info("dispute opened",
		zap.String("reference", d.Reference),
		zap.String("prefacturation", p.Reference),
		zap.String("type", string(d.Type)),
		zap.Bool("linked", line >= 0))
	return d, nil
}

// pickDiscrepancy returns the line and discrepancy indexes a new dispute
// links to, or -1, -1 when the pre-invoice has nothing to link.
func pickDiscrepancy(p *models.Prefacturation, lineIdx, discIdx *int) (int, int, error) {
	if lineIdx != nil {
		v := validation.Violations{}
		validation.IndexInRange("line_index", *lineIdx, len(p.Lines), v)
		if err := invalid(v); err != nil {
			return -1, -1, err
		}
		discs := p.Lines[*lineIdx].Discrepancies
		if discIdx != nil {
			validation.IndexInRange("discrepancy_index", *discIdx, len(discs), v)
			if err := invalid(v); err != nil {
				return -1, -1, err
			}
			if !linkable(discs[*discIdx]) {
				return -1, -1, invalidField("discrepancy_index", "not_disputable")
			}
			return *lineIdx, *discIdx, nil
		}
		for j, d := range discs {
			if linkable(d) {
				return *lineIdx, j, nil
			}
		}
		return -1, -1, nil
	}
	for i, l := range p.Lines {
		for j, d := range l.Discrepancies {
			if linkable(d) {
				return i, j, nil
			}
		}
	}
	return -1, -1, nil
}

// advance moves an open dispute to another non-final status.
func (s *DisputeService) advance(ctx context.Context, id uint, op, action string, to models.DisputeStatus, from []models.DisputeStatus, in EventInput) (*models.Dispute, error) {
	if strings.TrimSpace(in.Actor) == "" {
		return nil, invalidField("actor", "required")
	}
	release, err := s.locker.Lock(ctx, lock.Key("dispute", id))
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := s.store.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.IsClosed() {
		return nil, fmt.Errorf("dispute %s is %s: %w", d.Reference, d.Status, ErrAlreadyResolved)
	}
	allowed := false
	for _, st := range from {
		allowed = allowed || d.Status == st
	}
	if !allowed {
		return nil, fmt.Errorf("cannot %s dispute in status %s: %w", action, d.Status, ErrInvalidState)
	}

	d.Status = to
	d.AddEvent(s.opts.now(), action, in.Actor, in.Comment)
	err = s.store.SaveDispute(ctx, d)
	s.opts.metrics.Operation(op, err)
	if err != nil {
		return nil, err
	}
	s.opts.log.Info("dispute updated",
		zap.String("reference", d.Reference),
		zap.String("status", string(d.Status)))
	return d, nil
}

// Review takes an open dispute under review.
func (s *DisputeService) Review(ctx context.Context, id uint, in EventInput) (*models.Dispute, error) {
	return s.advance(ctx, id, "dispute_review", "review", models.DisputeUnderReview,
		[]models.DisputeStatus{models.DisputeOpen}, in)
}

// Escalate raises a dispute that could not be settled at first level.
func (s *DisputeService) Escalate(ctx context.Context, id uint, in EventInput) (*models.Dispute, error) {
	return s.advance(ctx, id, "dispute_escalate", "escalate", models.DisputeEscalated,
		[]models.DisputeStatus{models.DisputeOpen, models.DisputeUnderReview}, in)
}

// Comment appends a remark to the timeline. Closed disputes accept comments.
func (s *DisputeService) Comment(ctx context.Context, id uint, in EventInput) (*models.Dispute, error) {
	v := validation.Violations{}
	validation.Required("actor", in.Actor, v)
	validation.Required("comment", in.Comment, v)
	if err := invalid(v); err != nil {
		return nil, err
	}
	release, err := s.locker.Lock(ctx, lock.Key("dispute", id))
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := s.store.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	d.AddEvent(s.opts.now(), "comment", in.Actor, in.Comment)
	if err := s.store.SaveDispute(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Reject closes a dispute without settlement. The linked discrepancy stays
// unresolved and becomes available to a new dispute.
func (s *DisputeService) Reject(ctx context.Context, id uint, in EventInput) (*models.Dispute, error) {
	if strings.TrimSpace(in.Actor) == "" {
		return nil, invalidField("actor", "required")
	}
	d, err := s.close(ctx, id, "dispute_reject", func(d *models.Dispute, p *models.Prefacturation) {
		now := s.opts.now()
		d.Status = models.DisputeRejected
		d.Resolution = models.DisputeResolution{
			Decision:   models.DecisionRefused,
			Comment:    in.Comment,
			ResolvedBy: in.Actor,
			ResolvedAt: &now,
		}
		d.AddEvent(now, "rejected", in.Actor, in.Comment)
		if p == nil {
			return
		}
		for i := range p.Lines {
			for j := range p.Lines[i].Discrepancies {
				if p.Lines[i].Discrepancies[j].DisputeID == d.ID {
					p.Lines[i].Discrepancies[j].DisputeID = 0
				}
			}
		}
		p.AddHistory(now, "dispute_rejected", in.Actor, d.Reference)
	})
	return d, err
}

// Resolve settles a dispute. The discrepancy it is linked to (or else the
// first unresolved one) is marked resolved, so the parent's unresolved
// count drops by exactly one, never below zero. Both records are written in
// one transaction.
func (s *DisputeService) Resolve(ctx context.Context, id uint, in ResolveDisputeInput) (*models.Dispute, error) {
	v := validation.Violations{}
	validation.OneOf("decision", in.Decision.Valid(), v)
	validation.Required("actor", in.Actor, v)
	if in.AdjustedAmount != nil {
		validation.NonNegativeFloat("adjusted_amount", *in.AdjustedAmount, v)
	}
	if err := invalid(v); err != nil {
		return nil, err
	}

	return s.close(ctx, id, "dispute_resolve", func(d *models.Dispute, p *models.Prefacturation) {
		now := s.opts.now()
		d.Status = models.DisputeResolved
		d.Resolution = models.DisputeResolution{
			Decision:       in.Decision,
			AdjustedAmount: in.AdjustedAmount,
			Comment:        in.Comment,
			ResolvedBy:     in.Actor,
			ResolvedAt:     &now,
		}
		if in.AdjustedAmount != nil {
			final := *in.AdjustedAmount
			d.Amount.Final = &final
		}
		d.AddEvent(now, "resolved", in.Actor, in.Comment)
		if p == nil {
			return
		}

		before := p.DiscrepanciesCount
		if disc := linkedDiscrepancy(p, d); disc != nil {
			disc.Resolved = true
			disc.DisputeID = d.ID
		}
		p.RecountDiscrepancies()
		p.AddHistory(now, "dispute_resolved", in.Actor, d.Reference)
		s.opts.log.Debug("discrepancy counter updated",
			zap.String("prefacturation", p.Reference),
			zap.Int("before", before),
			zap.Int("after", p.DiscrepanciesCount))
	})
}

// linkedDiscrepancy returns the discrepancy d is linked to when it is still
// unresolved, or else the first unresolved discrepancy of p.
func linkedDiscrepancy(p *models.Prefacturation, d *models.Dispute) *models.Discrepancy {
	if d.LineIndex != nil && d.DiscrepancyIndex != nil {
		i, j := *d.LineIndex, *d.DiscrepancyIndex
		if i >= 0 && i < len(p.Lines) && j >= 0 && j < len(p.Lines[i].Discrepancies) {
			if disc := &p.Lines[i].Discrepancies[j]; !disc.Resolved {
				return disc
			}
		}
	}
	for i := range p.Lines {
		for j := range p.Lines[i].Discrepancies {
			if disc := &p.Lines[i].Discrepancies[j]; !disc.Resolved {
				return disc
			}
		}
	}
	return nil
}

// close finishes a dispute under the dispute and parent locks. apply
// receives the parent pre-invoice, or nil when it is gone or in a terminal
// status, in which case only the dispute is written.
func (s *DisputeService) close(ctx context.Context, id uint, op string, apply func(d *models.Dispute, p *models.Prefacturation)) (*models.Dispute, error) {
	peek, err := s.store.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	keys := []string{lock.Key("dispute", id)}
	if peek.PrefacturationID != 0 {
		keys = append(keys, lock.Key("prefacturation", peek.PrefacturationID))
	}
	release, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := s.store.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.IsClosed() {
		err = fmt.Errorf("dispute %s is %s: %w", d.Reference, d.Status, ErrAlreadyResolved)
		s.opts.metrics.Operation(op, err)
		return nil, err
	}

	var p *models.Prefacturation
	if d.PrefacturationID != 0 {
		p, err = s.store.GetPrefacturation(ctx, d.PrefacturationID)
		switch {
		case errors.Is(err, ErrNotFound):
			p = nil
		case err != nil:
			return nil, err
		case p.Status.IsTerminal():
			s.opts.log.Info("parent prefacturation is closed, counters left unchanged",
				zap.String("prefacturation", p.Reference),
				zap.String("status", string(p.Status)))
			p = nil
		}
	}

	apply(d, p)
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.SaveDispute(ctx, d); err != nil {
			return err
		}
		if p == nil {
			return nil
		}
		return tx.SavePrefacturation(ctx, p)
	})
	s.opts.metrics.Operation(op, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.opts.log.Info("dispute closed",
		zap.String("reference", d.Reference),
		zap.String("status", string(d.Status)),
		zap.String("decision", string(d.Resolution.Decision)))
	return d, nil
}
