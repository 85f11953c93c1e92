package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-prefacturation/internal/lock"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const autoRestrictionReason = "Expired vigilance documents"

// ComplianceService keeps carrier vigilance files up to date and derives
// their billing restrictions.
type ComplianceService struct {
	store  *store.Store
	locker lock.Locker
	opts   options
}

// NewComplianceService returns a compliance evaluator backed by st.
func NewComplianceService(st *store.Store, locker lock.Locker, opts ...Option) *ComplianceService {
	return &ComplianceService{store: st, locker: locker, opts: newOptions(opts)}
}

// DocumentInput describes an uploaded or replaced vigilance document.
// An empty ID creates a new document.
type DocumentInput struct {
	CarrierName string              `json:"carrier_name,omitempty"`
	TaxID       string              `json:"tax_id,omitempty"`
	ID          string              `json:"id,omitempty"`
	Type        models.DocumentType `json:"type"`
	Number      string              `json:"number,omitempty"`
	IssueDate   *time.Time          `json:"issue_date,omitempty"`
	ExpiryDate  *time.Time          `json:"expiry_date,omitempty"`
	AlertDays   int                 `json:"alert_days,omitempty"`
	File        models.FileRef      `json:"file"`
}

// VerificationInput records the manual review of a document.
type VerificationInput struct {
	Status models.VerificationStatus `json:"status"`
	Actor  string                    `json:"actor"`
	Reason string                    `json:"reason,omitempty"`
}

// RestrictionInput sets or lifts a manual billing restriction.
type RestrictionInput struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	Actor   string `json:"actor,omitempty"`
}

// ComplianceBatchResult reports a ReevaluateAll run.
type ComplianceBatchResult struct {
	Requested    int               `json:"requested"`
	Updated      int               `json:"updated"`
	NonCompliant int               `json:"non_compliant"`
	Alerts       int               `json:"alerts"`
	Failed       map[string]string `json:"failed,omitempty"`
}

// Get loads the vigilance file of a carrier.
func (c *ComplianceService) Get(ctx context.Context, carrierID string) (*models.CarrierVigilance, error) {
	return c.store.GetVigilance(ctx, carrierID)
}

// List returns the vigilance files matching f.
func (c *ComplianceService) List(ctx context.Context, f store.VigilanceFilter) ([]models.CarrierVigilance, int64, error) {
	return c.store.FindVigilances(ctx, f)
}

// evaluate recomputes the file and applies the automatic restriction.
// A manual restriction is never overridden.
func (c *ComplianceService) evaluate(v *models.CarrierVigilance) []models.VigilanceAlert {
	now := c.opts.now()
	raised := v.Recompute(now, c.opts.settings.VigilanceAlertDays)

	r := &v.Restrictions
	if !r.Manual {
		switch {
		case v.OverallStatus == models.NonCompliant && !r.IsBlocked:
			r.IsBlocked = true
			r.Reason = autoRestrictionReason
			r.BlockedSince = &now
		case v.OverallStatus != models.NonCompliant && r.IsBlocked:
			*r = models.BillingRestrictions{}
		}
	}

	for _, a := range raised {
		c.opts.metrics.Alert(string(a.Severity))
		c.opts.log.Warn("vigilance alert",
			zap.String("carrier_id", v.CarrierID),
			zap.String("document_id", a.DocumentID),
			zap.String("status", string(a.Status)),
			zap.String("severity", string(a.Severity)))
	}
	return raised
}

// update loads (or, when create is set, initializes) the carrier file under
// its lock, applies fn, re-evaluates and saves it.
func (c *ComplianceService) update(ctx context.Context, carrierID, op string, create *models.CarrierVigilance, fn func(v *models.CarrierVigilance) error) (*models.CarrierVigilance, error) {
	release, err := c.locker.Lock(ctx, entityKey(models.EntityCarrier, carrierID))
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := c.store.GetVigilance(ctx, carrierID)
	isNew := false
	if errors.Is(err, ErrNotFound) && create != nil {
		v, err, isNew = create, nil, true
	}
	if err != nil {
		return nil, err
	}

	if err = fn(v); err == nil {
		c.evaluate(v)
		if isNew {
			err = c.store.CreateVigilance(ctx, v)
		} else {
			err = c.store.SaveVigilance(ctx, v)
		}
	}
	c.opts.metrics.Operation(op, err)
	if err != nil {
		return nil, err
	}

	c.opts.log.Info("vigilance evaluated",
		zap.String("operation", op),
		zap.String("carrier_id", v.CarrierID),
		zap.String("overall_status", string(v.OverallStatus)),
		zap.Bool("billing_blocked", v.Restrictions.IsBlocked))
	return v, nil
}

// UpsertDocument adds or replaces a document and re-evaluates the carrier.
// The carrier file is created on first upload.
func (c *ComplianceService) UpsertDocument(ctx context.Context, carrierID string, in DocumentInput) (*models.CarrierVigilance, error) {
	v := validation.Violations{}
	validation.Required("carrier_id", carrierID, v)
	validation.OneOf("type", in.Type.Valid(), v)
	if in.AlertDays < 0 {
		v["alert_days"] = "must_not_be_negative"
	}
	if in.IssueDate != nil && in.ExpiryDate != nil && in.ExpiryDate.Before(*in.IssueDate) {
		v["expiry_date"] = "before_issue_date"
	}
	if err := invalid(v); err != nil {
		return nil, err
	}

	fresh := &models.CarrierVigilance{CarrierID: carrierID, CarrierName: in.CarrierName, TaxID: in.TaxID}
	return c.update(ctx, carrierID, "vigilance_document", fresh, func(vf *models.CarrierVigilance) error {
		if in.CarrierName != "" {
			vf.CarrierName = in.CarrierName
		}
		if in.TaxID != "" {
			vf.TaxID = in.TaxID
		}
		doc := models.VigilanceDocument{
			ID:                 in.ID,
			Type:               in.Type,
			Number:             in.Number,
			IssueDate:          in.IssueDate,
			ExpiryDate:         in.ExpiryDate,
			AlertDays:          in.AlertDays,
			File:               in.File,
			UploadedAt:         c.opts.now(),
			VerificationStatus: models.VerificationPending,
		}
		if doc.AlertDays == 0 {
			doc.AlertDays = c.opts.settings.VigilanceAlertDays
		}
		if doc.ID == "" {
			doc.ID = uuid.NewString()
			vf.Documents = append(vf.Documents, doc)
			return nil
		}
		existing, ok := vf.Document(doc.ID)
		if !ok {
			return fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
		}
		*existing = doc
		return nil
	})
}

// RemoveDocument deletes a document and re-evaluates the carrier.
func (c *ComplianceService) RemoveDocument(ctx context.Context, carrierID, documentID string) (*models.CarrierVigilance, error) {
	return c.update(ctx, carrierID, "vigilance_document_remove", nil, func(v *models.CarrierVigilance) error {
		for i, d := range v.Documents {
			if d.ID == documentID {
				v.Documents = append(v.Documents[:i], v.Documents[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	})
}

// VerifyDocument marks a document verified or rejected.
func (c *ComplianceService) VerifyDocument(ctx context.Context, carrierID, documentID string, in VerificationInput) (*models.CarrierVigilance, error) {
	v := validation.Violations{}
	validation.OneOf("status", in.Status == models.VerificationVerified || in.Status == models.VerificationRejected, v)
	validation.Required("actor", in.Actor, v)
	if in.Status == models.VerificationRejected {
		validation.Required("reason", in.Reason, v)
	}
	if err := invalid(v); err != nil {
		return nil, err
	}

	return c.update(ctx, carrierID, "vigilance_verify", nil, func(vf *models.CarrierVigilance) error {
		d, ok := vf.Document(documentID)
		if !ok {
			return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
		}
		now := c.opts.now()
		d.VerificationStatus = in.Status
		d.VerifiedBy = in.Actor
		d.VerifiedAt = &now
		d.RejectionReason = ""
		if in.Status == models.VerificationRejected {
			d.RejectionReason = in.Reason
		}
		return nil
	})
}

// SetBillingRestriction blocks or unblocks billing by hand. Lifting a manual
// restriction hands control back to the automatic rule.
func (c *ComplianceService) SetBillingRestriction(ctx context.Context, carrierID string, in RestrictionInput) (*models.CarrierVigilance, error) {
	if in.Blocked && strings.TrimSpace(in.Reason) == "" {
		return nil, invalidField("reason", "required")
	}
	return c.update(ctx, carrierID, "vigilance_restriction", nil, func(v *models.CarrierVigilance) error {
		if !in.Blocked {
			v.Restrictions = models.BillingRestrictions{}
			return nil
		}
		now := c.opts.now()
		v.Restrictions = models.BillingRestrictions{
			IsBlocked:    true,
			Reason:       in.Reason,
			BlockedSince: &now,
			Manual:       true,
		}
		return nil
	})
}

// Evaluate re-derives the compliance state of one carrier.
func (c *ComplianceService) Evaluate(ctx context.Context, carrierID string) (*models.CarrierVigilance, error) {
	return c.update(ctx, carrierID, "vigilance_evaluate", nil, func(*models.CarrierVigilance) error { return nil })
}

// ReevaluateAll re-derives every carrier file so that expiry is noticed
// without a new upload. Carriers are updated independently.
func (c *ComplianceService) ReevaluateAll(ctx context.Context) (*ComplianceBatchResult, error) {
	ids, err := c.store.CarrierIDs(ctx)
	if err != nil {
		return nil, err
	}
	res := &ComplianceBatchResult{Requested: len(ids)}
	for _, id := range ids {
		var alerts int
		v, err := c.update(ctx, id, "vigilance_evaluate", nil, func(v *models.CarrierVigilance) error {
			alerts = len(v.Alerts)
			return nil
		})
		if err != nil {
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[id] = err.Error()
			continue
		}
		res.Updated++
		res.Alerts += len(v.Alerts) - alerts
		if v.OverallStatus == models.NonCompliant {
			res.NonCompliant++
		}
	}
	c.opts.metrics.Batch("vigilance_reevaluate", res.Updated)
	c.opts.log.Info("vigilance re-evaluated",
		zap.Int("carriers", res.Requested),
		zap.Int("updated", res.Updated),
		zap.Int("non_compliant", res.NonCompliant),
		zap.Int("alerts", res.Alerts))
	return res, nil
}
