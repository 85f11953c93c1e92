package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-prefacturation/internal/lock"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CarrierInvoiceInput is the invoice a carrier uploads for a validated pre-invoice.
// AmountTTC may be left empty when an OCR client is configured.
type CarrierInvoiceInput struct {
	Number    string             `json:"number"`
	Date      *time.Time         `json:"date,omitempty"`
	AmountHT  float64            `json:"amount_ht"`
	AmountTTC *float64           `json:"amount_ttc,omitempty"`
	Document  models.FileRef     `json:"document"`
	Bank      models.BankDetails `json:"bank"`
	Actor     string             `json:"actor,omitempty"`
}

// invoiceControl compares the carrier amount with the pre-invoice total.
func invoiceControl(carrierTTC, expectedTTC, threshold float64) models.InvoiceControl {
	diff := decimal.NewFromFloat(carrierTTC).Sub(decimal.NewFromFloat(expectedTTC))
	pct := decimal.Zero
	switch {
	case !decimal.NewFromFloat(expectedTTC).IsZero():
		pct = diff.Abs().Div(decimal.NewFromFloat(expectedTTC))
	case !diff.IsZero():
		pct = decimal.NewFromInt(1)
	}
	c := models.InvoiceControl{
		Difference:        diff.Round(2).InexactFloat64(),
		DifferencePercent: pct.Round(6).InexactFloat64(),
	}
	c.AutoAccepted = pct.LessThanOrEqual(decimal.NewFromFloat(threshold))
	if !c.AutoAccepted {
		c.Note = fmt.Sprintf("Difference of %s (%s%%) exceeds tolerance", diff.StringFixed(2), pct.Mul(decimal.NewFromInt(100)).StringFixed(2))
	}
	return c
}

// UploadCarrierInvoice stores the carrier invoice and controls its amount.
// Within tolerance the pre-invoice is accepted and moves to payment_pending;
// otherwise it is rejected. When acceptance is prevented by active blocks
// the upload is kept, the pre-invoice stays invoice_uploaded and both the
// pre-invoice and a BlockedError are returned.
func (s *PrefacturationService) UploadCarrierInvoice(ctx context.Context, id uint, in CarrierInvoiceInput) (*models.Prefacturation, error) {
	v := validation.Violations{}
	if strings.TrimSpace(in.Document.URL) == "" && strings.TrimSpace(in.Document.Name) == "" {
		v["document"] = "required"
	}
	if in.AmountTTC != nil {
		validation.NonNegativeFloat("amount_ttc", *in.AmountTTC, v)
	}
	if err := invalid(v); err != nil {
		return nil, err
	}

	var ocr *models.OCRResult
	if s.opts.ocr != nil {
		res, err := s.opts.ocr.Extract(ctx, in.Document)
		if err != nil {
			s.opts.log.Warn("ocr extraction failed", zap.Uint("prefacturation_id", id), zap.Error(err))
		} else {
			ocr = res
		}
	}

	amount, number, date := in.AmountTTC, in.Number, in.Date
	amountHT := in.AmountHT
	if ocr != nil {
		if amount == nil && ocr.TotalAmount > 0 {
			amount = &ocr.TotalAmount
			if amountHT == 0 {
				amountHT = ocr.TotalAmount - ocr.VAT
			}
		}
		if number == "" {
			number = ocr.InvoiceNumber
		}
		if date == nil {
			date = ocr.InvoiceDate
		}
	}
	if amount == nil {
		return nil, invalidField("amount_ttc", "required")
	}

	peek, err := s.store.GetPrefacturation(ctx, id)
	if err != nil {
		return nil, err
	}
	release, err := s.locker.Lock(ctx, append(finalizeKeys(peek), lock.Key("prefacturation", id))...)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.store.GetPrefacturation(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.StatusValidatedIndustrial && p.Status != models.StatusInvoiceRejected {
		err = &StateError{Op: "upload carrier invoice", From: p.Status}
		s.opts.metrics.Operation("carrier_invoice", err)
		return nil, err
	}
	if err := transition(p, "upload carrier invoice", models.StatusInvoiceUploaded); err != nil {
		return nil, err
	}

	now := s.opts.now()
	control := invoiceControl(*amount, p.Totals.TotalTTC, s.opts.settings.AutoAcceptThreshold)
	control.ControlledAt = &now
	p.CarrierInvoice = models.CarrierInvoice{
		Number:     number,
		Date:       date,
		AmountHT:   amountHT,
		AmountTTC:  *amount,
		Document:   in.Document,
		UploadedAt: &now,
		Control:    control,
	}
	if ocr != nil {
		p.CarrierInvoice.OCR = ocr.AsMap()
	}
	if in.Bank.IBAN != "" {
		p.Payment.Bank = in.Bank
	}
	p.AddHistory(now, "carrier_invoice_uploaded", in.Actor, number)

	var blocked error
	if control.AutoAccepted {
		err := s.accept(ctx, p, in.Actor)
		var be *BlockedError
		switch {
		case errors.As(err, &be):
			blocked = err
		case err != nil:
			return nil, err
		default:
			if err := transition(p, "await payment", models.StatusPaymentPending); err != nil {
				return nil, err
			}
			s.startPayment(p, now)
			p.AddHistory(now, "payment_pending", in.Actor, "")
		}
	} else {
		if err := transition(p, "reject carrier invoice", models.StatusInvoiceRejected); err != nil {
			return nil, err
		}
		p.AddHistory(now, "carrier_invoice_rejected", in.Actor, control.Note)
	}

	err = s.store.SavePrefacturation(ctx, p)
	if err == nil {
		err = blocked
	}
	s.opts.metrics.Operation("carrier_invoice", err)
	if err != nil && err != blocked {
		return nil, err
	}

	s.opts.log.Info("carrier invoice controlled",
		zap.String("reference", p.Reference),
		zap.Float64("difference", control.Difference),
		zap.Bool("auto_accepted", control.AutoAccepted),
		zap.String("status", string(p.Status)))
	return p, blocked
}
