package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"

	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/shopspring/decimal"
)

var paymentHeader = []string{"Reference", "Carrier", "TaxId", "IBAN", "BIC", "HT", "VAT", "TTC", "DueDate", "Period"}

// WritePayments writes one semicolon separated row per pre-invoice, after a
// header row. Amounts carry two decimals, due dates are dd/mm/yyyy and
// periods month/year.
func WritePayments(w io.Writer, items []models.Prefacturation) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(paymentHeader); err != nil {
		return err
	}
	for _, p := range items {
		var due string
		if p.Payment.DueDate != nil {
			due = p.Payment.DueDate.Format("02/01/2006")
		}
		err := cw.Write([]string{
			p.Reference,
			p.Carrier.Name,
			p.Carrier.TaxID,
			p.Payment.Bank.IBAN,
			p.Payment.Bank.BIC,
			decimal.NewFromFloat(p.Totals.TotalHT).StringFixed(2),
			decimal.NewFromFloat(p.Totals.VATAmount).StringFixed(2),
			decimal.NewFromFloat(p.Totals.TotalTTC).StringFixed(2),
			due,
			p.Period.Label(),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// PaymentsCSV renders the payment file of the pre-invoices matching f.
// Without a status filter it covers pre-invoices awaiting payment.
func (s *PrefacturationService) PaymentsCSV(ctx context.Context, f store.PrefacturationFilter) ([]byte, error) {
	if len(f.Statuses) == 0 {
		f.Statuses = []models.PrefacturationStatus{
			models.StatusValidatedIndustrial,
			models.StatusInvoiceAccepted,
			models.StatusPaymentPending,
		}
	}
	if f.Sort == "" {
		f.Sort = "due_date"
	}
	items, _, err := s.store.FindPrefacturations(ctx, f)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WritePayments(&buf, items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
