package services

import (
	"context"
	"math"

	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/shopspring/decimal"
)

// Stats summarizes a set of pre-invoices.
type Stats struct {
	Total              int64                                 `json:"total"`
	ByStatus           map[models.PrefacturationStatus]int64 `json:"by_status"`
	PendingAmount      float64                               `json:"pending_amount"`
	PaidAmount         float64                               `json:"paid_amount"`
	AveragePaymentDays int                                   `json:"average_payment_days"`
}

// Stats counts pre-invoices by status and sums outstanding and paid
// amounts. The average payment delay runs from creation to payment.
func (s *PrefacturationService) Stats(ctx context.Context, f store.PrefacturationFilter) (*Stats, error) {
	f.Statuses = nil
	rows, err := s.store.StatusTotals(ctx, f)
	if err != nil {
		return nil, err
	}

	st := &Stats{ByStatus: make(map[models.PrefacturationStatus]int64, len(rows))}
	pending, paid := decimal.Zero, decimal.Zero
	for _, r := range rows {
		st.ByStatus[r.Status] = r.Count
		st.Total += r.Count
		switch {
		case r.Status.AwaitsPayment():
			pending = pending.Add(decimal.NewFromFloat(r.Amount))
		case r.Status == models.StatusPaid:
			paid = paid.Add(decimal.NewFromFloat(r.Amount))
		}
	}
	st.PendingAmount = pending.Round(2).InexactFloat64()
	st.PaidAmount = paid.Round(2).InexactFloat64()

	f.Statuses = []models.PrefacturationStatus{models.StatusPaid}
	f.Page = store.Page{}
	items, _, err := s.store.FindPrefacturations(ctx, f)
	if err != nil {
		return nil, err
	}
	var days, n int
	for _, p := range items {
		if p.Payment.PaidDate == nil {
			continue
		}
		days += daysUntil(*p.Payment.PaidDate, p.CreatedAt)
		n++
	}
	if n > 0 {
		st.AveragePaymentDays = int(math.Round(float64(days) / float64(n)))
	}
	return st, nil
}
