package store

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/go-prefacturation/internal/models"
	"gorm.io/gorm"
)

// PrefacturationFilter selects pre-invoices. Zero fields are ignored.
type PrefacturationFilter struct {
	IDs       []uint
	CarrierID string
	ClientID  string
	Statuses  []models.PrefacturationStatus
	// Month and Year select pre-invoices whose period starts in that month.
	Month int
	Year  int
	Page
}

var prefacturationSortable = map[string]string{
	"created_at":   "created_at",
	"reference":    "reference",
	"period_start": "period_start",
	"total_ttc":    "totals_total_ttc",
	"status":       "status",
	"due_date":     "payment_due_date",
}

// CreatePrefacturation inserts a new pre-invoice.
func (s *Store) CreatePrefacturation(ctx context.Context, p *models.Prefacturation) error {
	p.Version = 1
	return s.db.WithContext(ctx).Create(p).Error
}

// GetPrefacturation loads a pre-invoice by id.
func (s *Store) GetPrefacturation(ctx context.Context, id uint) (*models.Prefacturation, error) {
	return findByID[models.Prefacturation](ctx, s.db, id)
}

// SavePrefacturation persists p if nobody changed it since it was loaded.
func (s *Store) SavePrefacturation(ctx context.Context, p *models.Prefacturation) error {
	return saveVersioned(ctx, s.db, p, &p.Version)
}

// FindPrefacturations lists pre-invoices matching f and the total match count.
func (s *Store) FindPrefacturations(ctx context.Context, f PrefacturationFilter) ([]models.Prefacturation, int64, error) {
	var items []models.Prefacturation
	var total int64

	query := s.prefacturationQuery(ctx, f)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := f.Page.apply(query, prefacturationSortable, "created_at").Find(&items).Error
	return items, total, err
}

// CountPrefacturations counts pre-invoices matching f, ignoring pagination.
func (s *Store) CountPrefacturations(ctx context.Context, f PrefacturationFilter) (int64, error) {
	var total int64
	err := s.prefacturationQuery(ctx, f).Count(&total).Error
	return total, err
}

func (s *Store) prefacturationQuery(ctx context.Context, f PrefacturationFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Prefacturation{})

	if len(f.IDs) > 0 {
		query = query.Where("id IN ?", f.IDs)
	}
	if f.CarrierID != "" {
		query = query.Where("carrier_id = ?", f.CarrierID)
	}
	if f.ClientID != "" {
		query = query.Where("client_id = ?", f.ClientID)
	}
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}
	if f.Year > 0 {
		from := time.Date(f.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(1, 0, 0)
		if f.Month >= 1 && f.Month <= 12 {
			from = time.Date(f.Year, time.Month(f.Month), 1, 0, 0, 0, 0, time.UTC)
			to = from.AddDate(0, 1, 0)
		}
		query = query.Where("period_start >= ? AND period_start < ?", from, to)
	}
	return query
}

// NextPrefacturationReference generates PREF-YYYYMM-NNNN.
func (s *Store) NextPrefacturationReference(ctx context.Context, at time.Time) (string, error) {
	prefix := fmt.Sprintf("PREF-%s", at.Format("200601"))
	return nextSequence(ctx, s.db, &models.Prefacturation{}, "reference", prefix)
}

// NextInvoiceReference generates INV-YYYY-NNNN.
func (s *Store) NextInvoiceReference(ctx context.Context, at time.Time) (string, error) {
	prefix := fmt.Sprintf("INV-%d", at.Year())
	return nextSequence(ctx, s.db, &models.Prefacturation{}, "invoice_reference", prefix)
}

// StatusTotal is the number and TTC sum of pre-invoices in one status.
type StatusTotal struct {
	Status models.PrefacturationStatus
	Count  int64
	Amount float64
}

// StatusTotals groups the pre-invoices matching f by status.
func (s *Store) StatusTotals(ctx context.Context, f PrefacturationFilter) ([]StatusTotal, error) {
	var rows []StatusTotal
	err := s.prefacturationQuery(ctx, f).
		Select("status, COUNT(*) AS count, COALESCE(SUM(totals_total_ttc), 0) AS amount").
		Group("status").
		Order("status").
		Scan(&rows).Error
	return rows, err
}
