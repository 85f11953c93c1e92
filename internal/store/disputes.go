package store

import (
	"context"

	"github.com/diewo77/go-prefacturation/internal/models"
)

// DisputeFilter selects disputes. Zero fields are ignored.
type DisputeFilter struct {
	PrefacturationID uint
	CarrierID        string
	Statuses         []models.DisputeStatus
	Type             models.DisputeType
	Page
}

var disputeSortable = map[string]string{
	"created_at": "created_at",
	"priority":   "priority",
	"status":     "status",
}

// CreateDispute inserts a new dispute.
func (s *Store) CreateDispute(ctx context.Context, d *models.Dispute) error {
	d.Version = 1
	return s.db.WithContext(ctx).Create(d).Error
}

// GetDispute loads a dispute by id.
func (s *Store) GetDispute(ctx context.Context, id uint) (*models.Dispute, error) {
	return findByID[models.Dispute](ctx, s.db, id)
}

// SaveDispute persists d if nobody changed it since it was loaded.
func (s *Store) SaveDispute(ctx context.Context, d *models.Dispute) error {
	return saveVersioned(ctx, s.db, d, &d.Version)
}

// FindDisputes lists disputes matching f and the total match count.
func (s *Store) FindDisputes(ctx context.Context, f DisputeFilter) ([]models.Dispute, int64, error) {
	var items []models.Dispute
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Dispute{})
	if f.PrefacturationID != 0 {
		query = query.Where("prefacturation_id = ?", f.PrefacturationID)
	}
	if f.CarrierID != "" {
		query = query.Where("carrier_id = ?", f.CarrierID)
	}
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query, disputeSortable, "created_at").Find(&items).Error
	return items, total, err
}
