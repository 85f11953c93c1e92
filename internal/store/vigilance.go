package store

import (
	"context"

	"github.com/diewo77/go-prefacturation/internal/models"
)

// VigilanceFilter selects carrier compliance files. Zero fields are ignored.
type VigilanceFilter struct {
	OverallStatus models.ComplianceStatus
	Blocked       *bool
	Page
}

var vigilanceSortable = map[string]string{
	"created_at":   "created_at",
	"carrier_name": "carrier_name",
	"status":       "overall_status",
}

// CreateVigilance inserts a carrier compliance file.
func (s *Store) CreateVigilance(ctx context.Context, v *models.CarrierVigilance) error {
	v.Version = 1
	return s.db.WithContext(ctx).Create(v).Error
}

// GetVigilance loads the compliance file of a carrier.
func (s *Store) GetVigilance(ctx context.Context, carrierID string) (*models.CarrierVigilance, error) {
	var v models.CarrierVigilance
	if err := s.db.WithContext(ctx).Where("carrier_id = ?", carrierID).First(&v).Error; err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

// SaveVigilance persists v if nobody changed it since it was loaded.
func (s *Store) SaveVigilance(ctx context.Context, v *models.CarrierVigilance) error {
	return saveVersioned(ctx, s.db, v, &v.Version)
}

// FindVigilances lists compliance files matching f and the total match count.
func (s *Store) FindVigilances(ctx context.Context, f VigilanceFilter) ([]models.CarrierVigilance, int64, error) {
	var items []models.CarrierVigilance
	var total int64

	query := s.db.WithContext(ctx).Model(&models.CarrierVigilance{})
	if f.OverallStatus != "" {
		query = query.Where("overall_status = ?", f.OverallStatus)
	}
	if f.Blocked != nil {
		query = query.Where("restriction_is_blocked = ?", *f.Blocked)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query, vigilanceSortable, "created_at").Find(&items).Error
	return items, total, err
}

// CarrierIDs returns the carrier id of every compliance file.
func (s *Store) CarrierIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.CarrierVigilance{}).Order("carrier_id").Pluck("carrier_id", &ids).Error
	return ids, err
}
