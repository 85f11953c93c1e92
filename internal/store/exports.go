package store

import (
	"context"

	"github.com/diewo77/go-prefacturation/internal/models"
)

// ExportFilter selects accounting exports. Zero fields are ignored.
type ExportFilter struct {
	AccountingSystem models.AccountingSystem
	Status           models.ExportStatus
	Page
}

var exportSortable = map[string]string{
	"created_at":  "created_at",
	"export_date": "export_date",
}

// CreateExport inserts an accounting export.
func (s *Store) CreateExport(ctx context.Context, e *models.ERPExport) error {
	return s.db.WithContext(ctx).Create(e).Error
}

// GetExport loads an accounting export by id.
func (s *Store) GetExport(ctx context.Context, id uint) (*models.ERPExport, error) {
	return findByID[models.ERPExport](ctx, s.db, id)
}

// FindExports lists accounting exports matching f and the total match count.
func (s *Store) FindExports(ctx context.Context, f ExportFilter) ([]models.ERPExport, int64, error) {
	var items []models.ERPExport
	var total int64

	query := s.db.WithContext(ctx).Model(&models.ERPExport{})
	if f.AccountingSystem != "" {
		query = query.Where("accounting_system = ?", f.AccountingSystem)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query, exportSortable, "created_at").Find(&items).Error
	return items, total, err
}
