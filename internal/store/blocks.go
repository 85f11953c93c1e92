package store

import (
	"context"
	"strings"

	"github.com/diewo77/go-prefacturation/internal/models"
)

// BlockFilter selects blocks. Zero fields are ignored.
type BlockFilter struct {
	EntityType models.BlockEntityType
	EntityID   string
	Status     models.BlockStatus
	Type       models.BlockType
	Page
}

var blockSortable = map[string]string{
	"created_at": "created_at",
	"severity":   "severity",
	"reference":  "reference",
}

// CreateBlock inserts a new block.
func (s *Store) CreateBlock(ctx context.Context, b *models.Block) error {
	b.Version = 1
	return s.db.WithContext(ctx).Create(b).Error
}

// GetBlock loads a block by id.
func (s *Store) GetBlock(ctx context.Context, id uint) (*models.Block, error) {
	return findByID[models.Block](ctx, s.db, id)
}

// SaveBlock persists b if nobody changed it since it was loaded.
func (s *Store) SaveBlock(ctx context.Context, b *models.Block) error {
	return saveVersioned(ctx, s.db, b, &b.Version)
}

// FindBlocks lists blocks matching f and the total match count.
func (s *Store) FindBlocks(ctx context.Context, f BlockFilter) ([]models.Block, int64, error) {
	var items []models.Block
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Block{})
	if f.EntityType != "" {
		query = query.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		query = query.Where("entity_id = ?", f.EntityID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query, blockSortable, "created_at").Find(&items).Error
	return items, total, err
}

// ActiveBillingBlocks returns the active blocks preventing billing of any of targets,
// oldest first.
func (s *Store) ActiveBillingBlocks(ctx context.Context, targets ...models.BlockTarget) ([]models.Block, error) {
	return s.activeBlocks(ctx, true, targets)
}

// ActiveBlocks returns every active block on any of targets, whether or not
// it stops billing, oldest first.
func (s *Store) ActiveBlocks(ctx context.Context, targets ...models.BlockTarget) ([]models.Block, error) {
	return s.activeBlocks(ctx, false, targets)
}

func (s *Store) activeBlocks(ctx context.Context, billingOnly bool, targets []models.BlockTarget) ([]models.Block, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(targets))
	args := make([]any, 0, 2*len(targets))
	for _, t := range targets {
		clauses = append(clauses, "(entity_type = ? AND entity_id = ?)")
		args = append(args, t.Type, t.ID)
	}

	q := s.db.WithContext(ctx).
		Where("status = ?", models.BlockStatusActive).
		Where("("+strings.Join(clauses, " OR ")+")", args...)
	if billingOnly {
		q = q.Where("impact_blocks_billing = ?", true)
	}
	var items []models.Block
	err := q.Order("created_at ASC").Order("id ASC").Find(&items).Error
	return items, err
}
