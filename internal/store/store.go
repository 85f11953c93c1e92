// Package store persists billing entities with gorm.
//
// Mutable entities carry a Version column; every Save* method updates the
// row only if the stored version still matches and bumps it, returning
// ErrConflict otherwise.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("concurrent modification")
)

// Store gives access to every repository over a single gorm handle.
type Store struct {
	db *gorm.DB
}

// New wraps db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a store bound to a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Page controls sorting and pagination of list queries.
// A zero Limit returns every row.
type Page struct {
	Sort  string
	Desc  bool
	Skip  int
	Limit int
}

func (p Page) apply(q *gorm.DB, sortable map[string]string, defaultColumn string) *gorm.DB {
	col, ok := sortable[p.Sort]
	dir := "ASC"
	if p.Desc {
		dir = "DESC"
	}
	if !ok {
		col, dir = defaultColumn, "DESC"
	}
	q = q.Order(col + " " + dir).Order("id " + dir)
	if p.Skip > 0 {
		q = q.Offset(p.Skip)
	}
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	return q
}

func findByID[T any](ctx context.Context, db *gorm.DB, id uint) (*T, error) {
	var m T
	if err := db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// saveVersioned writes every column of m if the row still has the version
// the caller loaded, and increments it.
func saveVersioned[T any](ctx context.Context, db *gorm.DB, m *T, version *int) error {
	current := *version
	*version = current + 1
	res := db.WithContext(ctx).Model(m).Where("version = ?", current).Select("*").Updates(m)
	if res.Error != nil {
		*version = current
		return fmt.Errorf("update %T: %w", m, res.Error)
	}
	if res.RowsAffected == 0 {
		*version = current
		return ErrConflict
	}
	return nil
}

// nextSequence returns prefix-NNNN where NNNN follows the number of rows whose
// column already starts with prefix. Callers serialize through a lock.
func nextSequence(ctx context.Context, db *gorm.DB, model any, column, prefix string) (string, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(model).
		Where(column+" LIKE ?", prefix+"-%").
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}
