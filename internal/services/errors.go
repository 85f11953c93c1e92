package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/diewo77/go-prefacturation/internal/ledgerfmt"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
)

var (
	ErrNotFound        = store.ErrNotFound
	ErrConflict        = store.ErrConflict
	ErrInvalidState    = errors.New("invalid state for operation")
	ErrBlockedEntity   = errors.New("entity has active blocks")
	ErrAlreadyResolved = errors.New("already resolved")
	ErrValidation      = errors.New("validation failed")
	// ErrImbalance is never returned; it is recorded on the export.
	ErrImbalance         = errors.New("Debit/Credit imbalance")
	ErrUnsupportedFormat = ledgerfmt.ErrUnsupportedFormat
)

// StateError is returned when a lifecycle guard rejects an operation.
type StateError struct {
	Op   string
	From models.PrefacturationStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s from status %s", e.Op, e.From)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// BlockedError carries the blocks preventing finalization.
type BlockedError struct {
	Blocks []models.Block
}

func (e *BlockedError) Error() string {
	reasons := make([]string, 0, len(e.Blocks))
	for _, b := range e.Blocks {
		reasons = append(reasons, fmt.Sprintf("%s: %s", b.Type, b.Reason))
	}
	return fmt.Sprintf("%d active block(s): %s", len(e.Blocks), strings.Join(reasons, "; "))
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlockedEntity }

// ValidationError lists the invalid fields of a request.
type ValidationError struct {
	Fields validation.Violations
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Fields.Error()
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// invalid wraps v into a ValidationError, or returns nil when v is empty.
func invalid(v validation.Violations) error {
	if v.Empty() {
		return nil
	}
	return &ValidationError{Fields: v}
}

func invalidField(field, code string) error {
	return &ValidationError{Fields: validation.Violations{field: code}}
}
