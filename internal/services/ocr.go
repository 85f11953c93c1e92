package services

import (
	"context"

	"github.com/diewo77/go-prefacturation/internal/models"
)

// OCRClient extracts invoice fields from an uploaded document.
// Implementations live outside this module; a failed extraction never
// prevents an upload.
type OCRClient interface {
	Extract(ctx context.Context, doc models.FileRef) (*models.OCRResult, error)
}
