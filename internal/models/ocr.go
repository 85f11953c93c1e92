package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// OCRResult is a best-effort parse of a carrier invoice document.
// Confidence ranges from 0 to 1 and is kept as metadata only.
type OCRResult struct {
	InvoiceNumber string           `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time       `json:"invoice_date,omitempty"`
	TotalAmount   float64          `json:"total_amount"`
	VAT           float64          `json:"vat"`
	Lines         []map[string]any `json:"lines,omitempty"`
	Confidence    float64          `json:"confidence"`
}

// AsMap converts the result into an open JSON map for storage.
func (r OCRResult) AsMap() datatypes.JSONMap {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var m datatypes.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
