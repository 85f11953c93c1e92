package models

import (
	"time"

	"gorm.io/datatypes"
)

// AccountingSystem is the target ERP of an accounting export.
type AccountingSystem string

const (
	SystemSage      AccountingSystem = "sage"
	SystemSAP       AccountingSystem = "sap"
	SystemCegid     AccountingSystem = "cegid"
	SystemQuadratus AccountingSystem = "quadratus"
	SystemEBP       AccountingSystem = "ebp"
	SystemOther     AccountingSystem = "other"
)

// Valid reports whether s is a known accounting system.
func (s AccountingSystem) Valid() bool {
	switch s {
	case SystemSage, SystemSAP, SystemCegid, SystemQuadratus, SystemEBP, SystemOther:
		return true
	}
	return false
}

// ExportFormat is the serialization requested for a journal.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXML  ExportFormat = "xml"
	FormatJSON ExportFormat = "json"
	FormatEDI  ExportFormat = "edi"
	FormatFEC  ExportFormat = "fec"
)

// Valid reports whether f is a known format.
func (f ExportFormat) Valid() bool {
	switch f {
	case FormatCSV, FormatXML, FormatJSON, FormatEDI, FormatFEC:
		return true
	}
	return false
}

// ExportStatus represents the processing state of an export.
type ExportStatus string

const (
	ExportPending    ExportStatus = "pending"
	ExportProcessing ExportStatus = "processing"
	ExportCompleted  ExportStatus = "completed"
	ExportFailed     ExportStatus = "failed"
	ExportSent       ExportStatus = "sent"
)

// Chart of accounts used by the journal.
const (
	AccountReceivables = "411000"
	AccountRevenue     = "706000"
	AccountVATOutput   = "445710"
	SalesJournal       = "VT"
)

// ExportSource summarizes one exported pre-invoice.
type ExportSource struct {
	ID        uint    `json:"id"`
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
}

// JournalLine is one debit or credit entry.
type JournalLine struct {
	JournalCode    string    `json:"journal_code"`
	Date           time.Time `json:"date"`
	AccountCode    string    `json:"account_code"`
	AccountLabel   string    `json:"account_label"`
	Debit          float64   `json:"debit"`
	Credit         float64   `json:"credit"`
	Label          string    `json:"label"`
	Reference      string    `json:"reference"`
	AnalyticalCode string    `json:"analytical_code,omitempty"`
}

// ExportTotals aggregates the journal.
type ExportTotals struct {
	LinesCount  int     `json:"lines_count"`
	TotalDebit  float64 `json:"total_debit"`
	TotalCredit float64 `json:"total_credit"`
	Balance     float64 `json:"balance"`
}

// ExportValidation reports balance checks and warnings.
type ExportValidation struct {
	IsValid  bool                        `json:"is_valid"`
	Errors   datatypes.JSONSlice[string] `json:"errors"`
	Warnings datatypes.JSONSlice[string] `json:"warnings"`
}

// ERPExport is a double-entry journal produced from pre-invoices.
type ERPExport struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Reference        string           `gorm:"size:50;uniqueIndex" json:"reference"`
	ExportDate       time.Time        `json:"export_date"`
	Period           Period           `gorm:"embedded;embeddedPrefix:period_" json:"period"`
	AccountingSystem AccountingSystem `gorm:"size:20" json:"accounting_system"`
	Format           ExportFormat     `gorm:"size:10" json:"format"`
	Type             string           `gorm:"size:30" json:"type"`
	Status           ExportStatus     `gorm:"size:20;index" json:"status"`
	CreatedBy        string           `gorm:"size:255" json:"created_by,omitempty"`

	Sources    datatypes.JSONSlice[ExportSource] `json:"sources"`
	Lines      datatypes.JSONSlice[JournalLine]  `json:"lines"`
	Totals     ExportTotals                      `gorm:"embedded;embeddedPrefix:totals_" json:"totals"`
	Validation ExportValidation                  `gorm:"embedded;embeddedPrefix:validation_" json:"validation"`
}

// TableName overrides the default table name.
func (ERPExport) TableName() string { return "erp_exports" }
