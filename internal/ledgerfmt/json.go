package ledgerfmt

import (
	"encoding/json"
	"io"

	"github.com/diewo77/go-prefacturation/internal/models"
)

type jsonFormatter struct{}

func (jsonFormatter) ContentType() string { return "application/json" }
func (jsonFormatter) Extension() string   { return "json" }

type jsonJournal struct {
	Reference        string                  `json:"reference"`
	ExportDate       string                  `json:"export_date"`
	AccountingSystem models.AccountingSystem `json:"accounting_system"`
	Period           models.Period           `json:"period"`
	Lines            []models.JournalLine    `json:"lines"`
	Totals           models.ExportTotals     `json:"totals"`
	Validation       models.ExportValidation `json:"validation"`
}

func (jsonFormatter) Write(w io.Writer, e *models.ERPExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	lines := []models.JournalLine(e.Lines)
	if lines == nil {
		lines = []models.JournalLine{}
	}
	return enc.Encode(jsonJournal{
		Reference:        e.Reference,
		ExportDate:       e.ExportDate.Format("2006-01-02"),
		AccountingSystem: e.AccountingSystem,
		Period:           e.Period,
		Lines:            lines,
		Totals:           e.Totals,
		Validation:       e.Validation,
	})
}
