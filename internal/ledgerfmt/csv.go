package ledgerfmt

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/diewo77/go-prefacturation/internal/models"
)

var csvHeader = []string{
	"JournalCode", "Date", "AccountCode", "AccountLabel", "Debit", "Credit", "Label", "Reference", "AnalyticalCode",
}

type csvFormatter struct{}

func (csvFormatter) ContentType() string { return "text/csv; charset=utf-8" }
func (csvFormatter) Extension() string   { return "csv" }

func (csvFormatter) Write(w io.Writer, e *models.ERPExport) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, l := range e.Lines {
		err := cw.Write([]string{
			l.JournalCode,
			l.Date.Format("02/01/2006"),
			l.AccountCode,
			l.AccountLabel,
			strings.Replace(amount(l.Debit), ".", ",", 1),
			strings.Replace(amount(l.Credit), ".", ",", 1),
			l.Label,
			l.Reference,
			l.AnalyticalCode,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
