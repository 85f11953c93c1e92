package ledgerfmt

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/diewo77/go-prefacturation/internal/models"
)

// Columns of the French "Fichier des Ecritures Comptables".
var fecHeader = []string{
	"JournalCode", "JournalLib", "EcritureNum", "EcritureDate", "CompteNum", "CompteLib",
	"CompAuxNum", "CompAuxLib", "PieceRef", "PieceDate", "EcritureLib", "Debit", "Credit",
	"EcritureLet", "DateLet", "ValidDate", "Montantdevise", "Idevise",
}

var journalLabels = map[string]string{
	models.SalesJournal: "Ventes",
}

type fecFormatter struct{}

func (fecFormatter) ContentType() string { return "text/plain; charset=utf-8" }
func (fecFormatter) Extension() string   { return "txt" }

// Write numbers entries per piece reference, in order of first appearance.
func (fecFormatter) Write(w io.Writer, e *models.ERPExport) error {
	cw := csv.NewWriter(w)
	cw.Comma = '|'
	if err := cw.Write(fecHeader); err != nil {
		return err
	}

	numbers := make(map[string]int)
	for _, l := range e.Lines {
		num, ok := numbers[l.Reference]
		if !ok {
			num = len(numbers) + 1
			numbers[l.Reference] = num
		}
		var aux string
		if l.AccountCode == models.AccountReceivables {
			aux = l.AnalyticalCode
		}
		date := l.Date.Format("20060102")
		err := cw.Write([]string{
			l.JournalCode,
			journalLabels[l.JournalCode],
			fmt.Sprintf("%s%06d", l.JournalCode, num),
			date,
			l.AccountCode,
			l.AccountLabel,
			aux,
			"",
			l.Reference,
			date,
			l.Label,
			strings.Replace(amount(l.Debit), ".", ",", 1),
			strings.Replace(amount(l.Credit), ".", ",", 1),
			"",
			"",
			e.ExportDate.Format("20060102"),
			"",
			"EUR",
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
