package ledgerfmt

import (
	"encoding/xml"
	"io"

	"github.com/diewo77/go-prefacturation/internal/models"
)

type xmlFormatter struct{}

func (xmlFormatter) ContentType() string { return "application/xml" }
func (xmlFormatter) Extension() string   { return "xml" }

type xmlJournal struct {
	XMLName    xml.Name   `xml:"Journal"`
	Reference  string     `xml:"reference,attr"`
	System     string     `xml:"system,attr"`
	ExportDate string     `xml:"exportDate,attr"`
	Entries    []xmlEntry `xml:"Entries>Entry"`
	Totals     xmlTotals  `xml:"Totals"`
}

type xmlEntry struct {
	JournalCode    string `xml:"JournalCode"`
	Date           string `xml:"Date"`
	AccountCode    string `xml:"AccountCode"`
	AccountLabel   string `xml:"AccountLabel"`
	Debit          string `xml:"Debit"`
	Credit         string `xml:"Credit"`
	Label          string `xml:"Label"`
	Reference      string `xml:"Reference"`
	AnalyticalCode string `xml:"AnalyticalCode,omitempty"`
}

type xmlTotals struct {
	LinesCount  int    `xml:"LinesCount"`
	TotalDebit  string `xml:"TotalDebit"`
	TotalCredit string `xml:"TotalCredit"`
	Balance     string `xml:"Balance"`
	Valid       bool   `xml:"valid,attr"`
}

func (xmlFormatter) Write(w io.Writer, e *models.ERPExport) error {
	doc := xmlJournal{
		Reference:  e.Reference,
		System:     string(e.AccountingSystem),
		ExportDate: e.ExportDate.Format("2006-01-02"),
		Totals: xmlTotals{
			LinesCount:  e.Totals.LinesCount,
			TotalDebit:  amount(e.Totals.TotalDebit),
			TotalCredit: amount(e.Totals.TotalCredit),
			Balance:     amount(e.Totals.Balance),
			Valid:       e.Validation.IsValid,
		},
	}
	for _, l := range e.Lines {
		doc.Entries = append(doc.Entries, xmlEntry{
			JournalCode:    l.JournalCode,
			Date:           l.Date.Format("2006-01-02"),
			AccountCode:    l.AccountCode,
			AccountLabel:   l.AccountLabel,
			Debit:          amount(l.Debit),
			Credit:         amount(l.Credit),
			Label:          l.Label,
			Reference:      l.Reference,
			AnalyticalCode: l.AnalyticalCode,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
