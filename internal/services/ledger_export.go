package services

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/go-prefacturation/internal/ledgerfmt"
	"github.com/diewo77/go-prefacturation/internal/lock"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// balanceTolerance is the largest debit/credit gap still considered balanced.
var balanceTolerance = decimal.RequireFromString("0.01")

// ExportService turns pre-invoices into a double-entry sales journal.
type ExportService struct {
	store  *store.Store
	locker lock.Locker
	opts   options
}

// NewExportService returns a ledger exporter backed by st.
func NewExportService(st *store.Store, locker lock.Locker, opts ...Option) *ExportService {
	return &ExportService{store: st, locker: locker, opts: newOptions(opts)}
}

// ExportInput selects the pre-invoices to export. Period defaults to the
// span of the selected pre-invoices.
type ExportInput struct {
	PrefacturationIDs []uint                  `json:"prefacturation_ids"`
	AccountingSystem  models.AccountingSystem `json:"accounting_system"`
	Format            models.ExportFormat     `json:"format"`
	Period            *models.Period          `json:"period,omitempty"`
	Actor             string                  `json:"actor,omitempty"`
}

// journalLines emits the receivable debit and the revenue and VAT credits
// of p, dated at its finalization or at fallback.
func journalLines(p *models.Prefacturation, fallback time.Time) []models.JournalLine {
	label := p.Reference
	if p.Carrier.Name != "" {
		label += " " + p.Carrier.Name
	}
	if period := p.Period.Label(); period != "" {
		label += " " + period
	}
	base := models.JournalLine{
		JournalCode: models.SalesJournal,
		Date:        fallback,
		Label:       label,
		Reference:   p.Reference,
	}
	if p.FinalizationDate != nil {
		base.Date = *p.FinalizationDate
	}

	debit, revenue, vat := base, base, base
	debit.AccountCode, debit.AccountLabel = models.AccountReceivables, "Clients"
	debit.Debit = p.Totals.TotalTTC
	debit.AnalyticalCode = p.Client.ID

	revenue.AccountCode, revenue.AccountLabel = models.AccountRevenue, "Prestations de transport"
	revenue.Credit = p.Totals.TotalHT
	revenue.AnalyticalCode = p.Carrier.ID

	vat.AccountCode, vat.AccountLabel = models.AccountVATOutput, "TVA collectee"
	vat.Credit = p.Totals.VATAmount
	return []models.JournalLine{debit, revenue, vat}
}

// Export builds and stores the journal of the requested pre-invoices. An
// unbalanced journal is still stored as completed, with the imbalance
// recorded in its validation errors.
func (s *ExportService) Export(ctx context.Context, in ExportInput) (*models.ERPExport, error) {
	v := validation.Violations{}
	validation.OneOf("accounting_system", in.AccountingSystem.Valid(), v)
	validation.OneOf("format", in.Format.Valid(), v)
	if len(in.PrefacturationIDs) == 0 {
		v["prefacturation_ids"] = "required"
	}
	if err := invalid(v); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(in.PrefacturationIDs))
	for _, id := range in.PrefacturationIDs {
		keys = append(keys, lock.Key("prefacturation", id))
	}
	release, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	items, _, err := s.store.FindPrefacturations(ctx, store.PrefacturationFilter{IDs: in.PrefacturationIDs})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no prefacturation among %d id(s): %w", len(in.PrefacturationIDs), ErrNotFound)
	}
	byID := make(map[uint]*models.Prefacturation, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	now := s.opts.now()
	e := &models.ERPExport{
		Reference:        fmt.Sprintf("EXP-%s-%s", now.Format("20060102"), shortID()),
		ExportDate:       now,
		AccountingSystem: in.AccountingSystem,
		Format:           in.Format,
		Type:             "sales_journal",
		Status:           models.ExportProcessing,
		CreatedBy:        in.Actor,
	}
	e.Validation.Errors = []string{}
	e.Validation.Warnings = []string{}
	if !ledgerfmt.Supported(in.Format) {
		e.Validation.Warnings = append(e.Validation.Warnings,
			fmt.Sprintf("no %s formatter available, the journal cannot be downloaded", in.Format))
	}

	var period models.Period
	debit, credit := decimal.Zero, decimal.Zero
	seen := make(map[uint]bool, len(items))
	for _, id := range in.PrefacturationIDs {
		p, ok := byID[id]
		if !ok {
			e.Validation.Warnings = append(e.Validation.Warnings, fmt.Sprintf("prefacturation %d not found", id))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		if !p.Status.IsAccepted() {
			e.Validation.Warnings = append(e.Validation.Warnings,
				fmt.Sprintf("%s is not finalized (status %s)", p.Reference, p.Status))
		}
		if period.Start.IsZero() || p.Period.Start.Before(period.Start) {
			period.Start = p.Period.Start
		}
		if p.Period.End.After(period.End) {
			period.End = p.Period.End
		}

		e.Sources = append(e.Sources, models.ExportSource{ID: p.ID, Reference: p.Reference, Amount: p.Totals.TotalTTC})
		for _, l := range journalLines(p, now) {
			debit = debit.Add(decimal.NewFromFloat(l.Debit))
			credit = credit.Add(decimal.NewFromFloat(l.Credit))
			e.Lines = append(e.Lines, l)
		}
	}

	e.Period = period
	if in.Period != nil {
		e.Period = *in.Period
	}
	balance := debit.Sub(credit)
	e.Totals = models.ExportTotals{
		LinesCount:  len(e.Lines),
		TotalDebit:  debit.InexactFloat64(),
		TotalCredit: credit.InexactFloat64(),
		Balance:     balance.InexactFloat64(),
	}
	e.Validation.IsValid = balance.Abs().LessThan(balanceTolerance)
	if !e.Validation.IsValid {
		e.Validation.Errors = append(e.Validation.Errors, ErrImbalance.Error())
		s.opts.log.Warn("journal imbalance",
			zap.String("reference", e.Reference),
			zap.String("debit", debit.StringFixed(2)),
			zap.String("credit", credit.StringFixed(2)))
	}
	e.Status = models.ExportCompleted

	err = s.store.CreateExport(ctx, e)
	s.opts.metrics.Operation("export", err)
	if err != nil {
		return nil, fmt.Errorf("store export: %w", err)
	}
	s.opts.metrics.Export(e.Validation.IsValid)
	s.opts.log.Info("journal exported",
		zap.String("reference", e.Reference),
		zap.Int("sources", len(e.Sources)),
		zap.Int("lines", e.Totals.LinesCount),
		zap.Bool("valid", e.Validation.IsValid),
		zap.Int("warnings", len(e.Validation.Warnings)))
	return e, nil
}

// Get loads an export.
func (s *ExportService) Get(ctx context.Context, id uint) (*models.ERPExport, error) {
	return s.store.GetExport(ctx, id)
}

// List returns the exports matching f.
func (s *ExportService) List(ctx context.Context, f store.ExportFilter) ([]models.ERPExport, int64, error) {
	return s.store.FindExports(ctx, f)
}

// Render loads an export and serializes it in its format.
func (s *ExportService) Render(ctx context.Context, id uint) (body []byte, contentType, filename string, err error) {
	e, err := s.store.GetExport(ctx, id)
	if err != nil {
		return nil, "", "", err
	}
	return ledgerfmt.Render(e)
}
