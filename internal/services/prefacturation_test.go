package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	p := f.generate(t,
		models.Discrepancy{Type: "weight", Impact: 12},
		models.Discrepancy{Type: "tariff", Impact: -2, Resolved: true},
	)

	assert.Equal(t, "PREF-202403-0001", p.Reference)
	assert.Equal(t, models.StatusDraft, p.Status)
	require.Len(t, p.Lines, 2)
	assert.InDelta(t, 132, p.Lines[0].TotalTTC, 1e-6)
	assert.InDelta(t, 200, p.Totals.BaseAmount, 1e-6)
	assert.InDelta(t, 20, p.Totals.FuelSurcharge, 1e-6)
	assert.InDelta(t, 220, p.Totals.TotalHT, 1e-6)
	assert.InDelta(t, 44, p.Totals.VATAmount, 1e-6)
	assert.InDelta(t, 264, p.Totals.TotalTTC, 1e-6)
	assert.InDelta(t, 10, p.Totals.DiscrepancyAmount, 1e-6)
	assert.Equal(t, 1, p.DiscrepanciesCount)
	assert.True(t, p.HasDiscrepancies)
	require.Len(t, p.History, 1)
	assert.Equal(t, "generated", p.History[0].Action)

	second := f.generate(t)
	assert.Equal(t, "PREF-202403-0002", second.Reference)
	assert.False(t, second.HasDiscrepancies)
}

func TestGenerate_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.pref.Generate(context.Background(), GenerateInput{})
	require.ErrorIs(t, err, ErrValidation)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "required", ve.Fields["carrier.id"])
	assert.Equal(t, "required", ve.Fields["client.id"])
}

func TestSendToIndustrial_Batch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.generate(t)
	b := f.generate(t)
	done := f.validated(t)

	res, err := f.pref.SendToIndustrial(ctx, []uint{a.ID, done.ID, b.ID, 999}, "ops")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Requested)
	assert.Equal(t, 2, res.Updated)
	assert.Len(t, res.Failed, 2)
	assert.Contains(t, res.Failed, done.ID)
	assert.Contains(t, res.Failed, uint(999))

	got := f.reload(t, a.ID)
	assert.Equal(t, models.StatusSentToIndustrial, got.Status)
	require.NotNil(t, got.Payment.DueDate)
	assert.True(t, got.Payment.DueDate.Equal(f.clock.Now().AddDate(0, 0, 30)))
	assert.Equal(t, 30, got.Payment.TermDays)
	assert.Equal(t, 30, got.Payment.DaysRemaining)

	_, err = f.pref.SendToIndustrial(ctx, nil, "ops")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidate_Adjustments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generate(t)
	_, err := f.pref.SendToIndustrial(ctx, []uint{p.ID}, "ops")
	require.NoError(t, err)

	got, err := f.pref.Validate(ctx, p.ID, ValidateInput{
		Actor:       "industrial",
		Notes:       "ok",
		Adjustments: []Adjustment{{LineIndex: 0, AdjustedAmount: 120, Reason: "negotiated"}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusValidatedIndustrial, got.Status)
	assert.Equal(t, "industrial", got.ValidatedBy)
	require.NotNil(t, got.ValidationDate)

	line := got.Lines[0]
	assert.InDelta(t, 120, line.TotalTTC, 1e-6)
	assert.InDelta(t, 100, line.TotalHT, 1e-6)
	assert.True(t, line.Balanced(1e-6))
	require.Len(t, line.Discrepancies, 1)
	assert.Equal(t, "Adjustment: negotiated", line.Discrepancies[0].Description)
	assert.InDelta(t, 132, line.Discrepancies[0].ExpectedValue, 1e-6)
	assert.InDelta(t, -12, line.Discrepancies[0].Impact, 1e-6)

	var ht, ttc float64
	for _, l := range got.Lines {
		ht += l.TotalHT
		ttc += l.TotalTTC
	}
	assert.InDelta(t, ht, got.Totals.TotalHT, 1e-6)
	assert.InDelta(t, ttc, got.Totals.TotalTTC, 1e-6)
	assert.InDelta(t, 252, got.Totals.TotalTTC, 1e-6)
	assert.Equal(t, 1, got.DiscrepanciesCount)
}

func TestValidate_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generate(t)

	_, err := f.pref.Validate(ctx, p.ID, ValidateInput{})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, f.reload(t, p.ID).Version)

	_, err = f.pref.SendToIndustrial(ctx, []uint{p.ID}, "ops")
	require.NoError(t, err)
	_, err = f.pref.Validate(ctx, p.ID, ValidateInput{Adjustments: []Adjustment{{LineIndex: 5, AdjustedAmount: 10}}})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, models.StatusSentToIndustrial, f.reload(t, p.ID).Status)

	_, err = f.pref.Validate(ctx, 999, ValidateInput{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidate_InitializesPaymentFromPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generate(t)

	stored := f.reload(t, p.ID)
	stored.Status = models.StatusPending
	require.NoError(t, f.store.SavePrefacturation(ctx, stored))

	got, err := f.pref.Validate(ctx, p.ID, ValidateInput{})
	require.NoError(t, err)
	require.NotNil(t, got.Payment.DueDate)
	assert.Equal(t, 30, got.Payment.DaysRemaining)
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)

	got, err := f.pref.Finalize(ctx, p.ID, "accounting")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvoiceAccepted, got.Status)
	assert.Equal(t, "INV-2024-0001", got.InvoiceReference)
	require.NotNil(t, got.FinalizationDate)

	_, err = f.pref.Finalize(ctx, p.ID, "accounting")
	assert.ErrorIs(t, err, ErrInvalidState)

	other := f.validated(t)
	got, err = f.pref.Finalize(ctx, other.ID, "accounting")
	require.NoError(t, err)
	assert.Equal(t, "INV-2024-0002", got.InvoiceReference)
}

func TestFinalize_PaidIsInvalidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)
	_, err := f.pref.MarkPaid(ctx, p.ID, PaymentInput{Reference: "VIR-1"})
	require.NoError(t, err)

	_, err = f.pref.Finalize(ctx, p.ID, "accounting")
	var se *StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, models.StatusPaid, se.From)
}

func TestFinalize_BlockedByRegistry(t *testing.T) {
	tests := []struct {
		name   string
		target func(p *models.Prefacturation) (models.BlockEntityType, string)
	}{
		{"carrier", func(p *models.Prefacturation) (models.BlockEntityType, string) { return models.EntityCarrier, "TR-1" }},
		{"client", func(p *models.Prefacturation) (models.BlockEntityType, string) { return models.EntityClient, "CLI-1" }},
		{"order", func(p *models.Prefacturation) (models.BlockEntityType, string) { return models.EntityOrder, "CMD-2" }},
		{"prefacturation", func(p *models.Prefacturation) (models.BlockEntityType, string) {
			return models.EntityPrefacturation, p.EntityKey()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			p := f.validated(t)
			before := f.reload(t, p.ID)

			typ, id := tt.target(p)
			b, err := f.blocks.Create(ctx, CreateBlockInput{
				EntityType: typ, EntityID: id, Type: models.BlockMissingDocuments,
				Reason: "POD missing", Severity: models.SeverityHigh, CreatedBy: "ops",
			})
			require.NoError(t, err)
			if typ == models.EntityPrefacturation {
				before = f.reload(t, p.ID)
				require.Len(t, before.Blocks, 1)
			}

			_, err = f.pref.Finalize(ctx, p.ID, "accounting")
			require.ErrorIs(t, err, ErrBlockedEntity)
			var be *BlockedError
			require.True(t, errors.As(err, &be))
			require.Len(t, be.Blocks, 1)
			assert.Equal(t, b.Reference, be.Blocks[0].Reference)

			after := f.reload(t, p.ID)
			assert.Equal(t, before.Version, after.Version)
			assert.Equal(t, models.StatusValidatedIndustrial, after.Status)
			assert.Empty(t, after.InvoiceReference)

			_, err = f.blocks.Resolve(ctx, b.ID, LiftBlockInput{Action: "document_received", Actor: "ops"})
			require.NoError(t, err)
			assert.Empty(t, f.reload(t, p.ID).Blocks)

			got, err := f.pref.Finalize(ctx, p.ID, "accounting")
			require.NoError(t, err)
			assert.Equal(t, models.StatusInvoiceAccepted, got.Status)
		})
	}
}

func TestFinalize_BlockedByVigilance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)

	_, err := f.compliance.UpsertDocument(ctx, "TR-1", DocumentInput{
		Type:       models.DocURSSAF,
		ExpiryDate: ptr(f.clock.Now().Add(-day)),
	})
	require.NoError(t, err)

	_, err = f.pref.Finalize(ctx, p.ID, "accounting")
	var be *BlockedError
	require.True(t, errors.As(err, &be))
	// one for the automatic restriction, one for the expired document
	assert.Len(t, be.Blocks, 2)
	for _, b := range be.Blocks {
		assert.Equal(t, models.BlockVigilance, b.Type)
	}
}

func TestDisputeAndReleaseHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)

	got, err := f.pref.Dispute(ctx, p.ID, "", "industrial")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisputed, got.Status)
	assert.Equal(t, models.StatusValidatedIndustrial, got.StatusBeforeDispute)
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, "dispute", got.Blocks[0].Type)
	assert.Equal(t, defaultDisputeReason, got.Blocks[0].Reason)

	got, err = f.pref.Dispute(ctx, p.ID, "weight mismatch", "industrial")
	require.NoError(t, err)
	assert.Len(t, got.Blocks, 2)
	assert.Equal(t, models.StatusValidatedIndustrial, got.StatusBeforeDispute)

	_, err = f.pref.Finalize(ctx, p.ID, "accounting")
	var be *BlockedError
	require.True(t, errors.As(err, &be))
	assert.Len(t, be.Blocks, 2)

	got, err = f.pref.ReleaseHold(ctx, p.ID, "industrial", "agreed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusValidatedIndustrial, got.Status)
	assert.Empty(t, got.Blocks)
	assert.Empty(t, got.StatusBeforeDispute)

	_, err = f.pref.ReleaseHold(ctx, p.ID, "industrial", "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestMarkPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)

	_, err := f.pref.MarkPaid(ctx, p.ID, PaymentInput{})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, models.StatusValidatedIndustrial, f.reload(t, p.ID).Status)

	got, err := f.pref.MarkPaid(ctx, p.ID, PaymentInput{Reference: "VIR-2024-001", Method: "transfer"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
	assert.InDelta(t, 264, got.Payment.PaidAmount, 1e-6)
	assert.Equal(t, 0, got.Payment.DaysRemaining)
	require.NotNil(t, got.Payment.PaidDate)

	_, err = f.pref.Dispute(ctx, p.ID, "late", "industrial")
	assert.ErrorIs(t, err, ErrInvalidState)

	other := f.validated(t)
	got, err = f.pref.MarkPaid(ctx, other.ID, PaymentInput{Reference: "VIR-2", Amount: ptr(100.0)})
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Payment.PaidAmount)
}

func TestMarkInvoiced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)

	_, err := f.pref.MarkInvoiced(ctx, p.ID, "accounting")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.pref.Finalize(ctx, p.ID, "accounting")
	require.NoError(t, err)
	got, err := f.pref.MarkInvoiced(ctx, p.ID, "accounting")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvoiced, got.Status)
	assert.True(t, got.Status.IsTerminal())
}

func TestConcurrentFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.pref.Finalize(ctx, p.ID, "accounting")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, "INV-2024-0001", f.reload(t, p.ID).InvoiceReference)
}
