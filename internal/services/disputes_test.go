package services

import (
	"context"
	"errors"
	"testing"

	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoDiscrepancies() []models.Discrepancy {
	return []models.Discrepancy{
		{Type: "weight", Description: "Weighed 220kg", ExpectedValue: 200, ActualValue: 220, Impact: 13.2},
		{Type: "pallets", Description: "One pallet missing", Impact: -8},
	}
}

func openDispute(t *testing.T, f *fixture, prefID uint, subject string) *models.Dispute {
	t.Helper()
	d, err := f.disputes.Open(context.Background(), OpenDisputeInput{
		PrefacturationID: prefID,
		Type:             models.DisputeWeight,
		Actor:            "industrial",
		Subject:          subject,
	})
	require.NoError(t, err)
	return d
}

func TestDisputeOpen_LinksDiscrepancies(t *testing.T) {
	f := newFixture(t)
	p := f.validated(t, twoDiscrepancies()...)
	require.Equal(t, 2, p.DiscrepanciesCount)

	first := openDispute(t, f, p.ID, "weight")
	assert.Equal(t, models.DisputeOpen, first.Status)
	assert.Equal(t, models.SeverityMedium, first.Priority)
	assert.Equal(t, p.Reference, first.PrefacturationRef)
	assert.Equal(t, "TR-1", first.CarrierID)
	require.NotNil(t, first.LineIndex)
	assert.Equal(t, 0, *first.DiscrepancyIndex)
	assert.InDelta(t, 13.2, first.Amount.Disputed, 1e-9)
	require.Len(t, first.Timeline, 1)
	assert.Equal(t, "opened", first.Timeline[0].Action)

	second := openDispute(t, f, p.ID, "pallets")
	require.NotNil(t, second.DiscrepancyIndex)
	assert.Equal(t, 1, *second.DiscrepancyIndex)
	assert.InDelta(t, 8, second.Amount.Disputed, 1e-9)

	third := openDispute(t, f, p.ID, "general")
	assert.Nil(t, third.LineIndex)

	got := f.reload(t, p.ID)
	assert.Equal(t, first.ID, got.Lines[0].Discrepancies[0].DisputeID)
	assert.Equal(t, second.ID, got.Lines[0].Discrepancies[1].DisputeID)
	assert.Equal(t, 2, got.DiscrepanciesCount)

	list, total, err := f.disputes.List(context.Background(), store.DisputeFilter{PrefacturationID: p.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, list, 3)
}

func TestDisputeOpen_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t, twoDiscrepancies()...)

	_, err := f.disputes.Open(ctx, OpenDisputeInput{Type: "price"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "required", ve.Fields["prefacturation_id"])
	assert.Equal(t, "invalid_value", ve.Fields["type"])
	assert.Equal(t, "required", ve.Fields["subject"])
	assert.Equal(t, "required", ve.Fields["actor"])

	_, err = f.disputes.Open(ctx, OpenDisputeInput{
		PrefacturationID: p.ID, Type: models.DisputeWeight, Actor: "i", Subject: "s",
		LineIndex: ptr(0), DiscrepancyIndex: ptr(5),
	})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "out_of_range", ve.Fields["discrepancy_index"])

	openDispute(t, f, p.ID, "weight")
	_, err = f.disputes.Open(ctx, OpenDisputeInput{
		PrefacturationID: p.ID, Type: models.DisputeWeight, Actor: "i", Subject: "s",
		LineIndex: ptr(0), DiscrepancyIndex: ptr(0),
	})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "not_disputable", ve.Fields["discrepancy_index"])

	_, err = f.disputes.Open(ctx, OpenDisputeInput{
		PrefacturationID: 999, Type: models.DisputeWeight, Actor: "i", Subject: "s",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisputeResolve_DecrementsCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t, twoDiscrepancies()...)
	d := openDispute(t, f, p.ID, "weight")

	got, err := f.disputes.Resolve(ctx, d.ID, ResolveDisputeInput{
		Decision:       models.DecisionPartialAccepted,
		AdjustedAmount: ptr(6.6),
		Comment:        "split the difference",
		Actor:          "manager",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeResolved, got.Status)
	assert.Equal(t, models.DecisionPartialAccepted, got.Resolution.Decision)
	require.NotNil(t, got.Amount.Final)
	assert.InDelta(t, 6.6, *got.Amount.Final, 1e-9)

	parent := f.reload(t, p.ID)
	assert.Equal(t, 1, parent.DiscrepanciesCount)
	assert.True(t, parent.HasDiscrepancies)
	assert.True(t, parent.Lines[0].Discrepancies[0].Resolved)

	_, err = f.disputes.Resolve(ctx, d.ID, ResolveDisputeInput{Decision: models.DecisionAccepted, Actor: "manager"})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, 1, f.reload(t, p.ID).DiscrepanciesCount)
}

func TestDisputeResolve_UnlinkedUsesFirstUnresolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t, twoDiscrepancies()...)
	openDispute(t, f, p.ID, "weight")
	openDispute(t, f, p.ID, "pallets")
	loose := openDispute(t, f, p.ID, "general")
	require.Nil(t, loose.LineIndex)

	_, err := f.disputes.Resolve(ctx, loose.ID, ResolveDisputeInput{Decision: models.DecisionAccepted, Actor: "manager"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.reload(t, p.ID).DiscrepanciesCount)
}

func TestDisputeResolve_CounterFloorsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)
	d := openDispute(t, f, p.ID, "quality")

	_, err := f.disputes.Resolve(ctx, d.ID, ResolveDisputeInput{Decision: models.DecisionRefused, Actor: "manager"})
	require.NoError(t, err)
	got := f.reload(t, p.ID)
	assert.Equal(t, 0, got.DiscrepanciesCount)
	assert.False(t, got.HasDiscrepancies)
}

func TestDisputeReject_KeepsDiscrepancyOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t, twoDiscrepancies()...)
	d := openDispute(t, f, p.ID, "weight")

	_, err := f.disputes.Reject(ctx, d.ID, EventInput{})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.disputes.Reject(ctx, d.ID, EventInput{Actor: "manager", Comment: "weighbridge ticket is valid"})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeRejected, got.Status)
	assert.Equal(t, models.DecisionRefused, got.Resolution.Decision)

	parent := f.reload(t, p.ID)
	assert.Equal(t, 2, parent.DiscrepanciesCount)
	assert.Zero(t, parent.Lines[0].Discrepancies[0].DisputeID)

	_, err = f.disputes.Resolve(ctx, d.ID, ResolveDisputeInput{Decision: models.DecisionAccepted, Actor: "manager"})
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	again := openDispute(t, f, p.ID, "weight, second try")
	require.NotNil(t, again.DiscrepancyIndex)
	assert.Equal(t, 0, *again.DiscrepancyIndex)
}

func TestDisputeResolve_TerminalParentUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t, twoDiscrepancies()...)
	d := openDispute(t, f, p.ID, "weight")
	_, err := f.pref.MarkPaid(ctx, p.ID, PaymentInput{Reference: "VIR-3"})
	require.NoError(t, err)
	before := f.reload(t, p.ID)

	got, err := f.disputes.Resolve(ctx, d.ID, ResolveDisputeInput{Decision: models.DecisionAccepted, Actor: "manager"})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeResolved, got.Status)

	after := f.reload(t, p.ID)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, 2, after.DiscrepanciesCount)

	_, err = f.disputes.Open(ctx, OpenDisputeInput{
		PrefacturationID: p.ID, Type: models.DisputeWeight, Actor: "i", Subject: "late",
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDisputeWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)
	d := openDispute(t, f, p.ID, "delay")

	_, err := f.disputes.Review(ctx, d.ID, EventInput{})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.disputes.Review(ctx, d.ID, EventInput{Actor: "manager"})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeUnderReview, got.Status)

	_, err = f.disputes.Review(ctx, d.ID, EventInput{Actor: "manager"})
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err = f.disputes.Escalate(ctx, d.ID, EventInput{Actor: "manager", Comment: "needs direction"})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeEscalated, got.Status)

	_, err = f.disputes.Resolve(ctx, d.ID, ResolveDisputeInput{Decision: models.DecisionAccepted, Actor: "director"})
	require.NoError(t, err)

	_, err = f.disputes.Escalate(ctx, d.ID, EventInput{Actor: "manager"})
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	_, err = f.disputes.Comment(ctx, d.ID, EventInput{Actor: "manager"})
	assert.ErrorIs(t, err, ErrValidation)
	got, err = f.disputes.Comment(ctx, d.ID, EventInput{Actor: "manager", Comment: "closed after call"})
	require.NoError(t, err)

	actions := make([]string, 0, len(got.Timeline))
	for _, e := range got.Timeline {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"opened", "review", "escalate", "resolved", "comment"}, actions)
}
