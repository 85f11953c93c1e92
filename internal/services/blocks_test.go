package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockCreate_Defaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.blocks.Create(ctx, CreateBlockInput{
		EntityType: models.EntityOrder, EntityID: "CMD-9",
		Type: models.BlockPallets, Reason: "  Pallet count mismatch ",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(b.Reference, "BLK-"))
	assert.Equal(t, models.SeverityMedium, b.Severity)
	assert.Equal(t, models.BlockStatusActive, b.Status)
	assert.Equal(t, "Pallet count mismatch", b.Reason)
	assert.True(t, b.Impact.BlocksBilling)
	assert.False(t, b.Impact.RequiresApproval)

	critical, err := f.blocks.Create(ctx, CreateBlockInput{
		EntityType: models.EntityOrder, EntityID: "CMD-9",
		Type: models.BlockLate, Reason: "Delivered 4 days late",
		Severity: models.SeverityCritical, BlocksBilling: ptr(false),
	})
	require.NoError(t, err)
	assert.True(t, critical.Impact.RequiresApproval)
	assert.False(t, critical.Impact.BlocksBilling)
	assert.NotEqual(t, b.Reference, critical.Reference)

	active, err := f.blocks.Check(ctx, models.EntityOrder, "CMD-9", "")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, b.ID, active[0].ID)
	assert.True(t, active[0].BlocksBilling())
	assert.Equal(t, critical.ID, active[1].ID)
	assert.False(t, active[1].BlocksBilling())

	all, total, err := f.blocks.List(ctx, store.BlockFilter{EntityID: "CMD-9"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, all, 2)
}

func TestBlockCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.blocks.Create(ctx, CreateBlockInput{EntityType: "warehouse", Type: "weather", Severity: "urgent"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "invalid_value", ve.Fields["entity_type"])
	assert.Equal(t, "required", ve.Fields["entity_id"])
	assert.Equal(t, "invalid_value", ve.Fields["type"])
	assert.Equal(t, "required", ve.Fields["reason"])
	assert.Equal(t, "invalid_value", ve.Fields["severity"])

	_, err = f.blocks.Create(ctx, CreateBlockInput{
		EntityType: models.EntityPrefacturation, EntityID: "PREF-1",
		Type: models.BlockManual, Reason: "x",
	})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "invalid_id", ve.Fields["entity_id"])

	_, err = f.blocks.Create(ctx, CreateBlockInput{
		EntityType: models.EntityPrefacturation, EntityID: "4242",
		Type: models.BlockManual, Reason: "x",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlockCreate_TerminalPrefacturation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)
	_, err := f.pref.MarkPaid(ctx, p.ID, PaymentInput{Reference: "VIR-1"})
	require.NoError(t, err)

	_, err = f.blocks.Create(ctx, CreateBlockInput{
		EntityType: models.EntityPrefacturation, EntityID: p.EntityKey(),
		Type: models.BlockManual, Reason: "late claim",
	})
	assert.ErrorIs(t, err, ErrInvalidState)

	blocks, _, err := f.blocks.List(ctx, store.BlockFilter{})
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestBlockLift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generate(t)

	b, err := f.blocks.Create(ctx, CreateBlockInput{
		EntityType: models.EntityPrefacturation, EntityID: p.EntityKey(),
		Type: models.BlockMissingDocuments, Reason: "POD missing", CreatedBy: "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, p.Reference, b.EntityReference)
	held := f.reload(t, p.ID)
	require.Len(t, held.Blocks, 1)
	assert.Equal(t, b.ID, held.Blocks[0].BlockID)

	_, err = f.blocks.Resolve(ctx, b.ID, LiftBlockInput{})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.blocks.Resolve(ctx, b.ID, LiftBlockInput{Actor: "ops", Comment: "POD received"})
	require.NoError(t, err)
	assert.Equal(t, models.BlockStatusResolved, got.Status)
	assert.Equal(t, "resolved", got.Resolution.Action)
	assert.Equal(t, "ops", got.Resolution.ResolvedBy)
	require.NotNil(t, got.Resolution.ResolvedAt)
	assert.Empty(t, f.reload(t, p.ID).Blocks)

	_, err = f.blocks.Resolve(ctx, b.ID, LiftBlockInput{Actor: "ops"})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = f.blocks.Cancel(ctx, b.ID, LiftBlockInput{Actor: "ops"})
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	stored, err := f.blocks.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "POD received", stored.Resolution.Comment)

	_, err = f.blocks.Resolve(ctx, 999, LiftBlockInput{Actor: "ops"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlockLift_PaidPrefacturationUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)

	b, err := f.blocks.Create(ctx, CreateBlockInput{
		EntityType: models.EntityPrefacturation, EntityID: p.EntityKey(),
		Type: models.BlockManual, Reason: "carrier claim", CreatedBy: "ops",
	})
	require.NoError(t, err)
	_, err = f.pref.MarkPaid(ctx, p.ID, PaymentInput{Reference: "VIR-1"})
	require.NoError(t, err)
	paid := f.reload(t, p.ID)
	require.Equal(t, models.StatusPaid, paid.Status)
	require.Len(t, paid.Blocks, 1)

	got, err := f.blocks.Resolve(ctx, b.ID, LiftBlockInput{Actor: "ops", Comment: "settled"})
	require.NoError(t, err)
	assert.Equal(t, models.BlockStatusResolved, got.Status)

	after := f.reload(t, p.ID)
	assert.Equal(t, paid.Version, after.Version)
	assert.Len(t, after.Blocks, 1)
	assert.Len(t, after.History, len(paid.History))
}

func TestBlockCreate_CanonicalPrefacturationID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.generate(t)

	b, err := f.blocks.Create(ctx, CreateBlockInput{
		EntityType: models.EntityPrefacturation, EntityID: "00" + p.EntityKey(),
		Type: models.BlockManual, Reason: "weights to recheck",
	})
	require.NoError(t, err)
	assert.Equal(t, p.EntityKey(), b.EntityID)

	active, err := f.blocks.Check(ctx, models.EntityPrefacturation, p.EntityKey(), "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	listed, _, err := f.blocks.List(ctx, store.BlockFilter{EntityID: p.EntityKey()})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestBlockCheck_PrefacturationHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.validated(t)

	_, err := f.pref.Dispute(ctx, p.ID, "amount contested", "ops")
	require.NoError(t, err)

	active, err := f.blocks.Check(ctx, models.EntityPrefacturation, p.EntityKey(), "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.BlockDispute, active[0].Type)
	assert.Equal(t, "amount contested", active[0].Reason)
	assert.True(t, active[0].BlocksBilling())

	_, err = f.pref.Finalize(ctx, p.ID, "ops")
	var be *BlockedError
	require.ErrorAs(t, err, &be)
	assert.Len(t, be.Blocks, len(active))

	none, err := f.blocks.Check(ctx, models.EntityPrefacturation, "4242", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBlockCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.blocks.Create(ctx, CreateBlockInput{
		EntityType: models.EntityClient, EntityID: "CLI-1",
		Type: models.BlockManual, Reason: "raised by mistake",
	})
	require.NoError(t, err)

	got, err := f.blocks.Cancel(ctx, b.ID, LiftBlockInput{Action: "withdrawn", Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, models.BlockStatusCancelled, got.Status)
	assert.Equal(t, "withdrawn", got.Resolution.Action)

	active, err := f.blocks.Check(ctx, models.EntityClient, "CLI-1", "")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestBlockCheck_Vigilance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.blocks.Check(ctx, models.EntityCarrier, "TR-1", "TR-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = f.compliance.SetBillingRestriction(ctx, "TR-1", RestrictionInput{Blocked: true, Reason: "Audit in progress"})
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := f.compliance.UpsertDocument(ctx, "TR-1", DocumentInput{
		CarrierName: "Transports Martin",
		Type:        models.DocAssurance,
		ExpiryDate:  ptr(f.clock.Now().Add(-2 * day)),
	})
	require.NoError(t, err)
	docID := v.Documents[0].ID

	active, err = f.blocks.Check(ctx, models.EntityCarrier, "TR-1", "TR-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "VIG-TR-1", active[0].Reference)
	assert.Equal(t, autoRestrictionReason, active[0].Reason)
	assert.Equal(t, "VIG-TR-1-"+docID, active[1].Reference)
	assert.Equal(t, "Document assurance expired", active[1].Reason)
	for _, b := range active {
		assert.Equal(t, models.SeverityCritical, b.Severity)
		assert.True(t, b.BlocksBilling())
	}

	without, err := f.blocks.Check(ctx, models.EntityCarrier, "TR-1", "")
	require.NoError(t, err)
	assert.Empty(t, without)
}
