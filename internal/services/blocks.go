package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/diewo77/go-prefacturation/internal/lock"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/store"
	"github.com/diewo77/go-prefacturation/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlockRegistry creates, lifts and checks billing blocks.
type BlockRegistry struct {
	store  *store.Store
	locker lock.Locker
	opts   options
}

// NewBlockRegistry returns a registry backed by st.
func NewBlockRegistry(st *store.Store, locker lock.Locker, opts ...Option) *BlockRegistry {
	return &BlockRegistry{store: st, locker: locker, opts: newOptions(opts)}
}

// CreateBlockInput describes a new block.
type CreateBlockInput struct {
	EntityType      models.BlockEntityType `json:"entity_type"`
	EntityID        string                 `json:"entity_id"`
	EntityReference string                 `json:"entity_reference"`
	Type            models.BlockType       `json:"type"`
	Reason          string                 `json:"reason"`
	Description     string                 `json:"description"`
	Severity        models.Severity        `json:"severity"`
	// BlocksBilling defaults to true.
	BlocksBilling  *bool          `json:"blocks_billing,omitempty"`
	AffectedAmount float64        `json:"affected_amount"`
	CreatedBy      string         `json:"created_by"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// LiftBlockInput records who lifted a block and how.
type LiftBlockInput struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
	Actor   string `json:"actor"`
}

func entityKey(t models.BlockEntityType, id string) string {
	return lock.Key(string(t), id)
}

// Create registers an active block. Blocks on a pre-invoice are also
// mirrored into its blocks snapshot, in the same transaction.
func (r *BlockRegistry) Create(ctx context.Context, in CreateBlockInput) (*models.Block, error) {
	v := validation.Violations{}
	validation.OneOf("entity_type", in.EntityType.Valid(), v)
	validation.Required("entity_id", in.EntityID, v)
	validation.OneOf("type", in.Type.Valid(), v)
	validation.Required("reason", in.Reason, v)
	if in.Severity == "" {
		in.Severity = models.SeverityMedium
	}
	validation.OneOf("severity", in.Severity.Valid(), v)
	validation.NonNegativeFloat("affected_amount", in.AffectedAmount, v)
	if err := invalid(v); err != nil {
		return nil, err
	}

	blocksBilling := true
	if in.BlocksBilling != nil {
		blocksBilling = *in.BlocksBilling
	}

	if in.EntityType == models.EntityPrefacturation {
		id, err := parseEntityID(in.EntityID)
		if err != nil {
			return nil, err
		}
		in.EntityID = strconv.FormatUint(uint64(id), 10)
	}

	release, err := r.locker.Lock(ctx, entityKey(in.EntityType, in.EntityID))
	if err != nil {
		return nil, err
	}
	defer release()

	b := &models.Block{
		Reference:       newReference("BLK"),
		EntityType:      in.EntityType,
		EntityID:        in.EntityID,
		EntityReference: in.EntityReference,
		Type:            in.Type,
		Reason:          strings.TrimSpace(in.Reason),
		Description:     in.Description,
		Severity:        in.Severity,
		Status:          models.BlockStatusActive,
		CreatedBy:       in.CreatedBy,
		Impact: models.BlockImpact{
			BlocksBilling:    blocksBilling,
			RequiresApproval: in.Severity.RequiresApproval(),
			AffectedAmount:   in.AffectedAmount,
		},
		Metadata: in.Metadata,
	}
	b.CreatedAt = r.opts.now()

	var target *models.Prefacturation
	if in.EntityType == models.EntityPrefacturation {
		target, err = r.loadTarget(ctx, in.EntityID)
		if err != nil {
			return nil, err
		}
		if target.Status.IsTerminal() {
			return nil, &StateError{Op: "block", From: target.Status}
		}
		if b.EntityReference == "" {
			b.EntityReference = target.Reference
		}
	}

	err = r.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateBlock(ctx, b); err != nil {
			return err
		}
		if target == nil || !b.Impact.BlocksBilling {
			return nil
		}
		target.Blocks = append(target.Blocks, b.AsHold())
		target.AddHistory(r.opts.now(), "blocked", in.CreatedBy, b.Reason)
		return tx.SavePrefacturation(ctx, target)
	})
	r.opts.metrics.Operation("block_create", err)
	if err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}

	r.opts.log.Info("block created",
		zap.String("reference", b.Reference),
		zap.String("entity_type", string(b.EntityType)),
		zap.String("entity_id", b.EntityID),
		zap.String("type", string(b.Type)),
		zap.String("severity", string(b.Severity)))
	return b, nil
}

// Resolve lifts an active block. A block is lifted at most once.
func (r *BlockRegistry) Resolve(ctx context.Context, id uint, in LiftBlockInput) (*models.Block, error) {
	b, err := r.lift(ctx, id, models.BlockStatusResolved, in)
	r.opts.metrics.Operation("block_resolve", err)
	return b, err
}

// Cancel withdraws an active block that was raised in error.
func (r *BlockRegistry) Cancel(ctx context.Context, id uint, in LiftBlockInput) (*models.Block, error) {
	b, err := r.lift(ctx, id, models.BlockStatusCancelled, in)
	r.opts.metrics.Operation("block_cancel", err)
	return b, err
}

func (r *BlockRegistry) lift(ctx context.Context, id uint, status models.BlockStatus, in LiftBlockInput) (*models.Block, error) {
	v := validation.Violations{}
	validation.Required("actor", in.Actor, v)
	if err := invalid(v); err != nil {
		return nil, err
	}
	if in.Action == "" {
		in.Action = string(status)
	}

	peek, err := r.store.GetBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	release, err := r.locker.Lock(ctx, lock.Key("block", id), entityKey(peek.EntityType, peek.EntityID))
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := r.store.GetBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsActive() {
		return nil, fmt.Errorf("block %s is %s: %w", b.Reference, b.Status, ErrAlreadyResolved)
	}

	var target *models.Prefacturation
	if b.EntityType == models.EntityPrefacturation {
		target, err = r.loadTarget(ctx, b.EntityID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		// Paid and cancelled pre-invoices keep their snapshot as is.
		if target != nil && target.Status.IsTerminal() {
			target = nil
		}
	}

	now := r.opts.now()
	b.Status = status
	b.Resolution = models.BlockResolution{
		Action:     in.Action,
		Comment:    in.Comment,
		ResolvedBy: in.Actor,
		ResolvedAt: &now,
	}

	err = r.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.SaveBlock(ctx, b); err != nil {
			return err
		}
		if target == nil {
			return nil
		}
		if target.RemoveHolds(func(h models.Hold) bool { return h.BlockID == b.ID }) == 0 {
			return nil
		}
		target.AddHistory(now, "unblocked", in.Actor, b.Reason)
		return tx.SavePrefacturation(ctx, target)
	})
	if err != nil {
		return nil, fmt.Errorf("lift block: %w", err)
	}

	r.opts.log.Info("block lifted",
		zap.String("reference", b.Reference),
		zap.String("status", string(b.Status)),
		zap.String("actor", in.Actor))
	return b, nil
}

// Check returns every active block on an entity. For a pre-invoice the
// holds recorded on it, such as an open dispute, are included. When
// carrierID is set, synthetic blocks derived from the carrier's compliance
// file are appended. Callers filter on BlocksBilling.
func (r *BlockRegistry) Check(ctx context.Context, entityType models.BlockEntityType, entityID, carrierID string) ([]models.Block, error) {
	var target *models.Prefacturation
	if entityType == models.EntityPrefacturation {
		p, err := r.loadTarget(ctx, entityID)
		switch {
		case err == nil:
			target = p
			entityID = p.EntityKey()
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	registry, err := r.store.ActiveBlocks(ctx, models.BlockTarget{Type: entityType, ID: entityID})
	if err != nil {
		return nil, err
	}
	var blocks []models.Block
	if target != nil {
		blocks = holdBlocks(target, registry)
	}
	blocks = append(blocks, registry...)

	if carrierID == "" {
		return blocks, nil
	}
	synthetic, err := r.vigilanceBlocks(ctx, carrierID)
	if err != nil {
		return nil, err
	}
	return append(blocks, synthetic...), nil
}

// billingBlocks gathers everything preventing a pre-invoice from being
// finalized: its holds snapshot, registry blocks on the pre-invoice, its
// carrier, its client and its orders, and the carrier's compliance state.
func (r *BlockRegistry) billingBlocks(ctx context.Context, p *models.Prefacturation) ([]models.Block, error) {
	registry, err := r.store.ActiveBillingBlocks(ctx, billingTargets(p)...)
	if err != nil {
		return nil, err
	}
	blocks := append(holdBlocks(p, registry), registry...)

	if p.Carrier.ID != "" {
		synthetic, err := r.vigilanceBlocks(ctx, p.Carrier.ID)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, synthetic...)
	}
	return blocks, nil
}

// holdBlocks turns the holds of p not already backed by one of registry into
// blocks.
func holdBlocks(p *models.Prefacturation, registry []models.Block) []models.Block {
	seen := make(map[uint]bool, len(registry))
	for _, b := range registry {
		seen[b.ID] = true
	}

	var blocks []models.Block
	for _, h := range p.Blocks {
		if h.BlockID != 0 && seen[h.BlockID] {
			continue
		}
		blocks = append(blocks, models.Block{
			ID:         h.BlockID,
			Reference:  h.BlockRef,
			EntityType: models.EntityPrefacturation,
			EntityID:   p.EntityKey(),
			Type:       models.BlockType(h.Type),
			Reason:     h.Reason,
			Severity:   h.Severity,
			Status:     models.BlockStatusActive,
			CreatedAt:  h.CreatedAt,
			Impact:     models.BlockImpact{BlocksBilling: true},
		})
	}
	return blocks
}

func (r *BlockRegistry) vigilanceBlocks(ctx context.Context, carrierID string) ([]models.Block, error) {
	v, err := r.store.GetVigilance(ctx, carrierID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := r.opts.now()
	var blocks []models.Block
	if v.Restrictions.IsBlocked {
		reason := v.Restrictions.Reason
		if reason == "" {
			reason = "Carrier billing restricted"
		}
		blocks = append(blocks, syntheticBlock(carrierID, "VIG-"+carrierID, reason))
	}
	for _, d := range v.Documents {
		if d.StatusAt(now, r.opts.settings.VigilanceAlertDays) != models.DocumentExpired {
			continue
		}
		reason := fmt.Sprintf("Document %s expired", d.Type)
		blocks = append(blocks, syntheticBlock(carrierID, "VIG-"+carrierID+"-"+d.ID, reason))
	}
	return blocks, nil
}

func syntheticBlock(carrierID, reference, reason string) models.Block {
	return models.Block{
		Reference:  reference,
		EntityType: models.EntityCarrier,
		EntityID:   carrierID,
		Type:       models.BlockVigilance,
		Reason:     reason,
		Severity:   models.SeverityCritical,
		Status:     models.BlockStatusActive,
		Impact:     models.BlockImpact{BlocksBilling: true, RequiresApproval: true},
	}
}

// billingTargets lists the entities whose blocks gate a pre-invoice.
func billingTargets(p *models.Prefacturation) []models.BlockTarget {
	targets := []models.BlockTarget{{Type: models.EntityPrefacturation, ID: p.EntityKey()}}
	if p.Carrier.ID != "" {
		targets = append(targets, models.BlockTarget{Type: models.EntityCarrier, ID: p.Carrier.ID})
	}
	if p.Client.ID != "" {
		targets = append(targets, models.BlockTarget{Type: models.EntityClient, ID: p.Client.ID})
	}
	for _, l := range p.Lines {
		for _, id := range []string{l.OrderID, l.OrderReference} {
			if id != "" {
				targets = append(targets, models.BlockTarget{Type: models.EntityOrder, ID: id})
			}
		}
	}
	return targets
}

// Get loads a block.
func (r *BlockRegistry) Get(ctx context.Context, id uint) (*models.Block, error) {
	return r.store.GetBlock(ctx, id)
}

// List returns blocks matching f.
func (r *BlockRegistry) List(ctx context.Context, f store.BlockFilter) ([]models.Block, int64, error) {
	return r.store.FindBlocks(ctx, f)
}

func (r *BlockRegistry) loadTarget(ctx context.Context, entityID string) (*models.Prefacturation, error) {
	id, err := parseEntityID(entityID)
	if err != nil {
		return nil, err
	}
	return r.store.GetPrefacturation(ctx, id)
}

func parseEntityID(entityID string) (uint, error) {
	id, err := strconv.ParseUint(entityID, 10, 64)
	if err != nil {
		return 0, invalidField("entity_id", "invalid_id")
	}
	return uint(id), nil
}

// shortID returns eight upper-case hex characters of a random uuid.
func shortID() string {
	return strings.ToUpper(uuid.NewString()[:8])
}

// newReference returns PREFIX-XXXXXXXX.
func newReference(prefix string) string {
	return prefix + "-" + shortID()
}
