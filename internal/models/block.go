package models

import (
	"time"

	"gorm.io/datatypes"
)

// BlockEntityType is the kind of entity a block targets.
type BlockEntityType string

const (
	EntityOrder          BlockEntityType = "order"
	EntityCarrier        BlockEntityType = "carrier"
	EntityClient         BlockEntityType = "client"
	EntityPrefacturation BlockEntityType = "prefacturation"
)

// Valid reports whether t is a known entity type.
func (t BlockEntityType) Valid() bool {
	switch t {
	case EntityOrder, EntityCarrier, EntityClient, EntityPrefacturation:
		return true
	}
	return false
}

// BlockType classifies the gating rule that raised a block.
type BlockType string

const (
	BlockMissingDocuments BlockType = "missing_documents"
	BlockVigilance        BlockType = "vigilance"
	BlockPallets          BlockType = "pallets"
	BlockLate             BlockType = "late"
	BlockManual           BlockType = "manual"
	// BlockDispute only appears on holds placed by the dispute transition.
	BlockDispute BlockType = "dispute"
)

// Valid reports whether t can be used when creating a registry block.
func (t BlockType) Valid() bool {
	switch t {
	case BlockMissingDocuments, BlockVigilance, BlockPallets, BlockLate, BlockManual:
		return true
	}
	return false
}

// Severity is shared by blocks, alerts and disputes.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// RequiresApproval is true for high and critical severities.
func (s Severity) RequiresApproval() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// BlockStatus represents the state of a block.
type BlockStatus string

const (
	BlockStatusActive    BlockStatus = "active"
	BlockStatusResolved  BlockStatus = "resolved"
	BlockStatusCancelled BlockStatus = "cancelled"
)

// BlockTarget points at the blocked entity.
type BlockTarget struct {
	Type BlockEntityType `json:"type"`
	ID   string          `json:"id"`
}

// BlockImpact describes what an active block prevents.
type BlockImpact struct {
	BlocksBilling    bool    `json:"blocks_billing"`
	RequiresApproval bool    `json:"requires_approval"`
	AffectedAmount   float64 `json:"affected_amount,omitempty"`
}

// BlockResolution is set once when a block is lifted.
type BlockResolution struct {
	Action     string     `gorm:"size:100" json:"action,omitempty"`
	Comment    string     `gorm:"type:text" json:"comment,omitempty"`
	ResolvedBy string     `gorm:"size:255" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Block is a gating record preventing billing of its target entity.
type Block struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `gorm:"not null;default:1" json:"version"`

	Reference       string          `gorm:"size:50;uniqueIndex" json:"reference"`
	EntityType      BlockEntityType `gorm:"size:30;index:idx_block_target" json:"entity_type"`
	EntityID        string          `gorm:"size:64;index:idx_block_target" json:"entity_id"`
	EntityReference string          `gorm:"size:100" json:"entity_reference,omitempty"`

	Type        BlockType   `gorm:"size:30" json:"type"`
	Reason      string      `gorm:"size:500;not null" json:"reason"`
	Description string      `gorm:"type:text" json:"description,omitempty"`
	Severity    Severity    `gorm:"size:20" json:"severity"`
	Status      BlockStatus `gorm:"size:20;index" json:"status"`
	CreatedBy   string      `gorm:"size:255" json:"created_by,omitempty"`

	Impact     BlockImpact     `gorm:"embedded;embeddedPrefix:impact_" json:"impact"`
	Resolution BlockResolution `gorm:"embedded;embeddedPrefix:resolution_" json:"resolution"`

	Metadata datatypes.JSONMap `json:"metadata,omitempty"`
}

// Target returns the blocked entity.
func (b *Block) Target() BlockTarget {
	return BlockTarget{Type: b.EntityType, ID: b.EntityID}
}

// IsActive returns true while the block has not been lifted.
func (b *Block) IsActive() bool {
	return b.Status == BlockStatusActive
}

// BlocksBilling returns true when the block currently prevents billing.
func (b *Block) BlocksBilling() bool {
	return b.IsActive() && b.Impact.BlocksBilling
}

// AsHold converts the block into a pre-invoice snapshot entry.
func (b *Block) AsHold() Hold {
	return Hold{
		Type:      string(b.Type),
		Reason:    b.Reason,
		BlockID:   b.ID,
		BlockRef:  b.Reference,
		Severity:  b.Severity,
		CreatedAt: b.CreatedAt,
	}
}
