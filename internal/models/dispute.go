package models

import (
	"time"

	"gorm.io/datatypes"
)

// DisputeType classifies the contested element.
type DisputeType string

const (
	DisputeTariff    DisputeType = "tariff"
	DisputeWeight    DisputeType = "weight"
	DisputePallets   DisputeType = "pallets"
	DisputeDocuments DisputeType = "documents"
	DisputeDelay     DisputeType = "delay"
	DisputeQuality   DisputeType = "quality"
	DisputeOther     DisputeType = "other"
)

// Valid reports whether t is a known dispute type.
func (t DisputeType) Valid() bool {
	switch t {
	case DisputeTariff, DisputeWeight, DisputePallets, DisputeDocuments, DisputeDelay, DisputeQuality, DisputeOther:
		return true
	}
	return false
}

// DisputeStatus represents the state of a dispute.
type DisputeStatus string

const (
	DisputeOpen        DisputeStatus = "open"
	DisputeUnderReview DisputeStatus = "under_review"
	DisputeEscalated   DisputeStatus = "escalated"
	DisputeResolved    DisputeStatus = "resolved"
	DisputeRejected    DisputeStatus = "rejected"
)

// IsClosed returns true once the dispute has been resolved or rejected.
func (s DisputeStatus) IsClosed() bool {
	return s == DisputeResolved || s == DisputeRejected
}

// DisputeDecision is the outcome recorded on resolution.
type DisputeDecision string

const (
	DecisionAccepted        DisputeDecision = "accepted"
	DecisionPartialAccepted DisputeDecision = "partially_accepted"
	DecisionRefused         DisputeDecision = "refused"
)

// Valid reports whether d is a known decision.
func (d DisputeDecision) Valid() bool {
	switch d {
	case DecisionAccepted, DecisionPartialAccepted, DecisionRefused:
		return true
	}
	return false
}

// DisputeAmount tracks the contested amounts.
type DisputeAmount struct {
	Disputed float64  `json:"disputed"`
	Proposed *float64 `json:"proposed,omitempty"`
	Final    *float64 `json:"final,omitempty"`
}

// TimelineEntry is an append-only record of a dispute event.
type TimelineEntry struct {
	Date    time.Time     `json:"date"`
	Action  string        `json:"action"`
	Actor   string        `json:"actor,omitempty"`
	Comment string        `json:"comment,omitempty"`
	Status  DisputeStatus `json:"status"`
}

// DisputeResolution is written once and never modified.
type DisputeResolution struct {
	Decision       DisputeDecision `gorm:"size:30" json:"decision,omitempty"`
	AdjustedAmount *float64        `json:"adjusted_amount,omitempty"`
	Comment        string          `gorm:"type:text" json:"comment,omitempty"`
	ResolvedBy     string          `gorm:"size:255" json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// Dispute is a contested pre-invoice element and its negotiation history.
type Dispute struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `gorm:"not null;default:1" json:"version"`

	Reference         string `gorm:"size:50;uniqueIndex" json:"reference"`
	PrefacturationID  uint   `gorm:"index;not null" json:"prefacturation_id"`
	PrefacturationRef string `gorm:"size:50" json:"prefacturation_reference"`
	CarrierID         string `gorm:"size:64;index" json:"carrier_id"`

	Type        DisputeType   `gorm:"size:30" json:"type"`
	Status      DisputeStatus `gorm:"size:20;index" json:"status"`
	Priority    Severity      `gorm:"size:20" json:"priority"`
	Initiator   string        `gorm:"size:30" json:"initiator,omitempty"`
	InitiatedBy string        `gorm:"size:255" json:"initiated_by,omitempty"`
	Subject     string        `gorm:"size:255" json:"subject"`
	Description string        `gorm:"type:text" json:"description,omitempty"`

	// Discrepancy linked to this dispute, when any.
	LineIndex        *int `json:"line_index,omitempty"`
	DiscrepancyIndex *int `json:"discrepancy_index,omitempty"`

	Amount     DisputeAmount                      `gorm:"embedded;embeddedPrefix:amount_" json:"amount"`
	Evidence   datatypes.JSONSlice[FileRef]       `json:"evidence,omitempty"`
	Timeline   datatypes.JSONSlice[TimelineEntry] `json:"timeline"`
	Resolution DisputeResolution                  `gorm:"embedded;embeddedPrefix:resolution_" json:"resolution"`
}

// AddEvent appends a timeline entry with the dispute's current status.
func (d *Dispute) AddEvent(at time.Time, action, actor, comment string) {
	d.Timeline = append(d.Timeline, TimelineEntry{
		Date:    at,
		Action:  action,
		Actor:   actor,
		Comment: comment,
		Status:  d.Status,
	})
}
