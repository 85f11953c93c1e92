package models

import (
	"fmt"
	"math"
	"time"

	"gorm.io/datatypes"
)

// Party identifies a carrier or a client on a pre-invoice.
type Party struct {
	ID    string `gorm:"size:64;index" json:"id"`
	Name  string `gorm:"size:255" json:"name"`
	TaxID string `gorm:"size:64" json:"tax_id,omitempty"`
}

// Period is an inclusive billing period.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Label renders the period as month/year of its start.
func (p Period) Label() string {
	if p.Start.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d/%d", int(p.Start.Month()), p.Start.Year())
}

// LineOption is a priced extra on a transport line (tail lift, appointment...).
type LineOption struct {
	Code   string  `json:"code"`
	Label  string  `json:"label,omitempty"`
	Amount float64 `json:"amount"`
}

// Discrepancy records a gap between expected and billed values on a line.
type Discrepancy struct {
	Type          string  `json:"type"`
	Description   string  `json:"description"`
	ExpectedValue float64 `json:"expected_value"`
	ActualValue   float64 `json:"actual_value"`
	Impact        float64 `json:"impact"`
	Resolved      bool    `json:"resolved"`
	DisputeID     uint    `json:"dispute_id,omitempty"`
}

// PrefacturationLine is one priced delivery.
type PrefacturationLine struct {
	OrderID        string        `json:"order_id,omitempty"`
	OrderReference string        `json:"order_reference"`
	DeliveryDate   time.Time     `json:"delivery_date"`
	Origin         string        `json:"origin"`
	Destination    string        `json:"destination"`
	Weight         float64       `json:"weight"`
	Pallets        int           `json:"pallets"`
	TariffCode     string        `json:"tariff_code,omitempty"`
	BaseAmount     float64       `json:"base_amount"`
	FuelSurcharge  float64       `json:"fuel_surcharge"`
	Options        []LineOption  `json:"options,omitempty"`
	TotalHT        float64       `json:"total_ht"`
	VATRate        float64       `json:"vat_rate"`
	VATAmount      float64       `json:"vat_amount"`
	TotalTTC       float64       `json:"total_ttc"`
	Discrepancies  []Discrepancy `json:"discrepancies,omitempty"`
}

// OptionsTotal sums the priced options of the line.
func (l PrefacturationLine) OptionsTotal() float64 {
	var total float64
	for _, o := range l.Options {
		total += o.Amount
	}
	return total
}

// Balanced reports whether the line amounts are internally consistent.
func (l PrefacturationLine) Balanced(tolerance float64) bool {
	ht := l.BaseAmount + l.FuelSurcharge + l.OptionsTotal()
	return math.Abs(l.TotalHT-ht) <= tolerance && math.Abs(l.TotalTTC-(l.TotalHT+l.VATAmount)) <= tolerance
}

// Totals aggregates line amounts field by field.
type Totals struct {
	BaseAmount        float64 `json:"base_amount"`
	FuelSurcharge     float64 `json:"fuel_surcharge"`
	OptionsAmount     float64 `json:"options_amount"`
	TotalHT           float64 `json:"total_ht"`
	VATAmount         float64 `json:"vat_amount"`
	TotalTTC          float64 `json:"total_ttc"`
	DiscrepancyAmount float64 `json:"discrepancy_amount"`
}

// Hold is an entry of the pre-invoice blocks snapshot.
type Hold struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	BlockID   uint      `json:"block_id,omitempty"`
	BlockRef  string    `json:"block_reference,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is an append-only audit record.
type HistoryEntry struct {
	Date    time.Time `json:"date"`
	Action  string    `json:"action"`
	Actor   string    `json:"actor,omitempty"`
	Details string    `json:"details,omitempty"`
}

// BankDetails carries the carrier's payment coordinates.
type BankDetails struct {
	IBAN          string `gorm:"size:64" json:"iban,omitempty"`
	BIC           string `gorm:"size:32" json:"bic,omitempty"`
	BankName      string `gorm:"size:255" json:"bank_name,omitempty"`
	AccountHolder string `gorm:"size:255" json:"account_holder,omitempty"`
}

// PaymentInfo tracks the payment schedule of a pre-invoice.
type PaymentInfo struct {
	DueDate         *time.Time                  `json:"due_date,omitempty"`
	TermDays        int                         `json:"term_days"`
	DaysRemaining   int                         `json:"days_remaining"`
	PaidDate        *time.Time                  `json:"paid_date,omitempty"`
	PaidAmount      float64                     `json:"paid_amount"`
	Reference       string                      `gorm:"size:100" json:"reference,omitempty"`
	Method          string                      `gorm:"size:50" json:"method,omitempty"`
	Bank            BankDetails                 `gorm:"embedded;embeddedPrefix:bank_" json:"bank"`
	Notices         datatypes.JSONSlice[string] `json:"notices,omitempty"`
	LastNoticeCheck *time.Time                  `json:"last_notice_check,omitempty"`
}

// FileRef is an opaque pointer to a stored file.
type FileRef struct {
	Name     string `gorm:"size:255" json:"name,omitempty"`
	URL      string `gorm:"size:1024" json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `gorm:"size:100" json:"mime_type,omitempty"`
}

// InvoiceControl is the outcome of comparing a carrier invoice with the pre-invoice.
type InvoiceControl struct {
	Difference        float64    `json:"difference"`
	DifferencePercent float64    `json:"difference_percent"`
	AutoAccepted      bool       `json:"auto_accepted"`
	Note              string     `gorm:"size:500" json:"note,omitempty"`
	ControlledAt      *time.Time `json:"controlled_at,omitempty"`
}

// CarrierInvoice is the invoice a carrier uploads against a validated pre-invoice.
type CarrierInvoice struct {
	Number     string            `gorm:"size:100" json:"number,omitempty"`
	Date       *time.Time        `json:"date,omitempty"`
	AmountHT   float64           `json:"amount_ht"`
	AmountTTC  float64           `json:"amount_ttc"`
	Document   FileRef           `gorm:"embedded;embeddedPrefix:document_" json:"document"`
	OCR        datatypes.JSONMap `json:"ocr,omitempty"`
	UploadedAt *time.Time        `json:"uploaded_at,omitempty"`
	Control    InvoiceControl    `gorm:"embedded;embeddedPrefix:control_" json:"control"`
}

// Prefacturation is a priced pre-invoice awaiting reconciliation with the carrier.
type Prefacturation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `gorm:"not null;default:1" json:"version"`

	Reference string `gorm:"size:50;uniqueIndex" json:"reference"`

	Carrier Party  `gorm:"embedded;embeddedPrefix:carrier_" json:"carrier"`
	Client  Party  `gorm:"embedded;embeddedPrefix:client_" json:"client"`
	Period  Period `gorm:"embedded;embeddedPrefix:period_" json:"period"`

	Lines  datatypes.JSONSlice[PrefacturationLine] `json:"lines"`
	Totals Totals                                  `gorm:"embedded;embeddedPrefix:totals_" json:"totals"`

	Status              PrefacturationStatus      `gorm:"size:30;index" json:"status"`
	StatusBeforeDispute PrefacturationStatus      `gorm:"size:30" json:"status_before_dispute,omitempty"`
	HasDiscrepancies    bool                      `json:"has_discrepancies"`
	DiscrepanciesCount  int                       `json:"discrepancies_count"`
	Blocks              datatypes.JSONSlice[Hold] `json:"blocks"`

	ValidationDate   *time.Time `json:"validation_date,omitempty"`
	ValidatedBy      string     `gorm:"size:255" json:"validated_by,omitempty"`
	ValidationNotes  string     `gorm:"type:text" json:"validation_notes,omitempty"`
	FinalizationDate *time.Time `json:"finalization_date,omitempty"`
	InvoiceReference string     `gorm:"size:50;index" json:"invoice_reference,omitempty"`

	Payment        PaymentInfo    `gorm:"embedded;embeddedPrefix:payment_" json:"payment"`
	CarrierInvoice CarrierInvoice `gorm:"embedded;embeddedPrefix:carrier_invoice_" json:"carrier_invoice"`

	History  datatypes.JSONSlice[HistoryEntry] `json:"history,omitempty"`
	Metadata datatypes.JSONMap                 `json:"metadata,omitempty"`
}

// EntityKey is the lock and block-target identifier of the pre-invoice.
func (p *Prefacturation) EntityKey() string {
	return fmt.Sprintf("%d", p.ID)
}

// RecountDiscrepancies derives the discrepancy counter from the live line
// discrepancies and refreshes the total discrepancy amount.
func (p *Prefacturation) RecountDiscrepancies() {
	count := 0
	var amount float64
	for _, l := range p.Lines {
		for _, d := range l.Discrepancies {
			amount += d.Impact
			if !d.Resolved {
				count++
			}
		}
	}
	p.DiscrepanciesCount = count
	p.HasDiscrepancies = count > 0
	p.Totals.DiscrepancyAmount = amount
}

// HasHolds returns true when the blocks snapshot is not empty.
func (p *Prefacturation) HasHolds() bool {
	return len(p.Blocks) > 0
}

// AddHistory appends an audit entry.
func (p *Prefacturation) AddHistory(at time.Time, action, actor, details string) {
	p.History = append(p.History, HistoryEntry{Date: at, Action: action, Actor: actor, Details: details})
}

// RemoveHolds drops the snapshot entries selected by drop and returns how many were removed.
func (p *Prefacturation) RemoveHolds(drop func(Hold) bool) int {
	kept := make(datatypes.JSONSlice[Hold], 0, len(p.Blocks))
	removed := 0
	for _, h := range p.Blocks {
		if drop(h) {
			removed++
			continue
		}
		kept = append(kept, h)
	}
	p.Blocks = kept
	return removed
}
