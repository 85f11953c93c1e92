package models

import "strings"

// PrefacturationStatus represents the lifecycle state of a pre-invoice.
type PrefacturationStatus string

const (
	StatusDraft               PrefacturationStatus = "draft"
	StatusPending             PrefacturationStatus = "pending"
	StatusSentToIndustrial    PrefacturationStatus = "sent_to_industrial"
	StatusValidatedIndustrial PrefacturationStatus = "validated_industrial"
	StatusInvoiceUploaded     PrefacturationStatus = "invoice_uploaded"
	StatusInvoiceRejected     PrefacturationStatus = "invoice_rejected"
	StatusInvoiceAccepted     PrefacturationStatus = "invoice_accepted"
	StatusPaymentPending      PrefacturationStatus = "payment_pending"
	StatusPaid                PrefacturationStatus = "paid"
	StatusDisputed            PrefacturationStatus = "disputed"
	StatusInvoiced            PrefacturationStatus = "invoiced"
)

// Legacy labels still emitted by some upstream flows.
var statusAliases = map[string]PrefacturationStatus{
	"pending_validation": StatusPending,
	"validated":          StatusValidatedIndustrial,
	"finalized":          StatusInvoiceAccepted,
}

// AllStatuses lists every known status in lifecycle order.
var AllStatuses = []PrefacturationStatus{
	StatusDraft,
	StatusPending,
	StatusSentToIndustrial,
	StatusValidatedIndustrial,
	StatusInvoiceUploaded,
	StatusInvoiceRejected,
	StatusInvoiceAccepted,
	StatusPaymentPending,
	StatusPaid,
	StatusDisputed,
	StatusInvoiced,
}

// ParseStatus resolves a status label, accepting legacy aliases.
func ParseStatus(s string) (PrefacturationStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if st, ok := statusAliases[s]; ok {
		return st, true
	}
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// transitions maps a source status to the statuses it may move to.
// Releasing a dispute hold restores the status held before the dispute,
// hence the wide fan-out from StatusDisputed.
var transitions = map[PrefacturationStatus][]PrefacturationStatus{
	StatusDraft:               {StatusSentToIndustrial, StatusPending, StatusInvoiceAccepted, StatusDisputed},
	StatusPending:             {StatusValidatedIndustrial, StatusInvoiceAccepted, StatusDisputed},
	StatusSentToIndustrial:    {StatusValidatedIndustrial, StatusInvoiceAccepted, StatusDisputed},
	StatusValidatedIndustrial: {StatusInvoiceUploaded, StatusInvoiceAccepted, StatusPaid, StatusDisputed},
	StatusInvoiceUploaded:     {StatusInvoiceAccepted, StatusInvoiceRejected, StatusPaid, StatusDisputed},
	StatusInvoiceRejected:     {StatusInvoiceUploaded, StatusInvoiceAccepted, StatusDisputed},
	StatusInvoiceAccepted:     {StatusPaymentPending, StatusPaid, StatusInvoiced, StatusDisputed},
	StatusPaymentPending:      {StatusPaid, StatusInvoiced, StatusDisputed},
	StatusDisputed: {
		StatusDisputed, StatusDraft, StatusPending, StatusSentToIndustrial, StatusValidatedIndustrial,
		StatusInvoiceUploaded, StatusInvoiceRejected, StatusInvoiceAccepted, StatusPaymentPending,
	},
	StatusPaid:     {},
	StatusInvoiced: {},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to PrefacturationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for statuses that accept no further transition.
func (s PrefacturationStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsAccepted returns true once the pre-invoice has passed acceptance.
func (s PrefacturationStatus) IsAccepted() bool {
	switch s {
	case StatusInvoiceAccepted, StatusPaymentPending, StatusPaid, StatusInvoiced:
		return true
	}
	return false
}

// CountsDown returns true for statuses whose payment countdown is maintained.
func (s PrefacturationStatus) CountsDown() bool {
	switch s {
	case StatusValidatedIndustrial, StatusInvoiceAccepted, StatusPaymentPending:
		return true
	}
	return false
}

// AwaitsPayment returns true for statuses counted as outstanding receivables.
func (s PrefacturationStatus) AwaitsPayment() bool {
	switch s {
	case StatusPending, StatusSentToIndustrial, StatusValidatedIndustrial, StatusInvoiceUploaded,
		StatusInvoiceAccepted, StatusPaymentPending:
		return true
	}
	return false
}
