package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// DocumentType is a carrier regulatory document kind.
type DocumentType string

const (
	DocURSSAF    DocumentType = "urssaf"
	DocAssurance DocumentType = "assurance"
	DocLicence   DocumentType = "licence"
	DocKBIS      DocumentType = "kbis"
	DocOther     DocumentType = "other"
)

// MandatoryDocuments must all be present and valid for a carrier to be compliant.
var MandatoryDocuments = []DocumentType{DocURSSAF, DocAssurance, DocLicence, DocKBIS}

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	switch t {
	case DocURSSAF, DocAssurance, DocLicence, DocKBIS, DocOther:
		return true
	}
	return false
}

// DocumentStatus is derived from the expiry date.
type DocumentStatus string

const (
	DocumentValid        DocumentStatus = "valid"
	DocumentExpiringSoon DocumentStatus = "expiring_soon"
	DocumentExpired      DocumentStatus = "expired"
	DocumentMissing      DocumentStatus = "missing"
)

// VerificationStatus records the manual review of a document.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// ComplianceStatus is the overall vigilance verdict for a carrier.
type ComplianceStatus string

const (
	Compliant    ComplianceStatus = "compliant"
	Warning      ComplianceStatus = "warning"
	NonCompliant ComplianceStatus = "non_compliant"
)

// VigilanceDocument is one regulatory document uploaded by a carrier.
type VigilanceDocument struct {
	ID                 string             `json:"id"`
	Type               DocumentType       `json:"type"`
	Number             string             `json:"number,omitempty"`
	IssueDate          *time.Time         `json:"issue_date,omitempty"`
	ExpiryDate         *time.Time         `json:"expiry_date,omitempty"`
	Status             DocumentStatus     `json:"status"`
	AlertDays          int                `json:"alert_days"`
	File               FileRef            `json:"file"`
	UploadedAt         time.Time          `json:"uploaded_at"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerifiedBy         string             `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	RejectionReason    string             `json:"rejection_reason,omitempty"`
}

// ComplianceSummary holds counts derived from the document set.
type ComplianceSummary struct {
	HasURSSAF     bool `json:"has_urssaf"`
	HasAssurance  bool `json:"has_assurance"`
	HasLicence    bool `json:"has_licence"`
	HasKBIS       bool `json:"has_kbis"`
	ExpiringCount int  `json:"expiring_count"`
	ExpiredCount  int  `json:"expired_count"`
	MissingCount  int  `json:"missing_count"`
	AllValid      bool `json:"all_valid"`
}

// VigilanceAlert is raised when a document enters a degraded status.
// Key identifies the alert as document|status|day.
type VigilanceAlert struct {
	Key          string         `json:"key"`
	DocumentID   string         `json:"document_id"`
	DocumentType DocumentType   `json:"document_type"`
	Status       DocumentStatus `json:"status"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	Date         time.Time      `json:"date"`
	Acknowledged bool           `json:"acknowledged"`
}

// BillingRestrictions gates billing for the carrier.
type BillingRestrictions struct {
	IsBlocked    bool       `json:"is_blocked"`
	Reason       string     `gorm:"size:500" json:"reason,omitempty"`
	BlockedSince *time.Time `json:"blocked_since,omitempty"`
	Manual       bool       `json:"manual"`
}

// CarrierVigilance is the compliance file of a carrier.
type CarrierVigilance struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `gorm:"not null;default:1" json:"version"`

	CarrierID   string `gorm:"size:64;uniqueIndex" json:"carrier_id"`
	CarrierName string `gorm:"size:255" json:"carrier_name"`
	TaxID       string `gorm:"size:64" json:"tax_id,omitempty"`

	Documents     datatypes.JSONSlice[VigilanceDocument] `json:"documents"`
	Compliance    ComplianceSummary                      `gorm:"embedded;embeddedPrefix:compliance_" json:"compliance"`
	OverallStatus ComplianceStatus                       `gorm:"size:20;index" json:"overall_status"`
	LastCheckDate *time.Time                             `json:"last_check_date,omitempty"`
	Alerts        datatypes.JSONSlice[VigilanceAlert]    `json:"alerts,omitempty"`
	Restrictions  BillingRestrictions                    `gorm:"embedded;embeddedPrefix:restriction_" json:"billing_restrictions"`
}

// Document returns the document with the given id.
func (v *CarrierVigilance) Document(id string) (*VigilanceDocument, bool) {
	for i := range v.Documents {
		if v.Documents[i].ID == id {
			return &v.Documents[i], true
		}
	}
	return nil, false
}

// HasAlert reports whether an alert with key was already raised.
func (v *CarrierVigilance) HasAlert(key string) bool {
	for _, a := range v.Alerts {
		if a.Key == key {
			return true
		}
	}
	return false
}

// StatusAt derives the document status at now. A document without expiry
// date stays valid. alertDays <= 0 falls back to defaultAlertDays.
func (d VigilanceDocument) StatusAt(now time.Time, defaultAlertDays int) DocumentStatus {
	if d.ExpiryDate == nil {
		return DocumentValid
	}
	if d.ExpiryDate.Before(now) {
		return DocumentExpired
	}
	days := d.AlertDays
	if days <= 0 {
		days = defaultAlertDays
	}
	if d.ExpiryDate.Sub(now) <= time.Duration(days)*24*time.Hour {
		return DocumentExpiringSoon
	}
	return DocumentValid
}

// AlertKey identifies an alert by document, status and day.
func AlertKey(documentID string, status DocumentStatus, at time.Time) string {
	return documentID + "|" + string(status) + "|" + at.Format("2006-01-02")
}

func (v *CarrierVigilance) alertedFor(documentID string, status DocumentStatus) bool {
	for _, a := range v.Alerts {
		if a.DocumentID == documentID && a.Status == status {
			return true
		}
	}
	return false
}

// Recompute re-derives every document status, the compliance summary and
// the overall status from the document set. It appends an alert for each
// document entering expired or expiring_soon and returns the new alerts.
// Running it twice on an unchanged set raises nothing the second time.
func (v *CarrierVigilance) Recompute(now time.Time, defaultAlertDays int) []VigilanceAlert {
	var summary ComplianceSummary
	var raised []VigilanceAlert
	present := make(map[DocumentType]bool, len(v.Documents))
	degraded := false

	for i := range v.Documents {
		d := &v.Documents[i]
		prev := d.Status
		d.Status = d.StatusAt(now, defaultAlertDays)
		present[d.Type] = true

		var severity Severity
		var message string
		switch d.Status {
		case DocumentExpired:
			summary.ExpiredCount++
			severity = SeverityCritical
			message = fmt.Sprintf("Document %s expired", d.Type)
		case DocumentExpiringSoon:
			summary.ExpiringCount++
			severity = SeverityHigh
			message = fmt.Sprintf("Document %s expires on %s", d.Type, d.ExpiryDate.Format("02/01/2006"))
		default:
			continue
		}
		degraded = true

		key := AlertKey(d.ID, d.Status, now)
		if v.HasAlert(key) || (prev == d.Status && v.alertedFor(d.ID, d.Status)) {
			continue
		}
		alert := VigilanceAlert{
			Key:          key,
			DocumentID:   d.ID,
			DocumentType: d.Type,
			Status:       d.Status,
			Severity:     severity,
			Message:      message,
			Date:         now,
		}
		v.Alerts = append(v.Alerts, alert)
		raised = append(raised, alert)
	}

	summary.HasURSSAF = present[DocURSSAF]
	summary.HasAssurance = present[DocAssurance]
	summary.HasLicence = present[DocLicence]
	summary.HasKBIS = present[DocKBIS]
	for _, t := range MandatoryDocuments {
		if !present[t] {
			summary.MissingCount++
		}
	}
	summary.AllValid = !degraded && summary.MissingCount == 0
	v.Compliance = summary

	switch {
	case summary.ExpiredCount > 0:
		v.OverallStatus = NonCompliant
	case summary.AllValid:
		v.OverallStatus = Compliant
	default:
		v.OverallStatus = Warning
	}
	v.LastCheckDate = &now
	return raised
}
