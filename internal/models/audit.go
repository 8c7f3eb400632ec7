package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionApplicantAccept  = "APPLICANT_ACCEPT"
	AuditActionApplicantReject  = "APPLICANT_REJECT"
	AuditActionApplicantReview  = "APPLICANT_REVIEW"
	AuditActionPaymentRecord    = "PAYMENT_RECORD"
	AuditActionAccountProvision = "ACCOUNT_PROVISION"
	AuditActionPasswordReset    = "PASSWORD_RESET"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	AccountID  *string   `db:"account_id" json:"account_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
