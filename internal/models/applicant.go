package models

import "time"

// DocumentStatus tracks completeness of an applicant's submitted documents.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "PENDING"
	DocumentComplete   DocumentStatus = "COMPLETE"
	DocumentIncomplete DocumentStatus = "INCOMPLETE"
)

// Valid reports whether d is a known document status.
func (d DocumentStatus) Valid() bool {
	switch d {
	case DocumentPending, DocumentComplete, DocumentIncomplete:
		return true
	}
	return false
}

// RegistrationPaymentStatus tracks the registration fee of an applicant.
type RegistrationPaymentStatus string

const (
	RegistrationUnpaid RegistrationPaymentStatus = "UNPAID"
	RegistrationPaid   RegistrationPaymentStatus = "PAID"
)

// Valid reports whether p is a known payment status.
func (p RegistrationPaymentStatus) Valid() bool {
	return p == RegistrationUnpaid || p == RegistrationPaid
}

// ApplicantState is the lifecycle position of an applicant.
type ApplicantState string

const (
	ApplicantSubmitted ApplicantState = "SUBMITTED"
	ApplicantAccepted  ApplicantState = "ACCEPTED"
	ApplicantRejected  ApplicantState = "REJECTED"
)

// applicantTransitions lists the moves each state allows. A state mapping to
// itself is an idempotent no-op.
var applicantTransitions = map[ApplicantState]map[ApplicantState]bool{
	ApplicantSubmitted: {ApplicantAccepted: true, ApplicantRejected: true},
	ApplicantAccepted:  {},
	ApplicantRejected:  {ApplicantRejected: true},
}

// CanTransition reports whether an applicant in state s may move to next.
func (s ApplicantState) CanTransition(next ApplicantState) bool {
	return applicantTransitions[s][next]
}

// Terminal reports whether no further review is possible.
func (s ApplicantState) Terminal() bool {
	return s == ApplicantAccepted || s == ApplicantRejected
}

// Applicant is a prospective student's registration record.
type Applicant struct {
	ID             string                    `db:"id" json:"id"`
	FullName       string                    `db:"full_name" json:"full_name"`
	Email          string                    `db:"email" json:"email"`
	Phone          string                    `db:"phone" json:"phone"`
	BirthPlace     string                    `db:"birth_place" json:"birth_place"`
	BirthDate      time.Time                 `db:"birth_date" json:"birth_date"`
	Gender         string                    `db:"gender" json:"gender"`
	Address        string                    `db:"address" json:"address"`
	FatherName     string                    `db:"father_name" json:"father_name"`
	MotherName     string                    `db:"mother_name" json:"mother_name"`
	GuardianName   *string                   `db:"guardian_name" json:"guardian_name,omitempty"`
	PreviousSchool string                    `db:"previous_school" json:"previous_school"`
	TermID         string                    `db:"term_id" json:"term_id"`
	DocumentStatus DocumentStatus            `db:"document_status" json:"document_status"`
	PaymentStatus  RegistrationPaymentStatus `db:"payment_status" json:"payment_status"`
	State          ApplicantState            `db:"state" json:"state"`
	StudentID      *string                   `db:"student_id" json:"student_id,omitempty"`
	CreatedAt      time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                 `db:"updated_at" json:"updated_at"`
}

// Converted reports whether the applicant already produced a student.
func (a *Applicant) Converted() bool {
	return a.StudentID != nil && *a.StudentID != ""
}

// ApplicantDetail enriches Applicant with term and student context.
type ApplicantDetail struct {
	Applicant
	TermName   string  `db:"term_name" json:"term_name"`
	StudentNIS *string `db:"student_nis" json:"student_nis,omitempty"`
}

// ApplicantStatusView is the public projection returned by status lookup.
type ApplicantStatusView struct {
	FullName       string                    `db:"full_name" json:"full_name"`
	DocumentStatus DocumentStatus            `db:"document_status" json:"document_status"`
	PaymentStatus  RegistrationPaymentStatus `db:"payment_status" json:"payment_status"`
	State          ApplicantState            `db:"state" json:"state"`
	TermName       string                    `db:"term_name" json:"term_name"`
}

// ApplicantFilter provides filters for listing applicants.
type ApplicantFilter struct {
	TermID         string
	State          ApplicantState
	DocumentStatus DocumentStatus
	Search         string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
