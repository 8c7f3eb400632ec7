package models

import "time"

// ChargeStatus is the cached settlement state stored on a charge.
type ChargeStatus string

const (
	ChargeUnpaid  ChargeStatus = "UNPAID"
	ChargePartial ChargeStatus = "PARTIAL"
	ChargePaid    ChargeStatus = "PAID"
)

// SettlementLabel is the label shown next to each charge in a listing.
type SettlementLabel string

const (
	LabelSettled     SettlementLabel = "LUNAS"
	LabelInstallment SettlementLabel = "CICIL"
	LabelUnpaid      SettlementLabel = "BELUM_BAYAR"
)

// Label maps the status onto its listing label.
func (s ChargeStatus) Label() SettlementLabel {
	switch s {
	case ChargePaid:
		return LabelSettled
	case ChargePartial:
		return LabelInstallment
	default:
		return LabelUnpaid
	}
}

// Tariff is a named, priced obligation scoped to a term. Nominal is in the
// smallest currency unit.
type Tariff struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Nominal   int64     `db:"nominal" json:"nominal"`
	TermID    string    `db:"term_id" json:"term_id"`
	Recurring bool      `db:"recurring" json:"recurring"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Charge links one student to one tariff, optionally for a given month.
type Charge struct {
	ID        string       `db:"id" json:"id"`
	StudentID string       `db:"student_id" json:"student_id"`
	TariffID  string       `db:"tariff_id" json:"tariff_id"`
	TermID    string       `db:"term_id" json:"term_id"`
	Month     *int         `db:"month" json:"month,omitempty"`
	Status    ChargeStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// ChargeDetail is a charge row enriched with its tariff and pooled payments.
type ChargeDetail struct {
	Charge
	TariffName string          `db:"tariff_name" json:"tariff_name"`
	Nominal    int64           `db:"nominal" json:"nominal"`
	TotalPaid  int64           `db:"total_paid" json:"total_paid"`
	Label      SettlementLabel `db:"-" json:"label"`
}

// Payment is an append-only record of money applied to a charge.
type Payment struct {
	ID         string    `db:"id" json:"id"`
	ChargeID   string    `db:"charge_id" json:"charge_id"`
	Amount     int64     `db:"amount" json:"amount"`
	PaidAt     time.Time `db:"paid_at" json:"paid_at"`
	Method     string    `db:"method" json:"method"`
	Note       string    `db:"note" json:"note"`
	RecordedBy *string   `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PaymentDetail adds charge context to a payment for student ledgers.
type PaymentDetail struct {
	Payment
	TariffID   string `db:"tariff_id" json:"tariff_id"`
	TariffName string `db:"tariff_name" json:"tariff_name"`
	Month      *int   `db:"month" json:"month,omitempty"`
}

// Settlement is the derived paid/unpaid state of a (student, tariff) pair.
type Settlement struct {
	StudentID   string          `json:"student_id"`
	TariffID    string          `json:"tariff_id"`
	Nominal     int64           `json:"nominal"`
	TotalPaid   int64           `json:"total_paid"`
	Outstanding int64           `json:"outstanding"`
	Credit      int64           `json:"credit"`
	Settled     bool            `json:"settled"`
	Status      ChargeStatus    `json:"status"`
	Label       SettlementLabel `json:"label"`
}

// Settle classifies totalPaid against nominal. Settled is exactly totalPaid >= nominal.
func Settle(studentID, tariffID string, nominal, totalPaid int64) Settlement {
	s := Settlement{
		StudentID: studentID,
		TariffID:  tariffID,
		Nominal:   nominal,
		TotalPaid: totalPaid,
		Settled:   totalPaid >= nominal,
	}
	switch {
	case s.Settled:
		s.Status = ChargePaid
		s.Credit = totalPaid - nominal
	case totalPaid > 0:
		s.Status = ChargePartial
		s.Outstanding = nominal - totalPaid
	default:
		s.Status = ChargeUnpaid
		s.Outstanding = nominal
	}
	s.Label = s.Status.Label()
	return s
}
