package models

import "time"

// Student represents a learner registered in the institution.
type Student struct {
	ID         string    `db:"id" json:"id"`
	NIS        string    `db:"nis" json:"nis"`
	FullName   string    `db:"full_name" json:"full_name"`
	Gender     string    `db:"gender" json:"gender"`
	BirthPlace string    `db:"birth_place" json:"birth_place"`
	BirthDate  time.Time `db:"birth_date" json:"birth_date"`
	Address    string    `db:"address" json:"address"`
	Phone      string    `db:"phone" json:"phone"`
	PhotoURL   *string   `db:"photo_url" json:"photo_url,omitempty"`
	ClassID    *string   `db:"class_id" json:"class_id,omitempty"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFromApplicant copies the identity fields of an applicant.
func StudentFromApplicant(a *Applicant, nis string) *Student {
	return &Student{
		NIS:        nis,
		FullName:   a.FullName,
		Gender:     a.Gender,
		BirthPlace: a.BirthPlace,
		BirthDate:  a.BirthDate,
		Address:    a.Address,
		Phone:      a.Phone,
		Active:     true,
	}
}

// Admission is the outcome of accepting an applicant.
type Admission struct {
	Student   *Student    `json:"student"`
	Account   AccountInfo `json:"account"`
	Applicant *Applicant  `json:"applicant"`
}

// StudentFilter provides filters for listing students.
type StudentFilter struct {
	ClassID   string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
