package identity

import "strings"

// Patient is the patient profile linked to a user account.
type Patient struct {
	PatientID int64  `json:"patient_id"`
	UserID    int64  `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

func (p *Patient) FullName() string {
	return fullName(p.FirstName, p.LastName)
}

// Doctor is the provider profile linked to a user account.
type Doctor struct {
	DoctorID  int64  `json:"doctor_id"`
	UserID    int64  `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Specialty string `json:"specialty,omitempty"`
}

func (d *Doctor) FullName() string {
	return fullName(d.FirstName, d.LastName)
}

func fullName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}
