package identity

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no profile matches.
var ErrNotFound = errors.New("identity: not found")

// Repository reads the Users -> Patients / Doctors mapping. It never writes.
type Repository interface {
	PatientIDForUser(ctx context.Context, userID int64) (int64, error)
	DoctorIDForUser(ctx context.Context, userID int64) (int64, error)
	GetPatient(ctx context.Context, patientID int64) (*Patient, error)
	GetDoctor(ctx context.Context, doctorID int64) (*Doctor, error)
}
