package identity

import (
	"context"
	"errors"

	"github.com/medportal/portal/internal/platform/apperr"
	"github.com/medportal/portal/internal/platform/auth"
)

// Resolver maps an authenticated user onto their domain identity. The user id
// in a token is never used as a patient or doctor id directly.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// PatientID returns the patient profile for userID, or a NotFound error when
// the account has none.
func (r *Resolver) PatientID(ctx context.Context, userID int64) (int64, error) {
	id, err := r.repo.PatientIDForUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return 0, apperr.NotFoundf("patient profile not found")
	}
	if err != nil {
		return 0, apperr.Wrap(err, "resolve patient")
	}
	return id, nil
}

// DoctorID returns the doctor profile for userID, or a NotFound error when the
// account has none.
func (r *Resolver) DoctorID(ctx context.Context, userID int64) (int64, error) {
	id, err := r.repo.DoctorIDForUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return 0, apperr.NotFoundf("doctor profile not found")
	}
	if err != nil {
		return 0, apperr.Wrap(err, "resolve doctor")
	}
	return id, nil
}

// Subject is the caller expressed in domain terms: exactly one of PatientID
// and DoctorID is set, matching Role.
type Subject struct {
	Role      auth.Role
	PatientID int64
	DoctorID  int64
}

// Resolve looks up the profile that matches the principal's role.
func (r *Resolver) Resolve(ctx context.Context, p *auth.Principal) (Subject, error) {
	if p == nil {
		return Subject{}, apperr.Forbiddenf("authentication required")
	}
	switch p.Role {
	case auth.RolePatient:
		id, err := r.PatientID(ctx, p.UserID)
		return Subject{Role: p.Role, PatientID: id}, err
	case auth.RoleProvider:
		id, err := r.DoctorID(ctx, p.UserID)
		return Subject{Role: p.Role, DoctorID: id}, err
	default:
		return Subject{}, apperr.Forbiddenf("role %q has no domain identity", p.Role)
	}
}

// Patient returns display data for a patient.
func (r *Resolver) Patient(ctx context.Context, patientID int64) (*Patient, error) {
	p, err := r.repo.GetPatient(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFoundf("patient %d not found", patientID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load patient")
	}
	return p, nil
}

// Doctor returns display data for a doctor.
func (r *Resolver) Doctor(ctx context.Context, doctorID int64) (*Doctor, error) {
	d, err := r.repo.GetDoctor(ctx, doctorID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFoundf("doctor %d not found", doctorID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load doctor")
	}
	return d, nil
}
