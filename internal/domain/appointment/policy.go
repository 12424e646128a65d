package appointment

import (
	"context"
	"fmt"

	"github.com/medportal/portal/internal/platform/apperr"
	"github.com/medportal/portal/internal/platform/auth"
)

const (
	PolicyAuthenticated = "authenticated"
	PolicyOwnership     = "ownership"
)

// StatusPolicy decides whether the principal may move a to the given status.
// It gates both status updates and cancellation.
type StatusPolicy interface {
	Allow(ctx context.Context, p *auth.Principal, a *Appointment, to Status) error
}

// NewStatusPolicy returns the policy registered under name.
func NewStatusPolicy(name string, dir Directory) (StatusPolicy, error) {
	switch name {
	case "", PolicyAuthenticated:
		return AuthenticatedPolicy{}, nil
	case PolicyOwnership:
		return &OwnershipPolicy{dir: dir}, nil
	default:
		return nil, fmt.Errorf("unknown status update policy %q", name)
	}
}

// AuthenticatedPolicy lets any Patient or Provider set any status.
type AuthenticatedPolicy struct{}

func (AuthenticatedPolicy) Allow(_ context.Context, p *auth.Principal, _ *Appointment, _ Status) error {
	if p == nil || !auth.Allowed(p.Role, auth.RolePatient, auth.RoleProvider) {
		return apperr.Forbiddenf("authentication required")
	}
	return nil
}

// OwnershipPolicy restricts providers to their own appointments, and patients
// to cancelling their own.
type OwnershipPolicy struct {
	dir Directory
}

func NewOwnershipPolicy(dir Directory) *OwnershipPolicy {
	return &OwnershipPolicy{dir: dir}
}

func (o *OwnershipPolicy) Allow(ctx context.Context, p *auth.Principal, a *Appointment, to Status) error {
	if p == nil {
		return apperr.Forbiddenf("authentication required")
	}
	subj, err := o.dir.Resolve(ctx, p)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return apperr.Forbiddenf("no profile for this account")
		}
		return err
	}
	switch subj.Role {
	case auth.RoleProvider:
		if a.DoctorID != subj.DoctorID {
			return apperr.Forbiddenf("appointment %d belongs to another doctor", a.AppointmentID)
		}
	case auth.RolePatient:
		if a.PatientID != subj.PatientID {
			return apperr.Forbiddenf("appointment %d belongs to another patient", a.AppointmentID)
		}
		if to != StatusCancelled {
			return apperr.Forbiddenf("patients may only cancel appointments")
		}
	default:
		return apperr.Forbiddenf("role %q may not change appointments", subj.Role)
	}
	return nil
}

// checkTransition rejects moving a cancelled appointment to any other status.
func checkTransition(a *Appointment, to Status) error {
	if a.Status == StatusCancelled && to != StatusCancelled {
		return apperr.Invalid("appointment %d is cancelled and cannot change status", a.AppointmentID)
	}
	return nil
}
