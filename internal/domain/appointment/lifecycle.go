package appointment

import (
	"context"
	"errors"

	"github.com/medportal/portal/internal/domain/identity"
	"github.com/medportal/portal/internal/platform/apperr"
	"github.com/medportal/portal/internal/platform/auth"
)

// UpdateStatus sets the status of an appointment. Setting Cancelled purges
// pending notifications in the same transaction but sends no email; use
// Cancel for the patient-facing flow.
func (s *Service) UpdateStatus(ctx context.Context, p *auth.Principal, id int64, newStatus string) error {
	to, err := ParseStatus(newStatus)
	if err != nil {
		return apperr.Invalid("%s", err.Error())
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.lockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if err := s.policy.Allow(ctx, p, a, to); err != nil {
			return err
		}
		if err := checkTransition(a, to); err != nil {
			return err
		}
		if a.Status == to {
			return nil
		}
		return s.transition(ctx, a, to)
	})
	if err != nil {
		return s.lifecycleError(err, id, "update appointment status")
	}

	s.logger.Info().Int64("appointment_id", id).Str("status", string(to)).Msg("appointment status updated")
	return nil
}

// Cancel soft-deletes an appointment: the status flip and the purge of
// unsent notifications commit together, then the cancellation email is
// attempted. Cancelling an already cancelled appointment changes nothing.
func (s *Service) Cancel(ctx context.Context, p *auth.Principal, id int64) error {
	var cancelled *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.lockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if err := s.policy.Allow(ctx, p, a, StatusCancelled); err != nil {
			return err
		}
		if a.Status == StatusCancelled {
			return nil
		}
		if err := s.transition(ctx, a, StatusCancelled); err != nil {
			return err
		}
		cancelled = a
		return nil
	})
	if err != nil {
		return s.lifecycleError(err, id, "cancel appointment")
	}

	if cancelled == nil {
		s.logger.Debug().Int64("appointment_id", id).Msg("appointment already cancelled")
		return nil
	}
	s.logger.Info().Int64("appointment_id", id).Msg("appointment cancelled")
	s.dispatch.Deliver(context.WithoutCancel(ctx), cancelled, KindCancellation)
	return nil
}

func (s *Service) lockAppointment(ctx context.Context, id int64) (*Appointment, error) {
	a, err := s.appts.GetForUpdate(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFoundf("appointment %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// transition must run inside a transaction.
func (s *Service) transition(ctx context.Context, a *Appointment, to Status) error {
	ok, err := s.appts.SetStatus(ctx, a.AppointmentID, to)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFoundf("appointment %d not found", a.AppointmentID)
	}
	a.Status = to
	if to != StatusCancelled {
		return nil
	}
	purged, err := s.notes.DeletePending(ctx, a.AppointmentID)
	if err != nil {
		return err
	}
	if purged > 0 {
		s.logger.Debug().Int64("appointment_id", a.AppointmentID).Int64("purged", purged).Msg("pending notifications purged")
	}
	return nil
}

func (s *Service) lifecycleError(err error, id int64, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind != apperr.Internal {
		return err
	}
	s.logger.Error().Err(err).Int64("appointment_id", id).Msg(op + " failed")
	return apperr.Wrap(err, op)
}

// Get returns one appointment if the caller is its patient or its doctor.
func (s *Service) Get(ctx context.Context, p *auth.Principal, id int64) (*Appointment, error) {
	subj, err := s.dir.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	a, err := s.appts.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFoundf("appointment %d not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "get appointment")
	}
	if !involves(subj, a) {
		return nil, apperr.Forbiddenf("appointment %d is not yours", id)
	}
	return a, nil
}

// List returns the caller's appointments: a patient's bookings or a doctor's
// schedule.
func (s *Service) List(ctx context.Context, p *auth.Principal, status string, limit, offset int) ([]*Appointment, int, error) {
	subj, err := s.dir.Resolve(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	f := ListFilter{PatientID: subj.PatientID, DoctorID: subj.DoctorID}
	if status != "" {
		st, err := ParseStatus(status)
		if err != nil {
			return nil, 0, apperr.Invalid("%s", err.Error())
		}
		f.Status = st
	}
	items, total, err := s.appts.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(err, "list appointments")
	}
	return items, total, nil
}

// Notifications returns the delivery log of an appointment to its doctor.
func (s *Service) Notifications(ctx context.Context, p *auth.Principal, id int64) ([]*Notification, error) {
	a, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	items, err := s.notes.ListByAppointment(ctx, a.AppointmentID)
	if err != nil {
		return nil, apperr.Wrap(err, "list notifications")
	}
	return items, nil
}

func involves(subj identity.Subject, a *Appointment) bool {
	switch subj.Role {
	case auth.RolePatient:
		return subj.PatientID == a.PatientID
	case auth.RoleProvider:
		return subj.DoctorID == a.DoctorID
	}
	return false
}
