package appointment

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when the appointment does not exist.
var ErrNotFound = errors.New("appointment not found")

// ListFilter narrows a listing to one patient or one doctor.
type ListFilter struct {
	PatientID int64
	DoctorID  int64
	Status    Status
}

type AppointmentRepository interface {
	// Schedule calls the booking procedure. Rule violations come back as
	// *db.ProcedureError.
	Schedule(ctx context.Context, patientID, doctorID int64, date, clock string) (int64, error)
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	// GetForUpdate locks the row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id int64) (*Appointment, error)
	// SetStatus reports false when no row has the id.
	SetStatus(ctx context.Context, id int64, status Status) (bool, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	// ReminderCandidates returns Scheduled appointments on date with no Sent
	// notification at or after since.
	ReminderCandidates(ctx context.Context, date string, since time.Time) ([]*Appointment, error)
}

type NotificationRepository interface {
	// Insert appends a row. Unsent rows for a Cancelled appointment are not
	// written; inserted is false in that case.
	Insert(ctx context.Context, n *Notification) (inserted bool, err error)
	DeletePending(ctx context.Context, appointmentID int64) (int64, error)
	ListByAppointment(ctx context.Context, appointmentID int64) ([]*Notification, error)
}
