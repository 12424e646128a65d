package appointment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/medportal/portal/internal/platform/notification"
)

var templateFor = map[NotificationKind]string{
	KindConfirmation: notification.TemplateConfirmation,
	KindReminder:     notification.TemplateReminder,
	KindCancellation: notification.TemplateCancellation,
}

// Dispatcher is the best-effort send-then-record path shared by booking,
// cancellation and the reminder sweep. Nothing it does is reported to the
// caller except through the returned outcome and the notification log.
type Dispatcher struct {
	dir       Directory
	notifier  notification.Notifier
	templates *notification.TemplateEngine
	recorder  *Recorder
	loc       *time.Location
	logger    zerolog.Logger
}

func NewDispatcher(dir Directory, notifier notification.Notifier, templates *notification.TemplateEngine,
	recorder *Recorder, loc *time.Location, logger zerolog.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		dir:       dir,
		notifier:  notifier,
		templates: templates,
		recorder:  recorder,
		loc:       loc,
		logger:    logger,
	}
}

// Deliver emails the patient about a and records the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, a *Appointment, kind NotificationKind) Outcome {
	outcome := OutcomeSent
	if err := d.trySend(ctx, a, kind); err != nil {
		outcome = OutcomeFailed
		d.logger.Warn().Err(err).
			Int64("appointment_id", a.AppointmentID).
			Str("kind", string(kind)).
			Msg("notification email failed")
	}
	if _, err := d.recorder.Record(ctx, a.AppointmentID, kind, outcome); err != nil {
		d.logger.Warn().Err(err).
			Int64("appointment_id", a.AppointmentID).
			Str("kind", string(kind)).
			Str("outcome", string(outcome)).
			Msg("failed to record notification")
	}
	return outcome
}

// trySend turns a panic in the directory or notifier into an error so the
// outcome is still recorded and the caller's request is unaffected.
func (d *Dispatcher) trySend(ctx context.Context, a *Appointment, kind NotificationKind) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("notification send panicked: %v", p)
		}
	}()
	return d.send(ctx, a, kind)
}

func (d *Dispatcher) send(ctx context.Context, a *Appointment, kind NotificationKind) error {
	tmpl, ok := templateFor[kind]
	if !ok {
		return fmt.Errorf("no template for notification kind %q", kind)
	}
	patient, err := d.dir.Patient(ctx, a.PatientID)
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}
	if patient.Email == "" {
		return notification.ErrNoRecipient
	}
	doctor, err := d.dir.Doctor(ctx, a.DoctorID)
	if err != nil {
		return fmt.Errorf("load doctor: %w", err)
	}
	when, err := DisplayTime(a.Date, a.Time, d.loc)
	if err != nil {
		return err
	}

	subject, body, err := d.templates.Render(tmpl, map[string]string{
		"patient_name":   patient.FullName(),
		"doctor_name":    doctor.FullName(),
		"when":           when,
		"appointment_id": strconv.FormatInt(a.AppointmentID, 10),
	})
	if err != nil {
		return err
	}
	return d.notifier.Send(ctx, patient.Email, subject, body)
}
