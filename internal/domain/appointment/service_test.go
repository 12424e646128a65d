package appointment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/medportal/portal/internal/platform/apperr"
	"github.com/medportal/portal/internal/platform/db"
)

func TestSchedule_BookThenCancelThenSweep(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	ctx := context.Background()

	id, err := f.svc.Schedule(ctx, janePatient, ScheduleRequest{DoctorID: 5, Date: "2025-09-02", Time: "12:00"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if id == 0 {
		t.Fatal("expected an appointment id")
	}

	a, err := f.svc.Get(ctx, janePatient, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.PatientID != 7 || a.DoctorID != 5 || a.Time != "12:00:00" || a.Status != StatusScheduled {
		t.Errorf("unexpected appointment %+v", a)
	}

	notes := f.store.notesFor(id)
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification row after booking, got %d", len(notes))
	}
	if notes[0].Kind != KindConfirmation || notes[0].Status != OutcomeSent || notes[0].SentAt == nil {
		t.Errorf("unexpected confirmation row %+v", notes[0])
	}
	calls := f.mailer.Calls()
	if len(calls) != 1 || calls[0].To != "jane@example.com" {
		t.Fatalf("expected confirmation to jane, got %+v", calls)
	}
	if !strings.Contains(calls[0].Body, "Tuesday, September 2, 2025 at 12:00 PM EDT") {
		t.Errorf("confirmation body missing display time: %s", calls[0].Body)
	}

	if err := f.svc.Cancel(ctx, janePatient, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := f.store.status(id); got != StatusCancelled {
		t.Errorf("status = %s, want Cancelled", got)
	}

	res, err := f.sweep.Run(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Candidates != 0 || res.Sent != 0 {
		t.Errorf("sweep acted on a cancelled appointment: %+v", res)
	}
	if n := f.emailsTo("jane@example.com", "Appointment Reminder"); n != 0 {
		t.Errorf("expected no reminder, got %d", n)
	}
}

func TestSchedule_FailedConfirmationIsRecorded(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	f.mailer.SetFailing(true)

	id, err := f.svc.Schedule(context.Background(), janePatient, ScheduleRequest{DoctorID: 5, Date: "2025-09-02", Time: "12:00:00"})
	if err != nil {
		t.Fatalf("email failure must not fail booking: %v", err)
	}
	notes := f.store.notesFor(id)
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification row, got %d", len(notes))
	}
	if notes[0].Status != OutcomeFailed || notes[0].SentAt != nil {
		t.Errorf("expected Failed row with NULL sent_at, got %+v", notes[0])
	}
}

type panickingNotifier struct{}

func (panickingNotifier) Send(context.Context, string, string, string) error {
	panic("smtp client bug")
}

func TestSchedule_PanickingNotifierIsRecordedAsFailed(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	f.svc.dispatch.notifier = panickingNotifier{}
	ctx := context.Background()

	id, err := f.svc.Schedule(ctx, janePatient, ScheduleRequest{DoctorID: 5, Date: "2025-09-02", Time: "12:00"})
	if err != nil {
		t.Fatalf("notifier panic must not fail booking: %v", err)
	}
	notes := f.store.notesFor(id)
	if len(notes) != 1 || notes[0].Status != OutcomeFailed || notes[0].SentAt != nil {
		t.Fatalf("expected one Failed row, got %+v", notes)
	}

	if err := f.svc.Cancel(ctx, janePatient, id); err != nil {
		t.Fatalf("notifier panic must not fail cancel: %v", err)
	}
	if got := f.store.status(id); got != StatusCancelled {
		t.Errorf("status = %s, want Cancelled", got)
	}
	if n := f.store.pendingFor(id); n != 0 {
		t.Errorf("cancelled appointment has %d pending rows", n)
	}
}

func TestSchedule_CancelPurgesFailedConfirmationBeforeSweep(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	ctx := context.Background()
	f.mailer.SetFailing(true)

	id, err := f.svc.Schedule(ctx, janePatient, ScheduleRequest{DoctorID: 5, Date: "2025-09-02", Time: "12:00"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if f.store.pendingFor(id) != 1 {
		t.Fatal("expected a pending row from the failed confirmation")
	}

	f.mailer.SetFailing(false)
	if err := f.svc.Cancel(ctx, janePatient, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if n := f.store.pendingFor(id); n != 0 {
		t.Errorf("cancelled appointment still has %d pending rows", n)
	}

	res, _ := f.sweep.Run(ctx)
	if res.Sent != 0 || f.emailsTo("jane@example.com", "Appointment Reminder") != 0 {
		t.Errorf("sweep reminded a cancelled appointment: %+v", res)
	}
}

func TestSchedule_GuardCodes(t *testing.T) {
	messages := map[int]string{
		CodeInPast:       "Cannot schedule an appointment in the past",
		CodeDoctorBusy:   "Doctor already has an appointment at this time",
		CodePatientBusy:  "Patient already has an appointment at this time",
		CodeOutsideHours: "Appointments must be between 08:00 and 18:00",
		CodeDailyLimit:   "Patient already has 3 appointments on this day",
		CodeWeekend:      "Appointments cannot be scheduled on weekends",
	}
	for code, msg := range messages {
		f := newFixture(t, PolicyAuthenticated)
		f.store.scheduleErr = &db.ProcedureError{Code: code, Message: msg}

		_, err := f.svc.Schedule(context.Background(), janePatient, ScheduleRequest{DoctorID: 5, Date: "2025-09-02", Time: "12:00"})
		if !apperr.Is(err, apperr.InvalidRequest) {
			t.Errorf("code %d: expected InvalidRequest, got %v", code, err)
			continue
		}
		if got := apperr.ToHTTP(err).Message; got != msg {
			t.Errorf("code %d: message = %v, want verbatim %q", code, got, msg)
		}
		if len(f.mailer.Calls()) != 0 {
			t.Errorf("code %d: rejected booking sent an email", code)
		}
	}
}

func TestSchedule_UnknownDoctorIsInvalidRequest(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	_, err := f.svc.Schedule(context.Background(), janePatient, ScheduleRequest{DoctorID: 99, Date: "2025-09-02", Time: "12:00"})
	if !apperr.Is(err, apperr.InvalidRequest) {
		t.Fatalf("expected InvalidRequest for FK violation, got %v", err)
	}
}

func TestSchedule_DoubleBooking(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	ctx := context.Background()
	req := ScheduleRequest{DoctorID: 5, Date: "2025-09-02", Time: "12:00"}
	if _, err := f.svc.Schedule(ctx, janePatient, req); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	_, err := f.svc.Schedule(ctx, johnPatient, req)
	if !apperr.Is(err, apperr.InvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "Doctor already has an appointment") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestSchedule_OtherDatabaseErrorsAreInternal(t *testing.T) {
	for _, schedErr := range []error{
		&db.ProcedureError{Code: db.CodeSerializationFailure, Message: "could not serialize access"},
		&db.ProcedureError{Code: 0, SQLState: "P0001", Message: "raise"},
		errBoom,
	} {
		f := newFixture(t, PolicyAuthenticated)
		f.store.scheduleErr = schedErr
		_, err := f.svc.Schedule(context.Background(), janePatient, ScheduleRequest{DoctorID: 5, Date: "2025-09-02", Time: "12:00"})
		if !apperr.Is(err, apperr.Internal) {
			t.Errorf("%v: expected Internal, got %v", schedErr, err)
		}
		if !errors.Is(err, schedErr) {
			t.Errorf("%v: cause should be preserved", schedErr)
		}
	}
}

func TestSchedule_MissingIDIsInternal(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	f.store.scheduleZero = true
	_, err := f.svc.Schedule(context.Background(), janePatient, ScheduleRequest{DoctorID: 5, Date: "2025-09-02", Time: "12:00"})
	if !apperr.Is(err, apperr.Internal) {
		t.Fatalf("expected Internal, got %v", err)
	}
	if len(f.mailer.Calls()) != 0 {
		t.Error("no email expected without an appointment id")
	}
}

func TestSchedule_Validation(t *testing.T) {
	tests := []ScheduleRequest{
		{DoctorID: 0, Date: "2025-09-02", Time: "12:00"},
		{DoctorID: 5, Date: "", Time: "12:00"},
		{DoctorID: 5, Date: "2025-13-02", Time: "12:00"},
		{DoctorID: 5, Date: "2025-09-02", Time: "12:0"},
		{DoctorID: 5, Date: "2025-09-02", Time: "24:00"},
	}
	for _, req := range tests {
		f := newFixture(t, PolicyAuthenticated)
		_, err := f.svc.Schedule(context.Background(), janePatient, req)
		if !apperr.Is(err, apperr.InvalidRequest) {
			t.Errorf("%+v: expected InvalidRequest, got %v", req, err)
		}
		if f.store.scheduleCalls != 0 {
			t.Errorf("%+v: procedure called for invalid input", req)
		}
	}
}

func TestSchedule_NoPatientProfile(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	_, err := f.svc.Schedule(context.Background(), houseDoctor, ScheduleRequest{DoctorID: 5, Date: "2025-09-02", Time: "12:00"})
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if f.store.scheduleCalls != 0 {
		t.Error("procedure must not run without a patient identity")
	}
}

func TestCancel_NotFoundWritesNothing(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	err := f.svc.Cancel(context.Background(), janePatient, 4242)
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if f.store.writes != 0 {
		t.Errorf("expected no writes, got %d", f.store.writes)
	}
	if len(f.mailer.Calls()) != 0 {
		t.Error("no email expected")
	}
}

func TestCancel_PurgesOnlyPendingRows(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	a := f.store.seed(Appointment{PatientID: 7, DoctorID: 5, Date: "2025-09-02", Time: "12:00:00"})
	sent := f.now.Add(-48 * time.Hour)
	f.store.seedNote(a.AppointmentID, KindConfirmation, &sent)
	f.store.seedNote(a.AppointmentID, KindReminder, nil)

	if err := f.svc.Cancel(context.Background(), janePatient, a.AppointmentID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	notes := f.store.notesFor(a.AppointmentID)
	if len(notes) != 2 {
		t.Fatalf("expected sent confirmation plus cancellation row, got %+v", notes)
	}
	for _, n := range notes {
		if n.SentAt == nil {
			t.Errorf("pending row survived cancellation: %+v", n)
		}
	}
	if notes[1].Kind != KindCancellation {
		t.Errorf("expected cancellation row, got %s", notes[1].Kind)
	}
	if f.emailsTo("jane@example.com", "Appointment Cancelled") != 1 {
		t.Error("expected one cancellation email")
	}
}

func TestCancel_Idempotent(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	a := f.store.seed(Appointment{PatientID: 7, DoctorID: 5, Date: "2025-09-02", Time: "12:00:00"})
	ctx := context.Background()

	if err := f.svc.Cancel(ctx, janePatient, a.AppointmentID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	before := len(f.store.notesFor(a.AppointmentID))
	if err := f.svc.Cancel(ctx, janePatient, a.AppointmentID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if got := len(f.mailer.Calls()); got != 1 {
		t.Errorf("expected one cancellation email, got %d", got)
	}
	if got := len(f.store.notesFor(a.AppointmentID)); got != before {
		t.Errorf("notification rows changed on repeat cancel: %d -> %d", before, got)
	}
}

func TestCancel_FailedEmailLeavesNoPendingRow(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	a := f.store.seed(Appointment{PatientID: 7, DoctorID: 5, Date: "2025-09-02", Time: "12:00:00"})
	f.mailer.SetFailing(true)

	if err := f.svc.Cancel(context.Background(), janePatient, a.AppointmentID); err != nil {
		t.Fatalf("email failure must not fail cancel: %v", err)
	}
	if n := f.store.pendingFor(a.AppointmentID); n != 0 {
		t.Errorf("cancelled appointment has %d pending rows", n)
	}
}

func TestCancel_RollsBackWhenPurgeFails(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	a := f.store.seed(Appointment{PatientID: 7, DoctorID: 5, Date: "2025-09-02", Time: "12:00:00"})
	f.store.seedNote(a.AppointmentID, KindConfirmation, nil)
	f.store.deletePending = errBoom

	err := f.svc.Cancel(context.Background(), janePatient, a.AppointmentID)
	if !apperr.Is(err, apperr.Internal) {
		t.Fatalf("expected Internal, got %v", err)
	}
	if got := f.store.status(a.AppointmentID); got != StatusScheduled {
		t.Errorf("status flip was not rolled back: %s", got)
	}
	if f.tx.rolled != 1 {
		t.Errorf("expected one rollback, got %d", f.tx.rolled)
	}
	if len(f.mailer.Calls()) != 0 {
		t.Error("no email expected after rollback")
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	ctx := context.Background()
	a := f.store.seed(Appointment{PatientID: 7, DoctorID: 5, Date: "2025-09-02", Time: "12:00:00"})

	if err := f.svc.UpdateStatus(ctx, houseDoctor, a.AppointmentID, "Completed"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got := f.store.status(a.AppointmentID); got != StatusCompleted {
		t.Errorf("status = %s, want Completed", got)
	}

	if err := f.svc.UpdateStatus(ctx, houseDoctor, a.AppointmentID, "Done"); !apperr.Is(err, apperr.InvalidRequest) {
		t.Errorf("expected InvalidRequest for unknown status, got %v", err)
	}
	if err := f.svc.UpdateStatus(ctx, houseDoctor, 4242, "Completed"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestUpdateStatus_ToCancelledPurgesWithoutEmail(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	a := f.store.seed(Appointment{PatientID: 7, DoctorID: 5, Date: "2025-09-02", Time: "12:00:00"})
	f.store.seedNote(a.AppointmentID, KindConfirmation, nil)

	if err := f.svc.UpdateStatus(context.Background(), houseDoctor, a.AppointmentID, "Cancelled"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if f.store.pendingFor(a.AppointmentID) != 0 {
		t.Error("pending rows not purged")
	}
	if len(f.mailer.Calls()) != 0 {
		t.Error("status update must not send email")
	}
}

func TestUpdateStatus_NoTransitionOutOfCancelled(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	a := f.store.seed(Appointment{PatientID: 7, DoctorID: 5, Date: "2025-09-02", Time: "12:00:00", Status: StatusCancelled})

	for _, to := range []string{"Scheduled", "Completed"} {
		err := f.svc.UpdateStatus(context.Background(), houseDoctor, a.AppointmentID, to)
		if !apperr.Is(err, apperr.InvalidRequest) {
			t.Errorf("Cancelled -> %s: expected InvalidRequest, got %v", to, err)
		}
	}
	if got := f.store.status(a.AppointmentID); got != StatusCancelled {
		t.Errorf("status = %s, want Cancelled", got)
	}
	if err := f.svc.UpdateStatus(context.Background(), houseDoctor, a.AppointmentID, "Cancelled"); err != nil {
		t.Errorf("Cancelled -> Cancelled should be a no-op, got %v", err)
	}
}

func TestGet_OnlyParticipants(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	ctx := context.Background()
	a := f.store.seed(Appointment{PatientID: 7, DoctorID: 5, Date: "2025-09-02", Time: "12:00:00"})

	if _, err := f.svc.Get(ctx, janePatient, a.AppointmentID); err != nil {
		t.Errorf("patient: %v", err)
	}
	if _, err := f.svc.Get(ctx, houseDoctor, a.AppointmentID); err != nil {
		t.Errorf("doctor: %v", err)
	}
	if _, err := f.svc.Get(ctx, johnPatient, a.AppointmentID); !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("other patient: expected Forbidden, got %v", err)
	}
	if _, err := f.svc.Get(ctx, cuddyDoctor, a.AppointmentID); !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("other doctor: expected Forbidden, got %v", err)
	}
	if _, err := f.svc.Get(ctx, orphanDoctor, a.AppointmentID); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("no profile: expected NotFound, got %v", err)
	}
}

func TestList_ScopedToCaller(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	ctx := context.Background()
	f.store.seed(Appointment{PatientID: 7, DoctorID: 5, Date: "2025-09-02", Time: "09:00:00"})
	f.store.seed(Appointment{PatientID: 7, DoctorID: 6, Date: "2025-09-02", Time: "10:00:00", Status: StatusCancelled})
	f.store.seed(Appointment{PatientID: 8, DoctorID: 5, Date: "2025-09-03", Time: "11:00:00"})

	items, total, err := f.svc.List(ctx, janePatient, "", 20, 0)
	if err != nil || total != 2 || len(items) != 2 {
		t.Errorf("patient list = %d/%d, %v", len(items), total, err)
	}
	_, total, _ = f.svc.List(ctx, janePatient, "Scheduled", 20, 0)
	if total != 1 {
		t.Errorf("filtered total = %d, want 1", total)
	}
	_, total, _ = f.svc.List(ctx, houseDoctor, "", 20, 0)
	if total != 2 {
		t.Errorf("doctor total = %d, want 2", total)
	}
	if _, _, err := f.svc.List(ctx, janePatient, "bogus", 20, 0); !apperr.Is(err, apperr.InvalidRequest) {
		t.Errorf("expected InvalidRequest for bad status, got %v", err)
	}
}

func TestNotifications_AuditTrail(t *testing.T) {
	f := newFixture(t, PolicyAuthenticated)
	ctx := context.Background()
	id, err := f.svc.Schedule(ctx, janePatient, ScheduleRequest{DoctorID: 5, Date: "2025-09-02", Time: "12:00"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	items, err := f.svc.Notifications(ctx, houseDoctor, id)
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(items) != 1 || items[0].Kind != KindConfirmation {
		t.Errorf("unexpected trail %+v", items)
	}
	if _, err := f.svc.Notifications(ctx, cuddyDoctor, id); !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("expected Forbidden for other doctor, got %v", err)
	}
}
