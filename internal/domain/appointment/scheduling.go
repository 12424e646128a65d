package appointment

import (
	"context"
	"fmt"

	"github.com/medportal/portal/internal/platform/apperr"
	"github.com/medportal/portal/internal/platform/auth"
	"github.com/medportal/portal/internal/platform/db"
)

// Business-rule codes raised by schedule_appointment.
const (
	CodeInPast       = 50001
	CodeDoctorBusy   = 50002
	CodePatientBusy  = 50003
	CodeOutsideHours = 50004
	CodeDailyLimit   = 50005
	CodeWeekend      = 50006
)

var guardCodes = map[int]bool{
	CodeInPast:       true,
	CodeDoctorBusy:   true,
	CodePatientBusy:  true,
	CodeOutsideHours: true,
	CodeDailyLimit:   true,
	CodeWeekend:      true,
}

type ScheduleRequest struct {
	DoctorID int64  `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

// Schedule books an appointment for the calling patient. The confirmation
// email is attempted after the booking exists; its outcome only shows up in
// the notification log.
func (s *Service) Schedule(ctx context.Context, p *auth.Principal, req ScheduleRequest) (int64, error) {
	if p == nil {
		return 0, apperr.Forbiddenf("authentication required")
	}
	if req.DoctorID <= 0 {
		return 0, apperr.Invalid("doctor_id is required")
	}
	date, err := ValidateDate(req.Date)
	if err != nil {
		return 0, apperr.Invalid("%s", err.Error())
	}
	clock, err := NormalizeTime(req.Time)
	if err != nil {
		return 0, apperr.Invalid("%s", err.Error())
	}

	patientID, err := s.dir.PatientID(ctx, p.UserID)
	if err != nil {
		return 0, err
	}

	id, err := s.appts.Schedule(ctx, patientID, req.DoctorID, date, clock)
	if err != nil {
		return 0, classifyScheduleError(err, req.DoctorID)
	}
	if id == 0 {
		return 0, apperr.Wrap(nil, "scheduling procedure returned no appointment id")
	}

	s.logger.Info().
		Int64("appointment_id", id).
		Int64("patient_id", patientID).
		Int64("doctor_id", req.DoctorID).
		Msg("appointment scheduled")

	a := &Appointment{
		AppointmentID: id,
		PatientID:     patientID,
		DoctorID:      req.DoctorID,
		Date:          date,
		Time:          clock,
		Status:        StatusScheduled,
	}
	s.dispatch.Deliver(context.WithoutCancel(ctx), a, KindConfirmation)
	return id, nil
}

func classifyScheduleError(err error, doctorID int64) error {
	pe, ok := db.AsProcedureError(err)
	if !ok {
		return apperr.Wrap(err, "schedule appointment")
	}
	switch {
	case guardCodes[pe.Code]:
		return &apperr.Error{Kind: apperr.InvalidRequest, Message: pe.Message, Err: err}
	case pe.Code == db.CodeForeignKeyViolation:
		return &apperr.Error{Kind: apperr.InvalidRequest, Message: fmt.Sprintf("doctor %d does not exist", doctorID), Err: err}
	default:
		return apperr.Wrap(err, "schedule appointment")
	}
}
