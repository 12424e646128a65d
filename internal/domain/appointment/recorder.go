package appointment

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Recorder appends delivery outcomes to the notification log. Rows are never
// updated; each attempt is a new row.
type Recorder struct {
	notes  NotificationRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewRecorder(notes NotificationRepository, logger zerolog.Logger) *Recorder {
	return &Recorder{notes: notes, logger: logger, now: time.Now}
}

// Record writes one row. Sent stamps sent_at with the current time; Failed
// leaves it NULL. It returns false when the row was skipped because the
// appointment was cancelled before the attempt could be logged as pending.
func (r *Recorder) Record(ctx context.Context, appointmentID int64, kind NotificationKind, outcome Outcome) (bool, error) {
	n := &Notification{AppointmentID: appointmentID, Kind: kind, Status: outcome}
	if outcome == OutcomeSent {
		at := r.now().UTC()
		n.SentAt = &at
	}
	ok, err := r.notes.Insert(ctx, n)
	if err != nil {
		return false, err
	}
	if !ok {
		r.logger.Debug().
			Int64("appointment_id", appointmentID).
			Str("kind", string(kind)).
			Msg("appointment cancelled, failed notification not recorded")
	}
	return ok, nil
}
