package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medportal/portal/internal/platform/lock"
)

const sweepLockKey = "reminder-sweep"

type SweepConfig struct {
	// Window is how far back a Sent notification suppresses a reminder.
	Window   time.Duration
	Location *time.Location
	LockTTL  time.Duration
}

// SweepResult summarizes one run.
type SweepResult struct {
	Date       string `json:"date"`
	Candidates int    `json:"candidates"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	// LockBusy is set when another replica held the sweep lock and nothing ran.
	LockBusy bool `json:"lock_busy"`
}

// ReminderSweep sends day-ahead reminders for Scheduled appointments.
type ReminderSweep struct {
	appts    AppointmentRepository
	dispatch *Dispatcher
	locker   lock.Locker
	cfg      SweepConfig
	logger   zerolog.Logger
	now      func() time.Time
}

func NewReminderSweep(appts AppointmentRepository, dispatch *Dispatcher, locker lock.Locker,
	cfg SweepConfig, logger zerolog.Logger) *ReminderSweep {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &ReminderSweep{
		appts:    appts,
		dispatch: dispatch,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Tomorrow returns the calendar date after now in the clinic time zone.
func (r *ReminderSweep) Tomorrow() string {
	return r.now().In(r.cfg.Location).AddDate(0, 0, 1).Format(dateLayout)
}

// Run performs one sweep. An error means the sweep could not start; failures
// on individual appointments are counted and logged, never returned.
func (r *ReminderSweep) Run(ctx context.Context) (SweepResult, error) {
	res := SweepResult{Date: r.Tomorrow()}

	lease, ok, err := r.locker.TryAcquire(ctx, sweepLockKey, r.cfg.LockTTL)
	if err != nil {
		return res, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		res.LockBusy = true
		r.logger.Info().Str("date", res.Date).Msg("reminder sweep already running elsewhere")
		return res, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			r.logger.Warn().Err(err).Msg("release sweep lock")
		}
	}()

	since := r.now().Add(-r.cfg.Window)
	candidates, err := r.appts.ReminderCandidates(ctx, res.Date, since)
	if err != nil {
		return res, fmt.Errorf("select reminder candidates: %w", err)
	}
	res.Candidates = len(candidates)

	for _, a := range candidates {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		switch r.remind(ctx, a) {
		case OutcomeSent:
			res.Sent++
		case OutcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	r.logger.Info().
		Str("date", res.Date).
		Int("candidates", res.Candidates).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Msg("reminder sweep finished")
	return res, nil
}

// remind handles one appointment. It returns "" when the appointment was
// skipped. A panic is contained to the item.
func (r *ReminderSweep) remind(ctx context.Context, a *Appointment) (outcome Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Int64("appointment_id", a.AppointmentID).Interface("panic", p).Msg("reminder panicked")
			outcome = OutcomeFailed
		}
	}()

	cur, err := r.appts.GetByID(ctx, a.AppointmentID)
	if err != nil {
		r.logger.Warn().Err(err).Int64("appointment_id", a.AppointmentID).Msg("reminder re-check failed")
		return ""
	}
	if cur.Status != StatusScheduled {
		r.logger.Debug().Int64("appointment_id", a.AppointmentID).Str("status", string(cur.Status)).Msg("reminder skipped")
		return ""
	}
	return r.dispatch.Deliver(ctx, cur, KindReminder)
}
