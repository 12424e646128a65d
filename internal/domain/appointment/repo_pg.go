package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medportal/portal/internal/platform/db"
)

// Date and time are read back as text so the wall-clock values never pass
// through a time.Time in some zone.
const apptCols = `appointment_id, patient_id, doctor_id,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI:SS'),
	status, created_at`

type appointmentRepoPG struct {
	pool *pgxpool.Pool
	// tz is the clinic zone name the procedure uses for its "in the past" check.
	tz string
}

func NewAppointmentRepoPG(pool *pgxpool.Pool, clinicTZ string) AppointmentRepository {
	if clinicTZ == "" {
		clinicTZ = "UTC"
	}
	return &appointmentRepoPG{pool: pool, tz: clinicTZ}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.AppointmentID, &a.PatientID, &a.DoctorID, &a.Date, &a.Time, &a.Status, &a.CreatedAt)
	return &a, err
}

func (r *appointmentRepoPG) Schedule(ctx context.Context, patientID, doctorID int64, date, clock string) (int64, error) {
	var id *int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT schedule_appointment($1, $2, $3::date, $4::time, $5)`,
		patientID, doctorID, date, clock, r.tz).Scan(&id)
	if db.IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, db.Classify(err)
	}
	if id == nil {
		return 0, nil
	}
	return *id, nil
}

func (r *appointmentRepoPG) get(ctx context.Context, id int64, lock bool) (*Appointment, error) {
	q := `SELECT ` + apptCols + ` FROM appointments WHERE appointment_id = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, q, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %d: %w", id, err)
	}
	return a, nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	return r.get(ctx, id, false)
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	return r.get(ctx, id, true)
}

func (r *appointmentRepoPG) SetStatus(ctx context.Context, id int64, status Status) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET status = $2, updated_at = NOW() WHERE appointment_id = $1`, id, string(status))
	if err != nil {
		return false, fmt.Errorf("update appointment %d: %w", id, db.Classify(err))
	}
	return tag.RowsAffected() > 0, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != 0 {
		add("patient_id = $%d", f.PatientID)
	}
	if f.DoctorID != 0 {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, limit, offset)
	q := fmt.Sprintf(`SELECT %s FROM appointments%s
		ORDER BY appointment_date DESC, appointment_time DESC, appointment_id DESC
		LIMIT $%d OFFSET $%d`, apptCols, clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) ReminderCandidates(ctx context.Context, date string, since time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointments a
		WHERE a.status = 'Scheduled'
		  AND a.appointment_date = $1::date
		  AND NOT EXISTS (
		      SELECT 1 FROM notifications n
		      WHERE n.appointment_id = a.appointment_id
		        AND n.status = 'Sent'
		        AND n.sent_at >= $2)
		ORDER BY a.appointment_time, a.appointment_id`, date, since)
	if err != nil {
		return nil, fmt.Errorf("query reminder candidates: %w", err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepoPG{pool: pool}
}

func (r *notificationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// Insert locks the appointment row in share mode, so a concurrent cancel
// either commits first (and the unsent row is skipped) or waits for this
// insert and then purges it.
func (r *notificationRepoPG) Insert(ctx context.Context, n *Notification) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notifications (appointment_id, kind, status, sent_at)
		SELECT a.appointment_id, $2, $3, $4
		FROM (SELECT appointment_id, status FROM appointments
		      WHERE appointment_id = $1 FOR SHARE) a
		WHERE $4::timestamptz IS NOT NULL OR a.status <> 'Cancelled'
		RETURNING notification_id, created_at`,
		n.AppointmentID, string(n.Kind), string(n.Status), n.SentAt).
		Scan(&n.NotificationID, &n.CreatedAt)
	if db.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", db.Classify(err))
	}
	return true, nil
}

func (r *notificationRepoPG) DeletePending(ctx context.Context, appointmentID int64) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM notifications WHERE appointment_id = $1 AND sent_at IS NULL`, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("delete pending notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepoPG) ListByAppointment(ctx context.Context, appointmentID int64) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT notification_id, appointment_id, kind, status, sent_at, created_at
		FROM notifications WHERE appointment_id = $1
		ORDER BY created_at, notification_id`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.NotificationID, &n.AppointmentID, &n.Kind, &n.Status, &n.SentAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &n)
	}
	return items, rows.Err()
}
