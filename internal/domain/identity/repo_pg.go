package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medportal/portal/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) lookupID(ctx context.Context, query string, userID int64) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, query, userID).Scan(&id)
	if db.IsNoRows(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repoPG) PatientIDForUser(ctx context.Context, userID int64) (int64, error) {
	return r.lookupID(ctx, `SELECT patient_id FROM patients WHERE user_id = $1`, userID)
}

func (r *repoPG) DoctorIDForUser(ctx context.Context, userID int64) (int64, error) {
	return r.lookupID(ctx, `SELECT doctor_id FROM doctors WHERE user_id = $1`, userID)
}

func (r *repoPG) GetPatient(ctx context.Context, patientID int64) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.patient_id, p.user_id, u.first_name, u.last_name, u.email
		FROM patients p JOIN users u ON u.user_id = p.user_id
		WHERE p.patient_id = $1`, patientID).
		Scan(&p.PatientID, &p.UserID, &p.FirstName, &p.LastName, &p.Email)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %d: %w", patientID, err)
	}
	return &p, nil
}

func (r *repoPG) GetDoctor(ctx context.Context, doctorID int64) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT d.doctor_id, d.user_id, u.first_name, u.last_name, u.email, COALESCE(d.specialty, '')
		FROM doctors d JOIN users u ON u.user_id = d.user_id
		WHERE d.doctor_id = $1`, doctorID).
		Scan(&d.DoctorID, &d.UserID, &d.FirstName, &d.LastName, &d.Email, &d.Specialty)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor %d: %w", doctorID, err)
	}
	return &d, nil
}
