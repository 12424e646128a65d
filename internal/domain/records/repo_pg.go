package records

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

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_records (patient_id, doctor_id, file_key, file_name, content_type, size_bytes, sha256, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING record_id, created_at`,
		rec.PatientID, rec.DoctorID, rec.FileKey, rec.FileName, rec.ContentType, rec.Size, rec.Hash, rec.Description).
		Scan(&rec.RecordID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert medical record: %w", db.Classify(err))
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Record, error) {
	var rec Record
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT record_id, patient_id, doctor_id, file_key, file_name, content_type, size_bytes, sha256,
		       COALESCE(description, ''), created_at
		FROM medical_records WHERE record_id = $1`, id).
		Scan(&rec.RecordID, &rec.PatientID, &rec.DoctorID, &rec.FileKey, &rec.FileName, &rec.ContentType,
			&rec.Size, &rec.Hash, &rec.Description, &rec.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medical record %d: %w", id, err)
	}
	return &rec, nil
}
