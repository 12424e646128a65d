package records

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/medportal/portal/internal/domain/identity"
	"github.com/medportal/portal/internal/platform/apperr"
	"github.com/medportal/portal/internal/platform/auth"
	"github.com/medportal/portal/internal/platform/filestore"
)

// Directory is the identity lookup used for upload and download checks.
type Directory interface {
	Resolve(ctx context.Context, p *auth.Principal) (identity.Subject, error)
	Patient(ctx context.Context, patientID int64) (*identity.Patient, error)
}

type Service struct {
	repo   Repository
	store  filestore.FileStore
	signer *filestore.Signer
	dir    Directory
	logger zerolog.Logger
}

func NewService(repo Repository, store filestore.FileStore, signer *filestore.Signer, dir Directory, logger zerolog.Logger) *Service {
	return &Service{repo: repo, store: store, signer: signer, dir: dir, logger: logger}
}

type UploadInput struct {
	PatientID   int64
	Description string
	FileName    string
	ContentType string
	Content     io.Reader
}

// Upload stores a file for a patient on behalf of the calling provider.
func (s *Service) Upload(ctx context.Context, p *auth.Principal, in UploadInput) (*Record, error) {
	subj, err := s.dir.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	if subj.Role != auth.RoleProvider {
		return nil, apperr.Forbiddenf("only providers can upload records")
	}
	if in.PatientID <= 0 {
		return nil, apperr.Invalid("patient_id is required")
	}
	if _, err := s.dir.Patient(ctx, in.PatientID); err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, apperr.Invalid("patient %d does not exist", in.PatientID)
		}
		return nil, err
	}

	obj, err := s.store.Put(ctx, filestore.Object{FileName: in.FileName, ContentType: in.ContentType}, in.Content)
	switch {
	case errors.Is(err, filestore.ErrMissingFileName),
		errors.Is(err, filestore.ErrInvalidContentType),
		errors.Is(err, filestore.ErrFileTooLarge):
		return nil, apperr.Invalid("%s", err.Error())
	case err != nil:
		return nil, apperr.Wrap(err, "store record file")
	}

	rec := &Record{
		PatientID:   in.PatientID,
		DoctorID:    subj.DoctorID,
		FileKey:     obj.Key,
		FileName:    obj.FileName,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		Hash:        obj.Hash,
		Description: in.Description,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if delErr := s.store.Delete(ctx, obj.Key); delErr != nil {
			s.logger.Warn().Err(delErr).Str("file_key", obj.Key).Msg("orphaned record file")
		}
		return nil, apperr.Wrap(err, "save record")
	}

	s.logger.Info().
		Int64("record_id", rec.RecordID).
		Int64("patient_id", rec.PatientID).
		Int64("doctor_id", rec.DoctorID).
		Int64("size", rec.Size).
		Msg("medical record uploaded")
	return rec, nil
}

// Link issues a signed download URL. Patients may only fetch their own
// records; any provider may fetch any record.
func (s *Service) Link(ctx context.Context, p *auth.Principal, id int64) (*Link, error) {
	subj, err := s.dir.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFoundf("record %d not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "get record")
	}
	if subj.Role == auth.RolePatient && rec.PatientID != subj.PatientID {
		return nil, apperr.Forbiddenf("record %d is not yours", id)
	}

	token, exp, err := s.signer.Sign(rec.FileKey)
	if err != nil {
		return nil, apperr.Wrap(err, "sign download link")
	}
	return &Link{URL: "/files/" + token, ExpiresAt: exp}, nil
}
