package appointment

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/medportal/portal/internal/domain/identity"
	"github.com/medportal/portal/internal/platform/auth"
	"github.com/medportal/portal/internal/platform/db"
)

// Directory is the identity lookup the appointment domain depends on.
// *identity.Resolver implements it.
type Directory interface {
	Resolve(ctx context.Context, p *auth.Principal) (identity.Subject, error)
	PatientID(ctx context.Context, userID int64) (int64, error)
	Patient(ctx context.Context, patientID int64) (*identity.Patient, error)
	Doctor(ctx context.Context, doctorID int64) (*identity.Doctor, error)
}

type Service struct {
	appts    AppointmentRepository
	notes    NotificationRepository
	tx       db.TxRunner
	dir      Directory
	dispatch *Dispatcher
	policy   StatusPolicy
	logger   zerolog.Logger
}

func NewService(appts AppointmentRepository, notes NotificationRepository, tx db.TxRunner,
	dir Directory, dispatch *Dispatcher, policy StatusPolicy, logger zerolog.Logger) *Service {
	if policy == nil {
		policy = AuthenticatedPolicy{}
	}
	return &Service{
		appts:    appts,
		notes:    notes,
		tx:       tx,
		dir:      dir,
		dispatch: dispatch,
		policy:   policy,
		logger:   logger,
	}
}
