package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medportal/portal/internal/config"
	"github.com/medportal/portal/internal/domain/appointment"
	"github.com/medportal/portal/internal/domain/identity"
	"github.com/medportal/portal/internal/domain/records"
	"github.com/medportal/portal/internal/platform/auth"
	"github.com/medportal/portal/internal/platform/db"
	"github.com/medportal/portal/internal/platform/filestore"
	"github.com/medportal/portal/internal/platform/lock"
	"github.com/medportal/portal/internal/platform/notification"
)

// devSigningKey is only used when ENV=development and no key is configured.
const devSigningKey = "portal-development-signing-key"

// app holds every long-lived client. Each is built once here and injected.
type app struct {
	pool    *pgxpool.Pool
	closers []func() error
	logger  zerolog.Logger

	authn              auth.Authenticator
	sweep              *appointment.ReminderSweep
	appointmentHandler *appointment.Handler
	recordHandler      *records.Handler
	downloads          *filestore.DownloadHandler
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	iso, err := db.ParseIsolation(cfg.DBTxIsolation)
	if err != nil {
		return nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	a := &app{pool: pool, logger: logger}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeNotifier != nil {
		a.closers = append(a.closers, closeNotifier)
	}

	locker, err := a.newLocker(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := filestore.NewDiskFileStore(cfg.FileStoreDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	jwtKey, fileKey := cfg.JWTSecret, cfg.FileStoreSigningKey
	if cfg.IsDev() {
		if jwtKey == "" {
			jwtKey = devSigningKey
		}
		if fileKey == "" {
			fileKey = devSigningKey
		}
	}
	signer := filestore.NewSigner([]byte(fileKey), cfg.FileStoreURLTTL)
	a.authn = auth.NewJWTAuthenticator(auth.JWTConfig{SigningKey: []byte(jwtKey), Issuer: cfg.JWTIssuer})

	loc := cfg.Location()
	resolver := identity.NewResolver(identity.NewRepoPG(pool))
	apptRepo := appointment.NewAppointmentRepoPG(pool, cfg.ClinicTimezone)
	noteRepo := appointment.NewNotificationRepoPG(pool)

	recorder := appointment.NewRecorder(noteRepo, logger)
	dispatch := appointment.NewDispatcher(resolver, notifier, notification.NewTemplateEngine(), recorder, loc, logger)
	policy, err := appointment.NewStatusPolicy(cfg.StatusUpdatePolicy, resolver)
	if err != nil {
		a.Close()
		return nil, err
	}
	svc := appointment.NewService(apptRepo, noteRepo, db.NewTxRunner(pool, iso), resolver, dispatch, policy, logger)

	a.appointmentHandler = appointment.NewHandler(svc)
	a.sweep = appointment.NewReminderSweep(apptRepo, dispatch, locker, appointment.SweepConfig{
		Window:   cfg.ReminderDedupeWindow,
		Location: loc,
		LockTTL:  10 * time.Minute,
	}, logger.With().Str("component", "reminder_sweep").Logger())

	recordSvc := records.NewService(records.NewRepoPG(pool), store, signer, resolver, logger)
	a.recordHandler = records.NewHandler(recordSvc)
	a.downloads = filestore.NewDownloadHandler(store, signer)

	logger.Info().
		Str("notifier", cfg.Notifier).
		Str("status_policy", cfg.StatusUpdatePolicy).
		Bool("redis_lock", cfg.RedisURL != "").
		Msg("components initialized")
	return a, nil
}

func newNotifier(cfg *config.Config, logger zerolog.Logger) (notification.Notifier, func() error, error) {
	switch cfg.Notifier {
	case "smtp":
		return notification.NewSMTPNotifier(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger), nil, nil
	case "amqp":
		n, err := notification.DialAMQP(notification.AMQPConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			RoutingKey: cfg.AMQPEmailRoutingKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	case "log", "":
		return notification.NewLogNotifier(logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}

func (a *app) newLocker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	if cfg.RedisURL == "" {
		return lock.NoopLocker{}, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return lock.NewRedisLocker(client), nil
}

// Close releases clients in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}
