// Package wire assembles the object graph shared by the HTTP gateway and the escalation CLI.
package wire

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/campusiq-api/internal/handler"
	"github.com/noah-isme/campusiq-api/internal/repository"
	"github.com/noah-isme/campusiq-api/internal/service"
	"github.com/noah-isme/campusiq-api/pkg/cache"
	"github.com/noah-isme/campusiq-api/pkg/config"
	"github.com/noah-isme/campusiq-api/pkg/database"
	"github.com/noah-isme/campusiq-api/pkg/export"
	"github.com/noah-isme/campusiq-api/pkg/logger"
	"github.com/noah-isme/campusiq-api/pkg/mailer"
)

const (
	cachePrefix  = "campusiq:"
	sweepLockKey = "campusiq:escalation:lock"
)

// App holds the long-lived components built from configuration.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sqlx.DB
	Redis  *redis.Client

	Metrics     *service.MetricsService
	Hierarchy   *service.RoleHierarchy
	Dispatcher  *service.NotificationDispatcher
	Workflow    *service.WorkflowService
	Escalations *service.EscalationService
	Dashboard   *service.DashboardService
	Export      *service.ExportService
	Auth        *service.AuthService

	Handlers Handlers
}

// Handlers groups the HTTP handlers.
type Handlers struct {
	Permissions *handler.PermissionHandler
	Dashboard   *handler.DashboardHandler
	Escalations *handler.EscalationHandler
	Metrics     *handler.MetricsHandler
}

// Build connects to Postgres and Redis and constructs every service. Callers own Close.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return Assemble(cfg, log, db, rdb), nil
}

// Assemble wires services over already opened connections. rdb may be nil.
func Assemble(cfg *config.Config, log *zap.Logger, db *sqlx.DB, rdb *redis.Client) *App {
	if log == nil {
		log = zap.NewNop()
	}
	metrics := service.NewMetricsService()
	hierarchy := service.NewRoleHierarchy(cfg.Hierarchy.IncludeDean)
	policy := service.NewDeadlinePolicy(hierarchy, cfg.Escalation)

	requests := repository.NewPermissionRequestRepository(db)
	users := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(rdb, cachePrefix, logger.Component(log, "cache"))
	lock := repository.NewLockRepository(rdb, sweepLockKey, cfg.Escalation.LockTTL)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logger.Component(log, "cache"), rdb != nil)
	dashboard := service.NewDashboardService(requests, users, cacheSvc, service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL}, logger.Component(log, "dashboard"))

	channels := []service.NotificationChannel{}
	smtpMailer := mailer.NewSMTP(cfg.SMTP)
	if smtpMailer.Enabled() {
		channels = append(channels, service.NewEmailChannel(smtpMailer, users))
	}
	if cfg.Notifications.StreamEnabled {
		stream := repository.NewEventStreamRepository(rdb, cfg.Notifications.StreamName)
		if stream.Enabled() {
			channels = append(channels, service.NewStreamChannel(stream))
		} else {
			log.Warn("notification stream requested without redis; channel disabled")
		}
	}
	dispatcher := service.NewNotificationDispatcher(service.NotificationDispatcherConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, metrics, logger.Component(log, "notifications"), channels...)

	workflow := service.NewWorkflowService(service.WorkflowServiceParams{
		Store:     requests,
		Directory: users,
		Hierarchy: hierarchy,
		Policy:    policy,
		Notifier:  dispatcher,
		Dashboard: dashboard,
		Metrics:   metrics,
		Validator: validator.New(),
		Logger:    logger.Component(log, "workflow"),
	})

	escalations := service.NewEscalationService(service.EscalationServiceParams{
		Store:     requests,
		Directory: users,
		Hierarchy: hierarchy,
		Policy:    policy,
		Notifier:  dispatcher,
		Dashboard: dashboard,
		Locker:    lock,
		Metrics:   metrics,
		Logger:    logger.Component(log, "escalations"),
		Config: service.EscalationConfig{
			Interval:      cfg.Escalation.Interval,
			WarningWindow: cfg.Escalation.WarningWindow,
			RetryGrace:    cfg.Escalation.RetryGrace,
			BatchSize:     cfg.Escalation.BatchSize,
		},
	})

	exporter := service.NewExportService(workflow, users, logger.Component(log, "export"), export.NewCSVExporter(), nil)
	auth := service.NewAuthService(logger.Component(log, "auth"), service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	return &App{
		Config:      cfg,
		Logger:      log,
		DB:          db,
		Redis:       rdb,
		Metrics:     metrics,
		Hierarchy:   hierarchy,
		Dispatcher:  dispatcher,
		Workflow:    workflow,
		Escalations: escalations,
		Dashboard:   dashboard,
		Export:      exporter,
		Auth:        auth,
		Handlers: Handlers{
			Permissions: handler.NewPermissionHandler(workflow, exporter),
			Dashboard:   handler.NewDashboardHandler(dashboard),
			Escalations: handler.NewEscalationHandler(escalations),
			Metrics:     handler.NewMetricsHandler(metrics, checks),
		},
	}
}

// Close releases connections. Stop the dispatcher first so queued notifications drain.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("close postgres", zap.Error(err))
		}
	}
}
