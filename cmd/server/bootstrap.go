package main

import (
	"context"
	"time"

	"github.com/trackflow/trackflow/internal/config"
	"github.com/trackflow/trackflow/internal/handlers"
	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/provider"
	"github.com/trackflow/trackflow/internal/services"
	"github.com/trackflow/trackflow/internal/store"
	"github.com/trackflow/trackflow/internal/utils"
	"github.com/trackflow/trackflow/internal/vault"
	"github.com/trackflow/trackflow/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	taskQueue services.TaskQueue
	worker    *services.Worker
	scheduler *services.SyncScheduler

	authHandler       *handlers.AuthHandler
	oauthHandler      *handlers.OAuthHandler
	repositoryHandler *handlers.RepositoryHandler
	webhookHandler    *handlers.WebhookHandler
	healthHandler     *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, credential
// vault, provider registry, sync engine and schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	// Initialize system logger
	services.InitSystemLogger(models.GetDB())

	// Start system log cleanup scheduler
	services.StartLogCleanupScheduler(models.GetDB())

	v, err := vault.New(cfg.Vault.Key)
	if err != nil {
		logger.Fatalf("Failed to initialize credential vault: %v", err)
	}

	registry := provider.NewRegistry(&cfg.Providers, cfg.Server.PublicURL)

	db := models.GetDB()
	connections := store.NewConnectionStore(db)
	operations := store.NewOperationStore(db)
	issues := store.NewIssueStore(db)
	projects := store.NewProjectStore(db)

	pageTimeout := time.Duration(cfg.Sync.PageTimeoutSeconds) * time.Second
	oauthTimeout := time.Duration(cfg.Sync.OAuthTimeoutSeconds) * time.Second
	stateTTL := time.Duration(cfg.Sync.StateTTLMinutes) * time.Minute

	codec := services.NewStateCodec(cfg.JWT.Secret, stateTTL)
	importer := services.NewIssueImporter(issues, pageTimeout)

	// Task queue (Redis-backed asynq when enabled, in-process otherwise)
	taskQueue := services.NewTaskQueue(cfg)

	syncService := services.NewSyncService(
		connections, operations, registry, importer, v,
		taskQueue, services.GetSSEHub(), pageTimeout,
	)

	processor := func(ctx context.Context, task *services.SyncTask) error {
		return syncService.ExecuteOperation(ctx, task.OperationID)
	}
	if inline, ok := taskQueue.(*services.InlineQueue); ok {
		inline.SetProcessor(processor)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.NewWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(processor)
			worker.Start()
		}
	}

	connectionService := services.NewConnectionService(
		connections, projects, registry, v, codec,
		cfg.Server.PublicURL, oauthTimeout,
	)

	// Scheduled refresh of stale connections
	scheduler := services.NewSyncScheduler(connections, syncService, &cfg.Sync)
	scheduler.Start()

	// Create default admin user
	authHandler := handlers.NewAuthHandler(db, cfg)
	if err := authHandler.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		taskQueue:         taskQueue,
		worker:            worker,
		scheduler:         scheduler,
		authHandler:       authHandler,
		oauthHandler:      handlers.NewOAuthHandler(connectionService),
		repositoryHandler: handlers.NewRepositoryHandler(connectionService, syncService),
		webhookHandler:    handlers.NewWebhookHandler(connectionService, syncService, registry),
		healthHandler:     handlers.NewHealthHandler(taskQueue),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	services.StopLogCleanupScheduler()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
