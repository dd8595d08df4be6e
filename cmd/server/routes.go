package main

import (
	"github.com/gin-gonic/gin"
	"github.com/trackflow/trackflow/internal/handlers"
	"github.com/trackflow/trackflow/internal/middleware"
	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/services"
	"github.com/trackflow/trackflow/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for webhook routes
	webhookLimiter := middleware.NewRateLimiter(10, 20)

	// Health check
	r.GET("/health", svc.healthHandler.CheckHealth)

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/login", svc.authHandler.Login)
		}

		// OAuth consent callback: the provider redirects the browser here,
		// so no session token is available. State validation happens inside.
		api.GET("/oauth/callback", svc.oauthHandler.Callback)

		// SSE Events (public route with internal token validation)
		sseHandler := handlers.NewSSEHandler(services.GetSSEHub())
		api.GET("/events/operations", sseHandler.StreamOperationEvents)

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.POST("/auth/password", svc.authHandler.ChangePassword)

			// OAuth link flow entry point
			protected.GET("/oauth/authorize", svc.oauthHandler.Authorize)

			// Dashboard (all users)
			dashboardHandler := handlers.NewDashboardHandler(models.GetDB())
			protected.GET("/dashboard/stats", dashboardHandler.GetStats)

			// Projects (read for all users)
			projectHandler := handlers.NewProjectHandler(models.GetDB())
			protected.GET("/projects", projectHandler.List)
			protected.GET("/projects/:id", projectHandler.GetByID)

			// Repository connections
			protected.GET("/projects/:id/repositories", svc.repositoryHandler.ListByProject)
			protected.POST("/projects/:id/repositories", svc.repositoryHandler.Connect)
			protected.GET("/repositories/:id", svc.repositoryHandler.Get)
			protected.POST("/repositories/:id/sync", svc.repositoryHandler.Sync)
			protected.GET("/repositories/:id/operations/:operation_id", svc.repositoryHandler.GetOperation)
			protected.POST("/repositories/:id/operations/:operation_id/cancel", svc.repositoryHandler.CancelOperation)

			// Sync operation history
			protected.GET("/sync-operations", svc.repositoryHandler.ListOperations)

			// Issues (read only; writes come from sync)
			issueHandler := handlers.NewIssueHandler(models.GetDB())
			protected.GET("/issues", issueHandler.List)
			protected.GET("/issues/:id", issueHandler.GetByID)

			// System Config (read for all users)
			systemConfigHandler := handlers.NewSystemConfigHandler(models.GetDB())
			protected.GET("/system-configs", systemConfigHandler.GetByGroup)
		}

		// Admin only routes
		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			// Projects (write operations)
			projectHandler := handlers.NewProjectHandler(models.GetDB())
			admin.POST("/projects", projectHandler.Create)
			admin.PUT("/projects/:id", projectHandler.Update)
			admin.DELETE("/projects/:id", projectHandler.Delete)

			// Users
			userHandler := handlers.NewUserHandler(models.GetDB())
			admin.GET("/users", userHandler.List)
			admin.PUT("/users/:id", userHandler.Update)
			admin.DELETE("/users/:id", userHandler.Delete)

			// System Config (write operations)
			systemConfigHandler := handlers.NewSystemConfigHandler(models.GetDB())
			admin.PUT("/system-configs", systemConfigHandler.Set)

			// System Logs
			systemLogHandler := handlers.NewSystemLogHandler(models.GetDB())
			admin.GET("/system-logs", systemLogHandler.List)
			admin.GET("/system-logs/modules", systemLogHandler.GetModules)
			admin.GET("/system-logs/retention", systemLogHandler.GetRetention)
			admin.PUT("/system-logs/retention", systemLogHandler.UpdateRetention)
			admin.POST("/system-logs/cleanup", systemLogHandler.Cleanup)
		}

		// Webhook routes (public with signature verification, rate limited)
		apiWebhook := api.Group("", webhookLimiter.Middleware())
		{
			apiWebhook.POST("/webhook/:provider", svc.webhookHandler.Receive)
		}
	}
}
