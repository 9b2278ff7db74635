// MBFlow Server - Workflow orchestration engine
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smilemakc/mbflow/internal/application/airouter"
	"github.com/smilemakc/mbflow/internal/application/airouter/provider"
	"github.com/smilemakc/mbflow/internal/application/approval"
	"github.com/smilemakc/mbflow/internal/application/auth"
	"github.com/smilemakc/mbflow/internal/application/engine"
	"github.com/smilemakc/mbflow/internal/application/observer"
	"github.com/smilemakc/mbflow/internal/application/trigger"
	"github.com/smilemakc/mbflow/internal/config"
	"github.com/smilemakc/mbflow/internal/infrastructure/api/rest"
	"github.com/smilemakc/mbflow/internal/infrastructure/cache"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/internal/infrastructure/ratelimit"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage"
	"github.com/smilemakc/mbflow/pkg/executor"
	"github.com/smilemakc/mbflow/pkg/executor/builtin"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	appLogger.Info("Starting MBFlow Server",
		"version", "1.0.0",
		"port", cfg.Server.Port,
	)

	// Initialize database
	dbConfig := &storage.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MinConnections,
		ConnMaxLifetime: cfg.Database.MaxConnLifetime,
		ConnMaxIdleTime: cfg.Database.MaxIdleTime,
		Debug:           cfg.Logging.Level == "debug",
	}

	db, err := storage.NewDB(dbConfig)
	if err != nil {
		appLogger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer storage.Close(db)

	appLogger.Info("Database connected",
		"max_conns", cfg.Database.MaxConnections,
	)

	// Initialize Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		appLogger.Warn("Failed to initialize Redis cache", "error", err)
		// Continue without Redis - it's optional
		redisCache = nil
	} else {
		defer redisCache.Close()
		appLogger.Info("Redis cache connected")
	}

	// Initialize executor registry
	executorManager := executor.NewManager()

	// Register all built-in node executors (http, transform, llm, function_call,
	// conditional, merge) and the data-shape adapter executors (base64/json).
	if err := builtin.RegisterBuiltins(executorManager); err != nil {
		appLogger.Error("Failed to register built-in executors", "error", err)
		os.Exit(1)
	}
	if err := builtin.RegisterAdapters(executorManager); err != nil {
		appLogger.Error("Failed to register adapter executors", "error", err)
		os.Exit(1)
	}
	if err := builtin.RegisterNodeKindAliases(executorManager); err != nil {
		appLogger.Error("Failed to register node kind aliases", "error", err)
		os.Exit(1)
	}

	appLogger.Info("Registered executors", "types", executorManager.List())

	// Initialize WebSocket hub (if enabled)
	var wsHub *observer.WebSocketHub
	if cfg.Observer.EnableWebSocket {
		wsHub = observer.NewWebSocketHub(appLogger)
		appLogger.Info("WebSocket hub initialized")
	}

	// Initialize observer manager
	observerManager := observer.NewObserverManager(
		observer.WithLogger(appLogger),
		observer.WithBufferSize(cfg.Observer.BufferSize),
	)

	// Initialize repositories
	workflowRepo := storage.NewWorkflowRepository(db)
	executionRepo := storage.NewExecutionRepository(db)
	eventRepo := storage.NewEventRepository(db)
	triggerRepo := storage.NewTriggerRepository(db)
	userRepo := storage.NewUserRepository(db)

	appLogger.Info("Repositories initialized")

	// Register observers based on configuration
	if cfg.Observer.EnableDatabase {
		dbObserver := observer.NewDatabaseObserver(eventRepo)
		if err := observerManager.Register(dbObserver); err != nil {
			appLogger.Error("Failed to register database observer", "error", err)
		} else {
			appLogger.Info("Database observer registered")
		}
	}

	if cfg.Observer.EnableHTTP && cfg.Observer.HTTPCallbackURL != "" {
		httpObserver := observer.NewHTTPCallbackObserver(
			cfg.Observer.HTTPCallbackURL,
			observer.WithHTTPMethod(cfg.Observer.HTTPMethod),
			observer.WithHTTPHeaders(cfg.Observer.HTTPHeaders),
			observer.WithHTTPTimeout(cfg.Observer.HTTPTimeout),
			observer.WithHTTPRetry(
				cfg.Observer.HTTPMaxRetries,
				cfg.Observer.HTTPRetryDelay,
				2.0, // backoff multiplier
			),
		)
		if err := observerManager.Register(httpObserver); err != nil {
			appLogger.Error("Failed to register HTTP observer", "error", err)
		} else {
			appLogger.Info("HTTP callback observer registered",
				"url", cfg.Observer.HTTPCallbackURL,
				"method", cfg.Observer.HTTPMethod,
			)
		}
	}

	if cfg.Observer.EnableLogger {
		loggerObserver := observer.NewLoggerObserver(
			observer.WithLoggerInstance(appLogger),
		)
		if err := observerManager.Register(loggerObserver); err != nil {
			appLogger.Error("Failed to register logger observer", "error", err)
		} else {
			appLogger.Info("Logger observer registered")
		}
	}

	if cfg.Observer.EnableWebSocket && wsHub != nil {
		wsObserver := observer.NewWebSocketObserver(
			wsHub,
			observer.WithWebSocketLogger(appLogger),
		)
		if err := observerManager.Register(wsObserver); err != nil {
			appLogger.Error("Failed to register WebSocket observer", "error", err)
		} else {
			appLogger.Info("WebSocket observer registered")
		}
	}

	appLogger.Info("Observer system initialized",
		"observer_count", observerManager.Count(),
	)

	// Initialize AI router (C6): one adapter per configured provider, a
	// per-provider Redis quota limiter, and an ai_processor node executor
	// dispatching through both, publishing ai_request/ai_response onto the
	// observer manager's event bus.
	aiRouter := buildAIRouter(cfg, redisCache, observerManager, appLogger)
	if aiRouter != nil {
		if err := builtin.RegisterAIProcessor(executorManager, aiRouter); err != nil {
			appLogger.Error("Failed to register ai_processor executor", "error", err)
		} else {
			appLogger.Info("AI router initialized", "providers", len(cfg.AI.Providers))
		}
	} else {
		appLogger.Warn("AI router disabled - no providers configured")
	}

	// Initialize auth system
	authService := auth.NewService(userRepo, &cfg.Auth)
	providerManager, err := auth.NewProviderManager(&cfg.Auth, authService)
	if err != nil {
		appLogger.Warn("Failed to initialize auth provider manager", "error", err)
		// Continue with builtin provider only
	}

	authMiddleware := rest.NewAuthMiddleware(providerManager, authService)
	loginRateLimiter := rest.NewLoginRateLimiter(
		cfg.Auth.MaxLoginAttempts,
		time.Duration(cfg.Auth.MaxLoginAttempts)*time.Minute,
		cfg.Auth.LockoutDuration,
	)

	appLogger.Info("Auth system initialized",
		"mode", cfg.Auth.Mode,
		"registration_enabled", cfg.Auth.AllowRegistration,
	)

	// Initialize execution engine
	executionManager := engine.NewExecutionManager(
		executorManager,
		workflowRepo,
		executionRepo,
		eventRepo,
		observerManager,
	)

	appLogger.Info("Execution engine initialized")

	// Initialize human-approval subsystem (only if Redis is available - tickets live there)
	var approvalManager *approval.Manager
	if redisCache != nil {
		tokens := approval.NewTokenService(cfg.Approval.HMACSecret)
		defaults := approval.Defaults{
			Timeout:  cfg.Approval.DefaultTimeout,
			Fallback: approval.FallbackPolicy(cfg.Approval.DefaultFallback),
		}
		approvalManager = approval.NewManager(
			redisCache.Client(),
			nil,
			tokens,
			defaults,
			approval.WithObserverManager(observerManager),
		)
		executionManager.WithApprovalIssuer(approvalManager)

		go runApprovalTimeoutSweeper(context.Background(), approvalManager, executionManager, appLogger)

		appLogger.Info("Approval subsystem initialized")
	} else {
		appLogger.Warn("Approval subsystem disabled - Redis cache not available, human_task nodes will fail")
	}

	// Initialize trigger manager (only if Redis is available)
	var triggerManager *trigger.Manager
	if redisCache != nil {
		triggerManager, err = trigger.NewManager(trigger.ManagerConfig{
			TriggerRepo:  triggerRepo,
			WorkflowRepo: workflowRepo,
			ExecutionMgr: executionManager,
			Cache:        redisCache,
			Logger:       appLogger,
		})
		if err != nil {
			appLogger.Error("Failed to initialize trigger manager", "error", err)
		} else {
			appLogger.Info("Trigger manager initialized")
			// Start trigger manager
			if err := triggerManager.Start(); err != nil {
				appLogger.Error("Failed to start trigger manager", "error", err)
			} else {
				appLogger.Info("Trigger manager started")
			}
		}
	} else {
		appLogger.Warn("Trigger manager disabled - Redis cache not available")
	}

	// Set Gin mode based on log level
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Initialize middleware
	loggingMiddleware := rest.NewLoggingMiddleware(appLogger)
	recoveryMiddleware := rest.NewRecoveryMiddleware(appLogger)

	// Add middleware in correct order:
	// 1. Recovery (catches panics)
	// 2. Logging (logs all requests with request_id)
	router.Use(recoveryMiddleware.Recovery())
	router.Use(loggingMiddleware.RequestLogger())

	// CORS middleware (if enabled)
	if cfg.Server.CORS {
		router.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			c.Writer.Header().Set("Access-Control-Max-Age", "86400")

			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}

			c.Next()
		})
		appLogger.Info("CORS enabled")
	}

	// Health check endpoints
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		// Check database health
		if err := storage.Ping(ctx, db); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  fmt.Sprintf("database: %s", err.Error()),
			})
			return
		}

		// Check Redis health (if configured)
		if redisCache != nil {
			if err := redisCache.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  fmt.Sprintf("redis: %s", err.Error()),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Metrics endpoint
	router.GET("/metrics", func(c *gin.Context) {
		dbStats := storage.Stats(db)

		metrics := gin.H{
			"database": gin.H{
				"open_connections": dbStats.OpenConnections,
				"in_use":           dbStats.InUse,
				"idle":             dbStats.Idle,
				"max_open_conns":   dbStats.MaxOpenConnections,
			},
		}

		if redisCache != nil {
			cacheStats := redisCache.Stats()
			metrics["redis"] = gin.H{
				"hits":        cacheStats.Hits,
				"misses":      cacheStats.Misses,
				"total_conns": cacheStats.TotalConns,
				"idle_conns":  cacheStats.IdleConns,
			}
		}

		c.JSON(http.StatusOK, gin.H{"metrics": metrics})
	})

	// WebSocket endpoints
	if cfg.Observer.EnableWebSocket && wsHub != nil {
		wsHandler := observer.NewWebSocketHandler(wsHub, appLogger)
		router.GET("/ws/executions", func(c *gin.Context) {
			wsHandler.ServeHTTP(c.Writer, c.Request)
		})
		router.GET("/ws/health", func(c *gin.Context) {
			wsHandler.HandleHealthCheck(c.Writer, c.Request)
		})
		appLogger.Info("WebSocket endpoints registered",
			"endpoints", []string{"/ws/executions", "/ws/health"},
		)
	}

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	{
		// Initialize handlers
		workflowHandlers := rest.NewWorkflowHandlers(workflowRepo, appLogger, executorManager)
		nodeHandlers := rest.NewNodeHandlers(workflowRepo, appLogger)
		edgeHandlers := rest.NewEdgeHandlers(workflowRepo, appLogger)
		executionHandlers := rest.NewExecutionHandlers(executionRepo, workflowRepo, executionManager, appLogger)
		triggerHandlers := rest.NewTriggerHandlers(triggerRepo, workflowRepo, appLogger)
		authHandlers := rest.NewAuthHandlers(authService, providerManager, loginRateLimiter)
		var approvalHandlers *rest.ApprovalHandlers
		if approvalManager != nil {
			approvalHandlers = rest.NewApprovalHandlers(executionManager, appLogger)
		}

		// Auth endpoints (public)
		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", authHandlers.HandleRegister)
			authGroup.POST("/login", loginRateLimiter.Middleware(), authHandlers.HandleLogin)
			authGroup.POST("/refresh", authHandlers.HandleRefresh)
			authGroup.GET("/info", authHandlers.HandleGetAuthInfo)

			// OAuth endpoints
			authGroup.GET("/oauth/authorize", authHandlers.HandleOAuthAuthorize)
			authGroup.GET("/oauth/callback", authHandlers.HandleOAuthCallback)

			// Protected auth endpoints
			authGroup.POST("/logout", authMiddleware.RequireAuth(), authHandlers.HandleLogout)
			authGroup.GET("/me", authMiddleware.RequireAuth(), authHandlers.HandleGetMe)
			authGroup.POST("/password", authMiddleware.RequireAuth(), authHandlers.HandleChangePassword)
		}

		// Admin endpoints (requires admin role)
		adminGroup := apiV1.Group("/admin")
		adminGroup.Use(authMiddleware.RequireAuth())
		adminGroup.Use(authMiddleware.RequireAdmin())
		{
			// User management
			adminGroup.GET("/users", authHandlers.HandleAdminListUsers)
			adminGroup.POST("/users", authHandlers.HandleAdminCreateUser)
			adminGroup.GET("/users/:id", authHandlers.HandleAdminGetUser)
			adminGroup.PUT("/users/:id", authHandlers.HandleAdminUpdateUser)
			adminGroup.DELETE("/users/:id", authHandlers.HandleAdminDeleteUser)
			adminGroup.POST("/users/:id/reset-password", authHandlers.HandleAdminResetPassword)

			// Role management
			adminGroup.GET("/roles", authHandlers.HandleListRoles)
			adminGroup.GET("/users/:id/roles", authHandlers.HandleGetUserRoles)
			adminGroup.POST("/users/:id/roles", authHandlers.HandleAssignRole)
			adminGroup.DELETE("/users/:id/roles/:role_id", authHandlers.HandleRemoveRole)
		}

		appLogger.Info("Auth endpoints registered")

		// Workflow endpoints (with optional auth for ownership tracking)
		workflows := apiV1.Group("/workflows")
		workflows.Use(authMiddleware.OptionalAuth())
		{
			workflows.POST("", workflowHandlers.HandleCreateWorkflow)
			workflows.GET("", workflowHandlers.HandleListWorkflows)
			workflows.GET("/:workflow_id", workflowHandlers.HandleGetWorkflow)
			workflows.PUT("/:workflow_id", workflowHandlers.HandleUpdateWorkflow)
			workflows.POST("/:workflow_id/execute", executionHandlers.HandleRunExecution)
			workflows.DELETE("/:workflow_id", workflowHandlers.HandleDeleteWorkflow)
			workflows.POST("/:workflow_id/publish", workflowHandlers.HandlePublishWorkflow)
			workflows.POST("/:workflow_id/unpublish", workflowHandlers.HandleUnpublishWorkflow)
			workflows.GET("/:workflow_id/diagram", workflowHandlers.HandleGetWorkflowDiagram)

			// Workflow resource attachment endpoints
			workflows.POST("/:workflow_id/resources", workflowHandlers.AttachWorkflowResource)
			workflows.GET("/:workflow_id/resources", workflowHandlers.GetWorkflowResources)
			workflows.PUT("/:workflow_id/resources/:resource_id", workflowHandlers.UpdateWorkflowResourceAlias)
			workflows.DELETE("/:workflow_id/resources/:resource_id", workflowHandlers.DetachWorkflowResource)

			// Node endpoints
			workflows.POST("/:workflow_id/nodes", nodeHandlers.HandleAddNode)
			workflows.GET("/:workflow_id/nodes", nodeHandlers.HandleListNodes)
			workflows.GET("/:workflow_id/nodes/:node_id", nodeHandlers.HandleGetNode)
			workflows.PUT("/:workflow_id/nodes/:node_id", nodeHandlers.HandleUpdateNode)
			workflows.DELETE("/:workflow_id/nodes/:node_id", nodeHandlers.HandleDeleteNode)

			// Edge endpoints
			workflows.POST("/:workflow_id/edges", edgeHandlers.HandleAddEdge)
			workflows.GET("/:workflow_id/edges", edgeHandlers.HandleListEdges)
			workflows.GET("/:workflow_id/edges/:edge_id", edgeHandlers.HandleGetEdge)
			workflows.PUT("/:workflow_id/edges/:edge_id", edgeHandlers.HandleUpdateEdge)
			workflows.DELETE("/:workflow_id/edges/:edge_id", edgeHandlers.HandleDeleteEdge)
		}

		// Execution endpoints
		executions := apiV1.Group("/executions")
		{
			executions.POST("/run/:workflow_id", executionHandlers.HandleRunExecution)
			executions.GET("", executionHandlers.HandleListExecutions)
			executions.GET("/:id", executionHandlers.HandleGetExecution)
			executions.GET("/:id/logs", executionHandlers.HandleGetLogs)
			executions.GET("/:id/nodes/:node_id/result", executionHandlers.HandleGetNodeResult)
			executions.POST("/:id/cancel", executionHandlers.HandleCancelExecution)
			executions.POST("/:id/retry", executionHandlers.HandleRetryExecution)
			executions.GET("/:id/watch", executionHandlers.HandleWatchExecution)
			executions.GET("/:id/stream", executionHandlers.HandleStreamLogs)
		}

		// Trigger endpoints
		triggers := apiV1.Group("/triggers")
		{
			triggers.POST("", triggerHandlers.HandleCreateTrigger)
			triggers.GET("", triggerHandlers.HandleListTriggers)
			triggers.GET("/:id", triggerHandlers.HandleGetTrigger)
			triggers.PUT("/:id", triggerHandlers.HandleUpdateTrigger)
			triggers.DELETE("/:id", triggerHandlers.HandleDeleteTrigger)
			triggers.POST("/:id/enable", triggerHandlers.HandleEnableTrigger)
			triggers.POST("/:id/disable", triggerHandlers.HandleDisableTrigger)
			triggers.POST("/:id/execute", triggerHandlers.HandleTriggerManual)
		}

		// Approval endpoints (human_task responses)
		if approvalHandlers != nil {
			apiV1.GET("/approvals/:execution_id/respond", approvalHandlers.HandleRespond)
			apiV1.POST("/approvals/:execution_id/respond", approvalHandlers.HandleRespond)

			appLogger.Info("Approval endpoints registered",
				"endpoints", []string{"/api/v1/approvals/:execution_id/respond"},
			)
		}

		// Webhook endpoints
		if triggerManager != nil {
			webhookHandlers := rest.NewWebhookHandlers(triggerManager.WebhookRegistry(), appLogger)
			apiV1.POST("/webhooks/:path", webhookHandlers.HandleWebhook)
			apiV1.GET("/webhooks/:path", webhookHandlers.HandleWebhookGet)

			appLogger.Info("Webhook endpoints registered",
				"endpoints", []string{"/api/v1/webhooks/:path"},
			)
		}
	}

	appLogger.Info("REST API routes registered")

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP server starting",
			"host", cfg.Server.Host,
			"port", cfg.Server.Port,
		)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		appLogger.Error("Server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		appLogger.Info("Server shutdown initiated", "signal", sig)

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop trigger manager first
		if triggerManager != nil {
			appLogger.Info("Stopping trigger manager...")
			if err := triggerManager.Stop(); err != nil {
				appLogger.Error("Trigger manager shutdown failed", "error", err)
			} else {
				appLogger.Info("Trigger manager stopped")
			}
		}

		// Gracefully shutdown the server
		if err := server.Shutdown(ctx); err != nil {
			appLogger.Error("Graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				appLogger.Error("Server close failed", "error", err)
			}
		}

		appLogger.Info("Server stopped")
	}
}

// runApprovalTimeoutSweeper periodically applies fallback policies to expired
// approval tickets and, for tickets that resolved into a terminal state,
// resumes the paused execution waiting on them so it doesn't stay stuck.
func runApprovalTimeoutSweeper(
	ctx context.Context,
	approvalManager *approval.Manager,
	executionManager *engine.ExecutionManager,
	appLogger *logger.Logger,
) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolved, err := approvalManager.CheckTimeouts(ctx)
			if err != nil {
				appLogger.Error("Approval timeout sweep failed", "error", err)
				continue
			}

			for _, ticket := range resolved {
				if ticket.Status == approval.StatusTimedOut {
					// Escalate fallback: the ticket is closed but not resolved
					// into an approve/reject outcome, so the execution stays
					// paused pending manual intervention.
					appLogger.Warn("Approval ticket timed out with escalate fallback",
						"execution_id", ticket.ExecutionID,
						"ticket_id", ticket.ID,
					)
					continue
				}

				if _, err := executionManager.ResumeFromTicket(ctx, ticket); err != nil {
					appLogger.Error("Failed to resume execution after approval timeout",
						"execution_id", ticket.ExecutionID,
						"ticket_id", ticket.ID,
						"error", err,
					)
				}
			}
		}
	}
}

// aiDefaultModels names the model each OpenAI-compatible provider dials when
// a request doesn't specify one.
var aiDefaultModels = map[string]string{
	"groq":        "llama-3.3-70b-versatile",
	"qwen":        "qwen-plus",
	"glm4":        "glm-4",
	"kimi":        "moonshot-v1-8k",
	"gemini":      "gemini-2.0-flash",
	"huggingface": "meta-llama/Llama-3.1-8B-Instruct",
}

// aiProviderBaseURLs are the default endpoints for the OpenAI-compatible
// providers the router dials through provider.OpenAICompatible.
var aiProviderBaseURLs = map[string]string{
	"groq": "https://api.groq.com/openai/v1",
	"qwen": "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"glm4": "https://open.bigmodel.cn/api/paas/v4",
	"kimi": "https://api.moonshot.cn/v1",
}

// buildAIRouter wires cfg.AI.Providers into an airouter.Router: one adapter
// per configured provider (four sharing provider.OpenAICompatible, Gemini
// and HuggingFace with their own wire formats), a Redis-backed quota
// limiter per provider when Redis is available, and the observer manager so
// ai_request/ai_response events reach the same subscribers as engine
// events. Returns nil if no provider has credentials configured.
func buildAIRouter(cfg *config.Config, redisCache *cache.RedisCache, observerManager *observer.ObserverManager, appLogger *logger.Logger) *airouter.Router {
	if len(cfg.AI.Providers) == 0 {
		return nil
	}

	providers := make(map[string]provider.Provider, len(cfg.AI.Providers))
	limiters := make(map[string]*ratelimit.Limiter, len(cfg.AI.Providers))

	for name, pc := range cfg.AI.Providers {
		if pc.APIKey == "" {
			continue
		}

		defaultModel := aiDefaultModels[name]

		switch name {
		case "gemini":
			providers[name] = provider.NewGemini(pc.APIKey, pc.BaseURL, defaultModel)
		case "huggingface":
			providers[name] = provider.NewHuggingFace(pc.APIKey, pc.BaseURL, defaultModel)
		default:
			baseURL := pc.BaseURL
			if baseURL == "" {
				baseURL = aiProviderBaseURLs[name]
			}
			providers[name] = provider.NewOpenAICompatible(name, pc.APIKey, baseURL, defaultModel)
		}

		if redisCache != nil {
			quota := pc.QuotaPerMinute
			if quota <= 0 {
				quota = 60
			}
			limiters[name] = ratelimit.New(redisCache.Client(), "ratelimit:ai:"+name+":", quota, time.Minute, 0)
		}
	}

	if len(providers) == 0 {
		return nil
	}

	return airouter.New(providers, limiters, observerManager, appLogger)
}
