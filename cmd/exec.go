package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"payflow/config"
	"payflow/internal/handlers"
	"payflow/internal/services/audit"
	"payflow/internal/services/backend"
	"payflow/internal/services/gateway"
	"payflow/internal/services/sdk"
	"payflow/internal/services/session"
	"payflow/internal/services/shell"
	"payflow/internal/services/widget"
	_ "payflow/migrations"
	"payflow/monitoring"
	"payflow/security"
	"payflow/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
)

func Start() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	slog.SetDefault(utils.NewLogger(cfg.Environment, cfg.LogLevel))

	// serve on the configured port when started without a command
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve", "--http=0.0.0.0:"+cfg.Port)
	}

	app := pocketbase.New()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the widget SDK provider
	provider, err := sdk.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer provider.Close()
	slog.Info("payment sdk ready", "provider", provider.Name(), "sandbox", cfg.Gateway.Sandbox)

	// Initialize services
	backendClient := backend.NewClient(backend.Config{
		BaseURL:       cfg.Backend.BaseURL,
		Token:         cfg.Backend.Token,
		Timeout:       cfg.Backend.Timeout,
		WebhookPath:   cfg.Backend.WebhookPath,
		WebhookSecret: cfg.Backend.WebhookSecret,
	}, nil)

	sessionStore := session.NewStore(redisClient, cfg.Session.TTL)
	auditStore := audit.NewStore(app)

	manager := session.NewManager(provider, backendClient, sessionStore, auditStore, session.Options{
		Widget: widget.Config{
			ScriptURL:    cfg.Gateway.ScriptURL,
			Integrity:    cfg.Gateway.ScriptIntegrity,
			ReadyTimeout: cfg.Gateway.ReadyTimeout,
			PollInterval: cfg.Gateway.PollInterval,
		},
		Defaults: gateway.Defaults{
			PublicKey: cfg.Gateway.PublicKey,
			Sandbox:   cfg.Gateway.Sandbox,
			Position:  cfg.Gateway.Position,
			Theme:     cfg.Gateway.Theme,
			Callback:  cfg.Gateway.CallbackURL,
		},
		Products: shell.Products(shell.Paths{
			Contribution: cfg.Backend.ContributionPath,
			Deposit:      cfg.Backend.DepositPath,
			Repayment:    cfg.Backend.RepaymentPath,
		}),
		TTL:              cfg.Session.TTL,
		ReconcileTimeout: cfg.Session.ReconcileTimeout,
	})

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(manager)
	adminHandler := handlers.NewAdminHandler(manager, auditStore)
	limiter := security.NewRateLimiter(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: !cfg.IsProduction(),
	})
	app.RootCmd.AddCommand(pendingReconciliationsCmd(app))

	// Start background tasks
	go manager.Run(ctx)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	// Transitions queued while the server was stopping still reach Redis and the audit trail
	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		manager.Flush(context.Background())
		return e.Next()
	})

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		go restoreUnresolved(ctx, sessionStore, manager)

		api := e.Router.Group("/api/v1")
		api.BindFunc(limiter.AntiBot())

		// Session endpoints
		api.POST("/sessions", paymentHandler.CreateSession)
		api.GET("/sessions/{id}/state", paymentHandler.GetState)
		api.DELETE("/sessions/{id}", paymentHandler.CloseSession)

		// Payment flow endpoints
		api.POST("/sessions/{id}/{kind}/submit", paymentHandler.Submit).BindFunc(limiter.SubmitRateLimit())
		api.POST("/sessions/{id}/cancel", paymentHandler.Cancel)
		api.POST("/sessions/{id}/acknowledge", paymentHandler.Acknowledge)
		api.POST("/sessions/{id}/reconcile/retry", paymentHandler.RetryReconciliation).BindFunc(limiter.SubmitRateLimit())

		// Admin endpoints
		api.GET("/admin/sessions", adminHandler.ListSessions)
		api.GET("/admin/reconciliations", adminHandler.PendingReconciliations)

		// Test endpoint for outcome simulation
		if cfg.EnableTestEndpoints {
			api.POST("/test/simulate-outcome", paymentHandler.SimulateOutcome)
		}

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(monitoring.Handler()))
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		slog.Info("server routes registered", "test_endpoints", cfg.EnableTestEndpoints)
		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// restoreUnresolved loads every persisted reconciliation failure back into
// memory so support can see and retry it after a restart.
func restoreUnresolved(ctx context.Context, store *session.Store, manager *session.Manager) {
	ids, err := store.UnresolvedIDs(ctx)
	if err != nil {
		slog.Error("restore: listing unresolved sessions", "error", err)
		return
	}

	restored := 0
	for _, id := range ids {
		if _, err := manager.Get(ctx, id); err != nil {
			slog.Warn("restore: session not resumed", "session", id, "error", err)
			continue
		}
		restored++
	}
	slog.Info("restore: unresolved reconciliations resumed", "count", restored, "found", len(ids))
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("shutdown signal received, cleaning up")
	cancel()
}
