package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"league-registration-system/config"
	"league-registration-system/handlers"
	"league-registration-system/metrics"
	"league-registration-system/middleware"
	"league-registration-system/services"
	"league-registration-system/store"
	"league-registration-system/utils"
	"league-registration-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	st := store.NewPostgres(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Notifications
	dispatcher := workers.NewDispatcher(st,
		workers.WithDispatcherLogger(logger),
		workers.WithDispatcherMetrics(m),
		workers.WithWorkers(cfg.NotifyWorkers),
		workers.WithQueueSize(cfg.NotifyQueueSize),
		workers.WithAttemptTimeout(cfg.NotifyAttemptTimeout),
	)
	emailChain, err := workers.EmailChain(cfg.PrimarySMTP, cfg.FallbackSMTP, cfg.NoopSink, logger)
	if err != nil {
		return err
	}
	var archive workers.Channel
	if cfg.R2.Configured() {
		r2, err := utils.NewR2Client(ctx, cfg.R2)
		if err != nil {
			return err
		}
		archive = workers.NewReceiptArchiveChannel(r2)
	} else {
		logger.Warn("R2 is not configured, receipts will not be archived")
	}
	notifier := services.NewNotifier(services.NotifierConfig{
		League:          cfg.League,
		LeagueShortName: cfg.LeagueShortName,
		Season:          cfg.Season,
		AdminEmail:      cfg.AdminNotificationEmail,
		CustomerBCC:     cfg.CustomerBCC,
		SiteURL:         cfg.FrontendURL,
	})
	if err := notifier.Register(dispatcher, emailChain, archive, workers.Options{
		MaxRetries:    cfg.NotifyMaxRetries,
		RetryDelay:    cfg.NotifyRetryDelay,
		MaxRetryDelay: cfg.NotifyMaxRetryDelay,
	}); err != nil {
		return fmt.Errorf("failed to register notification jobs: %w", err)
	}
	dispatcher.Start(ctx)

	// Payments
	var gateway services.Gateway
	var paymentGateway *services.PaymentGateway
	if cfg.GatewayEnabled {
		client := services.NewMidtransClient(cfg.Midtrans, fmt.Sprintf("%s %s Registration", cfg.LeagueShortName, cfg.Season))
		paymentGateway = services.NewPaymentGateway(client,
			services.WithGatewayLogger(logger),
			services.WithGatewayMetrics(m),
			services.WithGatewayTimeouts(cfg.Midtrans.InitWait, cfg.Midtrans.InitTimeout, cfg.Midtrans.CallTimeout),
		)
		paymentGateway.Start(ctx)
		gateway = paymentGateway
	} else {
		logger.Warn("gateway payments are disabled, only cash registrations are accepted")
	}

	svc := services.NewRegistrationService(st, gateway, dispatcher, services.ServiceConfig{
		League:         cfg.League,
		Season:         cfg.Season,
		Fee:            cfg.RegistrationFee,
		GatewayEnabled: cfg.GatewayEnabled,
		CallbackKey:    cfg.Midtrans.ServerKey,
	}, services.WithLogger(logger), services.WithMetrics(m))

	sweeper := services.NewSweeper(svc, services.SweeperConfig{
		Interval:    cfg.SweepInterval,
		Window:      cfg.SweepWindow,
		Concurrency: cfg.SweepConcurrency,
	}, services.WithSweeperLogger(logger), services.WithSweeperMetrics(m))
	if err := sweeper.Start(ctx); err != nil {
		return err
	}

	// HTTP
	app := fiber.New(fiber.Config{
		AppName:      "league-registration",
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(middleware.RequestContextMiddleware(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
		MaxAge:        86400,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok", "database": "ok"}
		code := fiber.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			code = fiber.StatusServiceUnavailable
		}
		if paymentGateway != nil {
			status["gateway"] = paymentGateway.State().String()
		}
		return c.Status(code).JSON(status)
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	handlers.SetupRegistrationRoutes(app, svc, cfg.FrontendURL, logger)
	handlers.SetupAdminRoutes(app, svc, sweeper, cfg.AdminToken, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(cfg.Addr)
	}()
	logger.Info("server running", "addr", cfg.Addr, "env", cfg.Env, "origins", cfg.AllowedOrigins)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}
	logger.Info("shutting down")

	var shutdownErr error
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("http shutdown: %w", err))
	}
	if err := sweeper.Stop(); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("sweeper shutdown: %w", err))
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dispatcher.Stop(drainCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("dispatcher drain: %w", err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return shutdownErr
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
