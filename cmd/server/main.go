package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/boscod/parkmate/config"
	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/database"
	"github.com/boscod/parkmate/internal/logging"
	"github.com/boscod/parkmate/internal/metrics"
	"github.com/boscod/parkmate/internal/middleware"
	"github.com/boscod/parkmate/internal/rabbitmq"
	"github.com/boscod/parkmate/internal/routes"
	"github.com/boscod/parkmate/internal/services"
	"github.com/boscod/parkmate/internal/store"
	workers "github.com/boscod/parkmate/internal/worker"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "parkmate"})
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	// Initialize services
	jwtService := services.NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	cryptoService := services.NewCryptoService(cfg.AppSecret)
	authService := services.NewAuthService(st, jwtService)
	if err := authService.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap administrator")
	}

	codeService := services.NewCodeService(st, services.CodeConfig{
		ValidityDays:    cfg.CodeValidityDays,
		ReuseWindowDays: cfg.CodeReuseWindowDays,
	})
	subscriptionService := services.NewSubscriptionService(st, codeService, cfg.CodeBindToDevice)
	trialService := services.NewTrialService(st, cfg.TrialDays)
	villaService := services.NewVillaService(st, cryptoService)
	vehicleService := services.NewVehicleService(st, villaService)
	notificationService := services.NewNotificationService(st)

	gateway := services.NewSMSGateway(services.SMSGatewayConfig{
		URL:      cfg.SMSGatewayURL,
		Username: cfg.SMSGatewayUser,
		Password: cfg.SMSGatewayPassword,
		SenderID: cfg.SMSSenderID,
	})
	if cfg.SMSGatewayURL == "" {
		log.Warn().Msg("SMS_GATEWAY_URL not set, every SMS will fail")
	}
	dispatchService := services.NewDispatchService(st, villaService, subscriptionService, notificationService, gateway, services.DispatchConfig{
		RatePerSecond: cfg.SMSRatePerSecond,
		MaxAttempts:   cfg.SMSMaxAttempts,
		RetryBackoff:  cfg.SMSRetryBackoff,
	})

	// Setup RabbitMQ. Without it schedules are stored but never fire.
	var mq *rabbitmq.Client
	var publisher services.RunPublisher
	if cfg.RabbitMQURL != "" {
		mq, err = rabbitmq.Setup(cfg.RabbitMQURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to RabbitMQ, automation disabled")
		} else {
			publisher = mq
			defer mq.Close()
		}
	} else {
		log.Warn().Msg("RABBITMQ_URL not set, automation schedules will not fire")
	}
	scheduleService := services.NewScheduleService(st, villaService, dispatchService, notificationService, publisher)

	if mq != nil {
		worker := workers.NewAutomationWorker(mq, scheduleService)
		go func() {
			if err := worker.StartWorker(ctx); err != nil {
				log.Error().Err(err).Msg("Automation worker stopped")
			}
		}()
		go func() {
			if err := scheduleService.Resync(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to re-queue automation schedules")
			}
		}()
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:       "ParkMate API",
		CaseSensitive: true,
		StrictRouting: false,
		ServerHeader:  "ParkMate",
		ErrorHandler:  customErrorHandler,
		// params and headers end up in the store, keep them off the request buffer
		Immutable: true,
	})

	// Global middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			log.Error().
				Interface("panic", e).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Str("stack", string(debug.Stack())).
				Msg("Panic recovered")
		},
	}))
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${method} ${path} (${latency})\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	app.Use(middleware.MonitorMiddleware())
	app.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	routes.SetupRoutes(app, routes.Services{
		JWT:           jwtService,
		Auth:          authService,
		Codes:         codeService,
		Subscriptions: subscriptionService,
		Trials:        trialService,
		Villas:        villaService,
		Vehicles:      vehicleService,
		Dispatch:      dispatchService,
		Schedules:     scheduleService,
		Notifications: notificationService,
	}, routes.Options{
		MetricsUser:     cfg.MetricsUser,
		MetricsPassword: cfg.MetricsPassword,
		PublicRateLimit: cfg.PublicRateLimit,
		Ping:            st.Ping,
	})

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("Shutting down server...")
		cancel()
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Error shutting down")
		}
	}()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Info().
		Str("addr", addr).
		Str("env", cfg.Env).
		Str("store", cfg.Store).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Msg("Starting server")

	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.UseMemoryStore() {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return store.NewBunStore(db), nil
}

func customErrorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := apperrors.PublicMessage(err)

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	} else {
		log.Error().Err(err).Str("path", c.Path()).Msg("Unhandled error")
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}
