package routes

import (
	"context"
	"time"

	"github.com/boscod/parkmate/internal/handlers"
	"github.com/boscod/parkmate/internal/middleware"
	"github.com/boscod/parkmate/internal/services"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services bundles what the handlers need.
type Services struct {
	JWT           *services.JWTService
	Auth          *services.AuthService
	Codes         *services.CodeService
	Subscriptions *services.SubscriptionService
	Trials        *services.TrialService
	Villas        *services.VillaService
	Vehicles      *services.VehicleService
	Dispatch      *services.DispatchService
	Schedules     *services.ScheduleService
	Notifications *services.NotificationService
}

type Options struct {
	MetricsUser     string
	MetricsPassword string
	// requests per minute per IP on the public function endpoints
	PublicRateLimit int
	// reports storage health on /health
	Ping func(ctx context.Context) error
}

func SetupRoutes(app *fiber.App, svc Services, opts Options) {
	functionsHandler := handlers.NewFunctionsHandler(svc.Codes, svc.Subscriptions, svc.Trials)
	adminHandler := handlers.NewAdminHandler(svc.Auth, svc.JWT, svc.Codes)
	villaHandler := handlers.NewVillaHandler(svc.Villas, svc.Vehicles)
	smsHandler := handlers.NewSMSHandler(svc.Dispatch)
	automationHandler := handlers.NewAutomationHandler(svc.Schedules)
	notificationHandler := handlers.NewNotificationHandler(svc.Notifications)

	health := func(c fiber.Ctx) error {
		if opts.Ping != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := opts.Ping(ctx); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status":  "degraded",
					"message": "Database unreachable",
				})
			}
		}
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "ParkMate API is running",
		})
	}

	app.Get("/health", health)
	app.Get("/metrics", adaptor.HTTPHandler(middleware.BasicAuth(opts.MetricsUser, opts.MetricsPassword, promhttp.Handler())))

	// API group
	api := app.Group("/api")
	api.Get("/health", health)

	if opts.PublicRateLimit <= 0 {
		opts.PublicRateLimit = 30
	}
	adminAuth := []fiber.Handler{middleware.AuthMiddleware(svc.JWT), middleware.RequireAdmin()}

	// ==================
	// App functions
	// ==================
	functions := api.Group("/functions")
	functions.Post("/generate-activation-code", functionsHandler.GenerateActivationCode, adminAuth...)

	public := functions.Group("", middleware.RateLimitMiddleware(opts.PublicRateLimit))
	public.Post("/validate-activation-code", functionsHandler.ValidateActivationCode)
	public.Post("/activate-villa-subscription", functionsHandler.ActivateVillaSubscription)
	public.Post("/get-subscription-status", functionsHandler.GetSubscriptionStatus)
	public.Post("/check-trial-eligibility", functionsHandler.CheckTrialEligibility)
	public.Post("/start-free-trial", functionsHandler.StartFreeTrial)

	// ==================
	// Admin
	// ==================
	api.Post("/admin/login", adminHandler.Login, middleware.RateLimitMiddleware(opts.PublicRateLimit))
	admin := api.Group("/admin", adminAuth...)
	admin.Post("/logout", adminHandler.Logout)
	admin.Get("/codes", adminHandler.ListCodes)
	admin.Get("/codes/export", adminHandler.ExportCodes)

	// ==================
	// Device routes (X-Device-Id)
	// ==================
	device := api.Group("", middleware.DeviceMiddleware())

	device.Get("/villa-subscriptions", functionsHandler.ListVillaSubscriptions)

	device.Get("/villas", villaHandler.List)
	device.Post("/villas", villaHandler.Create)
	device.Get("/villas/:villaId", villaHandler.Get)
	device.Put("/villas/:villaId", villaHandler.Update)
	device.Delete("/villas/:villaId", villaHandler.Delete)

	device.Get("/villas/:villaId/vehicles", villaHandler.ListVehicles)
	device.Post("/villas/:villaId/vehicles", villaHandler.CreateVehicle)
	device.Put("/villas/:villaId/vehicles/:vehicleId", villaHandler.UpdateVehicle)
	device.Delete("/villas/:villaId/vehicles/:vehicleId", villaHandler.DeleteVehicle)

	device.Post("/villas/:villaId/sms/send", smsHandler.Send)
	device.Get("/sms/history", smsHandler.History)

	device.Get("/villas/:villaId/automation", automationHandler.Get)
	device.Put("/villas/:villaId/automation", automationHandler.Save)
	device.Delete("/villas/:villaId/automation", automationHandler.Delete)

	device.Get("/notifications", notificationHandler.List)
	device.Get("/notifications/unread-count", notificationHandler.UnreadCount)
	device.Post("/notifications/:id/read", notificationHandler.MarkAsRead)
	device.Post("/notifications/read-all", notificationHandler.MarkAllAsRead)
}
