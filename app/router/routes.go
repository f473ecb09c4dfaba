// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amirphl/funnel-campaigns/app/dto"
	"github.com/amirphl/funnel-campaigns/app/handlers"
	"github.com/amirphl/funnel-campaigns/app/middleware"
	"github.com/amirphl/funnel-campaigns/config"
	"github.com/amirphl/funnel-campaigns/utils"
)

const healthPath = "/api/health"

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	SMSCampaigns   handlers.CampaignHandlerInterface
	EmailCampaigns handlers.CampaignHandlerInterface
	Credits        handlers.CreditHandlerInterface
	Audience       handlers.AudienceHandlerInterface
	Webhooks       *handlers.WebhookHandler
}

// FiberRouter implements routing using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	cfg      *config.ProductionConfig
	handlers Handlers
	auth     *middleware.AuthMiddleware
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(cfg *config.ProductionConfig, h Handlers, auth *middleware.AuthMiddleware) *FiberRouter {
	app := fiber.New(fiber.Config{
		AppName:      "Funnel Campaigns API",
		ServerHeader: "funnel-campaigns",
		ErrorHandler: errorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ProxyHeader:  cfg.Server.ProxyHeader,
		TrustProxy:   len(cfg.Server.TrustedProxies) > 0,
		TrustProxyConfig: fiber.TrustProxyConfig{
			Proxies: cfg.Server.TrustedProxies,
		},
	})

	return &FiberRouter{
		app:      app,
		cfg:      cfg,
		handlers: h,
		auth:     auth,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	r.setupMiddleware()

	if r.cfg.Metrics.Enabled {
		r.app.Get(r.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api")
	api.Get("/health", r.healthCheck)

	api.Use(limiter.New(limiter.Config{
		Max:        r.cfg.Security.GlobalRateLimit,
		Expiration: r.cfg.Security.RateLimitWindow,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error:   dto.ErrorDetail{Code: "RATE_LIMIT_EXCEEDED"},
			})
		},
		Next: func(c fiber.Ctx) bool {
			return c.Path() == healthPath
		},
	}))

	// Provider callbacks authenticate with a shared secret instead of a bearer token
	webhooks := api.Group("/webhooks", middleware.WebhookSecret(r.cfg.Webhook.Secret))
	webhooks.Post("/sms-delivery", r.handlers.Webhooks.SMSDeliveryReport)

	protected := api.Group("", r.auth.Authenticate())

	protected.Get("/quizzes", r.handlers.Audience.ListQuizzes)
	protected.Get("/quiz/:id/variables", r.handlers.Audience.QuizVariables)
	protected.Get("/quiz/:id/variables-ultra", r.handlers.Audience.QuizVariablesUltra)
	protected.Get("/quiz-phones/:quizId", r.handlers.Audience.QuizPhones)

	sms := protected.Group("/sms-campaigns")
	sms.Get("/", r.handlers.SMSCampaigns.ListCampaigns)
	sms.Post("/", r.handlers.SMSCampaigns.CreateCampaign)
	sms.Get("/:id", r.handlers.SMSCampaigns.GetCampaign)
	sms.Put("/:id/pause", r.handlers.SMSCampaigns.PauseCampaign)
	sms.Put("/:id/resume", r.handlers.SMSCampaigns.ResumeCampaign)
	sms.Delete("/:id", r.handlers.SMSCampaigns.DeleteCampaign)
	sms.Get("/:id/logs", r.handlers.SMSCampaigns.ListLogs)
	sms.Get("/:id/logs/export", r.handlers.SMSCampaigns.ExportLogs)
	sms.Get("/:id/analytics", r.handlers.SMSCampaigns.GetAnalytics)

	protected.Get("/sms-credits", r.handlers.Credits.GetBalance)
	protected.Post("/sms-credits/purchase", r.handlers.Credits.PurchaseCredits)

	email := protected.Group("/email-campaigns")
	email.Get("/", r.handlers.EmailCampaigns.ListCampaigns)
	email.Post("/advanced", r.handlers.EmailCampaigns.CreateCampaign)
	email.Post("/preview-audience", r.handlers.Audience.PreviewAudience)
	email.Get("/:id", r.handlers.EmailCampaigns.GetCampaign)
	email.Put("/:id/pause", r.handlers.EmailCampaigns.PauseCampaign)
	email.Put("/:id/resume", r.handlers.EmailCampaigns.ResumeCampaign)
	email.Delete("/:id", r.handlers.EmailCampaigns.DeleteCampaign)
	email.Get("/:id/logs", r.handlers.EmailCampaigns.ListLogs)
	email.Get("/:id/logs/export", r.handlers.EmailCampaigns.ExportLogs)
	email.Get("/:id/analytics", r.handlers.EmailCampaigns.GetAnalytics)

	r.app.Use(r.notFoundHandler)

	log.Println("Routes configured successfully")
}

func (r *FiberRouter) setupMiddleware() {
	r.app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: generateRequestID,
	}))

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000,
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginResourcePolicy: "cross-origin",
	}))

	r.app.Use(cors.New(cors.Config{
		AllowOrigins:     r.cfg.Security.AllowedOrigins,
		AllowMethods:     r.cfg.Security.AllowedMethods,
		AllowHeaders:     r.cfg.Security.AllowedHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: r.cfg.Security.AllowCredentials,
		MaxAge:           utils.CORSMaxAge,
	}))

	if r.cfg.Server.EnableCompression {
		r.app.Use(compress.New(compress.Config{
			Level: compress.LevelBestSpeed,
		}))
	}

	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			return c.Path() == healthPath || strings.HasPrefix(c.Path(), r.cfg.Metrics.Path)
		},
	}))

	if r.cfg.Metrics.Enabled {
		r.app.Use(middleware.Metrics())
	}

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			log.Printf(`{"time":"%s","level":"error","request_id":"%s","event":"panic","error":"%v","path":"%s","method":"%s"}`,
				utils.UTCNow().Format(time.RFC3339),
				c.Locals("requestid"),
				e,
				c.Path(),
				c.Method(),
			)
		},
	}))
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	log.Printf("Starting server on %s", address)
	return r.app.Listen(address)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNow().Unix(),
			"version":   r.cfg.Deployment.Version,
			"commit":    r.cfg.Deployment.CommitHash,
			"env":       r.cfg.Deployment.Environment,
			"service":   "funnel-campaigns-api",
		},
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": c.Locals("requestid"),
			},
		},
	})
}

func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	log.Printf("Error %d: %v", code, err)

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: "INTERNAL_ERROR",
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": c.Locals("requestid"),
			},
		},
	})
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
