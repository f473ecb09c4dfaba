// Package main provides the entry point of the funnel campaign dispatch service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/amirphl/funnel-campaigns/app/handlers"
	"github.com/amirphl/funnel-campaigns/app/middleware"
	"github.com/amirphl/funnel-campaigns/app/router"
	"github.com/amirphl/funnel-campaigns/app/scheduler"
	"github.com/amirphl/funnel-campaigns/app/services"
	businessflow "github.com/amirphl/funnel-campaigns/business_flow"
	"github.com/amirphl/funnel-campaigns/config"
	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/repository"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting funnel campaigns service...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers before the server so no dispatch outlives the process
	for i := len(app.stopFuncs) - 1; i >= 0; i-- {
		app.stopFuncs[i]()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.New(log.New(os.Stdout, "gorm ", log.LstdFlags), gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.AllModels()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Println("Database schema migrated")
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache connects to Redis. A nil client means Redis is disabled.
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor pings Redis periodically until the returned function is called
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeNotificationService wires the SMS and email transports
func initializeNotificationService(cfg *config.ProductionConfig) (services.NotificationService, error) {
	var smsService services.SMSService
	switch cfg.SMS.ProviderDomain {
	case "mock", "":
		smsService = services.NewMockSMSService()
	default:
		s, err := services.NewSMSService(&cfg.SMS)
		if err != nil {
			return nil, err
		}
		smsService = s
	}

	var emailProvider services.EmailProvider
	switch cfg.Email.Provider {
	case "ses":
		p, err := services.NewSESEmailProvider(context.Background(), cfg.Email)
		if err != nil {
			return nil, err
		}
		emailProvider = p
	default:
		emailProvider = services.NewMockEmailProvider()
	}

	return services.NewNotificationService(smsService, emailProvider), nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, 30*time.Second))
	}

	notificationService, err := initializeNotificationService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transports: %w", err)
	}

	tokenService, err := services.NewTokenService(cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.UseRSAKeys, cfg.JWT.PublicKey, cfg.JWT.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	// Repositories
	quizRepo := repository.NewQuizRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	dispatchLogRepo := repository.NewDispatchLogRepository(db)
	creditRepo := repository.NewCreditBalanceRepository(db)
	purchaseRepo := repository.NewCreditPurchaseRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	tx := repository.NewGormTransactor(db)

	schedLogger, logCloser := scheduler.NewSchedulerLogger(cfg.Logging)
	stopFuncs = append(stopFuncs, func() { _ = logCloser.Close() })

	// Dispatch coordination: Redis when available, in-process otherwise
	var (
		bus    scheduler.HaltBus
		locker scheduler.CampaignLocker
		cache  businessflow.VariableCache
	)
	if rc != nil {
		bus = scheduler.NewRedisHaltBus(rc, cfg.Scheduler.HaltChannel, schedLogger)
		locker = scheduler.NewRedisCampaignLocker(rc, cfg.Cache.RedisPrefix, cfg.Scheduler.LockTTL)
		cache = businessflow.NewRedisVariableCache(rc, cfg.Cache.RedisPrefix, cfg.Cache.DefaultTTL)
	} else {
		locker = scheduler.NewLocalCampaignLocker()
	}
	gates := scheduler.NewGateRegistry(bus, schedLogger)

	campaignOpts := businessflow.CampaignOptions{SMSMaxLength: cfg.Campaign.SMSMaxLength}

	// Business flows
	campaignFlow := businessflow.NewCampaignFlow(campaignRepo, quizRepo, leadRepo, dispatchLogRepo, creditRepo, auditRepo, tx, gates, campaignOpts)
	creditFlow := businessflow.NewCreditFlow(creditRepo, purchaseRepo, campaignRepo, auditRepo, tx, gates)
	audienceFlow := businessflow.NewAudienceFlow(quizRepo, leadRepo, cache, campaignOpts)

	appRouter := router.NewFiberRouter(cfg, router.Handlers{
		SMSCampaigns:   handlers.NewCampaignHandler(campaignFlow, models.ChannelSMS),
		EmailCampaigns: handlers.NewCampaignHandler(campaignFlow, models.ChannelEmail),
		Credits:        handlers.NewCreditHandler(creditFlow),
		Audience:       handlers.NewAudienceHandler(audienceFlow),
		Webhooks:       handlers.NewWebhookHandler(campaignFlow),
	}, middleware.NewAuthMiddleware(tokenService))

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewDispatchScheduler(
			campaignRepo, leadRepo, dispatchLogRepo, creditRepo, auditRepo,
			notificationService, gates, locker, schedLogger,
			scheduler.Options{
				Interval:          cfg.Scheduler.Interval,
				Workers:           cfg.Scheduler.Workers,
				ClaimTimeout:      cfg.Scheduler.ClaimTimeout,
				SMSMaxLength:      cfg.Campaign.SMSMaxLength,
				ResetReservations: rc == nil,
			},
		)
		stopFuncs = append(stopFuncs, sched.Start(context.Background()))
	}

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		stopFuncs: stopFuncs,
	}, nil
}
