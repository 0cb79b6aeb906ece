package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sst-nyc/registration-api/api/swagger"
	"github.com/sst-nyc/registration-api/internal/events"
	"github.com/sst-nyc/registration-api/internal/handler"
	"github.com/sst-nyc/registration-api/internal/middleware"
	"github.com/sst-nyc/registration-api/internal/repository"
	"github.com/sst-nyc/registration-api/internal/service"
	"github.com/sst-nyc/registration-api/pkg/cache"
	"github.com/sst-nyc/registration-api/pkg/config"
	"github.com/sst-nyc/registration-api/pkg/database"
	"github.com/sst-nyc/registration-api/pkg/logger"
	"github.com/sst-nyc/registration-api/pkg/mailer"
	corsmiddleware "github.com/sst-nyc/registration-api/pkg/middleware/cors"
	reqidmiddleware "github.com/sst-nyc/registration-api/pkg/middleware/requestid"
	"github.com/sst-nyc/registration-api/pkg/storage"
)

// @title SST.NYC Registration API
// @version 1.0.0
// @description Class registration intake, account linkage and admin surface
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The rate limiter fails open without Redis, everything else
		// works; degrade instead of refusing to start.
		logr.Sugar().Warnw("redis unavailable, rate limiting disabled", "error", err)
		redisClient = nil
	}

	store, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init uploads storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)
	validate := validator.New()

	metricsSvc := service.NewMetricsService()

	// Repositories.
	registrationRepo := repository.NewRegistrationRepository(db)
	userRepo := repository.NewUserRepository(db)
	affiliateRepo := repository.NewAffiliateRepository(db)
	sequenceRepo := repository.NewSequenceRepository(db, metricsSvc, logr, cfg.Registrations.LockTimeout)

	// Services and event wiring.
	dispatcher := events.NewDispatcher(logr)

	documentSvc := service.NewDocumentService(store, registrationRepo, signer, cfg.Uploads, logr)
	registrationSvc := service.NewRegistrationService(registrationRepo, sequenceRepo, documentSvc,
		dispatcher, metricsSvc, validate, logr, cfg.Registrations.ClassOptions)
	enrollmentSvc := service.NewEnrollmentService(userRepo, registrationRepo, dispatcher, metricsSvc, logr)
	mail := mailer.NewQueuedMailer(mailer.NewSMTPMailer(cfg.SMTP, cfg.Notifications.FromAddress), mailer.QueueConfig{Logger: logr})
	mail.Start(context.Background())
	defer mail.Stop()
	notificationSvc := service.NewNotificationService(mail, cfg.Notifications, cfg.SiteURL, logr)
	zapierSvc := service.NewZapierService(cfg.Zapier, cfg.SiteURL, metricsSvc, logr)
	affiliateSvc := service.NewAffiliateService(affiliateRepo, sequenceRepo, dispatcher, validate, logr)
	exportSvc := service.NewExportService(registrationRepo, cfg.Registrations.ExportBatchSize, logr)
	authSvc := service.NewAuthService(userRepo, cfg.JWT, logr)

	// Subscriber order is part of the contract: the admin is notified
	// and the webhook fires even when account linkage fails afterwards.
	dispatcher.Subscribe(events.TypeRegistrationCreated, "admin-email", notificationSvc.HandleRegistrationCreated)
	dispatcher.Subscribe(events.TypeRegistrationCreated, "zapier", zapierSvc.HandleRegistrationCreated)
	if cfg.Registrations.AutoEnroll {
		dispatcher.Subscribe(events.TypeRegistrationCreated, "account-linkage", enrollmentSvc.HandleRegistrationCreated)
	}
	dispatcher.Subscribe(events.TypeStudentRegistered, "student-email", notificationSvc.HandleStudentRegistered)
	dispatcher.Subscribe(events.TypeEnrollmentUpdated, "zapier", zapierSvc.HandleEnrollmentUpdated)
	dispatcher.Subscribe(events.TypeAffiliateApplied, "zapier", zapierSvc.HandleAffiliateApplied)

	// Handlers.
	registrationHandler := handler.NewRegistrationHandler(registrationSvc, documentSvc, enrollmentSvc, logr)
	documentHandler := handler.NewDocumentHandler(documentSvc)
	affiliateHandler := handler.NewAffiliateHandler(affiliateSvc)
	authHandler := handler.NewAuthHandler(authSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	webhookHandler := handler.NewWebhookHandler(zapierSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/registrations",
			middleware.RateLimit(redisClient, cfg.RateLimit, metricsSvc, logr),
			registrationHandler.Create)
		api.POST("/affiliates",
			middleware.RateLimit(redisClient, cfg.RateLimit, metricsSvc, logr),
			affiliateHandler.Apply)
		api.GET("/documents/download", documentHandler.Download)
		api.POST("/auth/login", authHandler.Login)

		admin := api.Group("/admin")
		admin.Use(middleware.JWT(authSvc), middleware.RequireAdmin())
		{
			admin.GET("/registrations", registrationHandler.List)
			admin.GET("/registrations/counts", registrationHandler.Counts)
			admin.GET("/registrations/lookup", registrationHandler.Lookup)
			admin.GET("/registrations/export", exportHandler.Export)
			admin.GET("/registrations/:id", registrationHandler.Get)
			admin.PUT("/registrations/:id/status", registrationHandler.UpdateStatus)
			admin.PUT("/registrations/:id/notes", registrationHandler.UpdateNotes)
			admin.DELETE("/registrations/:id", registrationHandler.Delete)
			admin.POST("/registrations/:id/enroll", registrationHandler.RetryEnrollment)
			admin.POST("/registrations/:id/documents/:kind/token", documentHandler.SignedToken)

			admin.GET("/affiliates", affiliateHandler.List)
			admin.GET("/affiliates/:id", affiliateHandler.Get)
			admin.PUT("/affiliates/:id/status", affiliateHandler.Review)

			admin.POST("/webhooks/test", webhookHandler.Test)
		}

		api.GET("/auth/me", middleware.JWT(authSvc), authHandler.Me)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
