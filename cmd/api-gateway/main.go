package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/univops/registrar-api/api/swagger"
	"github.com/univops/registrar-api/internal/handler"
	"github.com/univops/registrar-api/internal/middleware"
	"github.com/univops/registrar-api/internal/models"
	"github.com/univops/registrar-api/internal/repository"
	"github.com/univops/registrar-api/internal/service"
	"github.com/univops/registrar-api/pkg/cache"
	"github.com/univops/registrar-api/pkg/config"
	"github.com/univops/registrar-api/pkg/database"
	"github.com/univops/registrar-api/pkg/logger"
	corsmiddleware "github.com/univops/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/univops/registrar-api/pkg/middleware/requestid"
)

// @title Registrar API
// @version 1.0.0
// @description Registration engine for capacity-bounded enrollment, waitlists and advisor approvals
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

	if err := database.Migrate(db, cfg.Database); err != nil {
		logr.Sugar().Fatalw("failed to run migrations", "error", err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, availability cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	termRepo := repository.NewTermRepository(db)
	sectionRepo := repository.NewCourseSectionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	ticketRepo := repository.NewTimeTicketRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "registrar-api",
	})
	notificationSvc := service.NewNotificationService(notificationRepo, cfg.Notifications, logr)
	termSvc := service.NewTermService(termRepo, validate, logr)

	var sectionSvc *service.CourseSectionService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		sectionSvc = service.NewCourseSectionService(sectionRepo, termRepo, cacheRepo, cfg.Registration.AvailabilityCacheTTL, validate, logr)
	} else {
		sectionSvc = service.NewCourseSectionService(sectionRepo, termRepo, nil, cfg.Registration.AvailabilityCacheTTL, validate, logr)
	}

	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	ticketSvc := service.NewTimeTicketService(ticketRepo, termRepo, validate, logr)
	registrationSvc := service.NewRegistrationService(
		enrollmentRepo, sectionRepo, termRepo, studentRepo, approvalRepo, ticketRepo,
		notificationSvc, metricsSvc,
		service.RegistrationConfig{EnforceTimeTickets: cfg.Registration.EnforceTimeTickets},
		validate, logr,
	)
	approvalSvc := service.NewApprovalService(approvalRepo, studentRepo, sectionRepo, termRepo, registrationSvc, validate, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		exportSvc, err = service.NewExportService(enrollmentRepo, sectionRepo, cfg.Exports, logr)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export service", "error", err)
		}
		exportSvc.StartCleanup(ctx, cfg.Exports.CleanupInterval, cfg.Exports.SignedURLTTL)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(registrationSvc)
	approvalHandler := handler.NewApprovalHandler(approvalSvc)
	ticketHandler := handler.NewTimeTicketHandler(ticketSvc)
	termHandler := handler.NewTermHandler(termSvc)
	sectionHandler := handler.NewCourseSectionHandler(sectionSvc)
	studentHandler := handler.NewStudentHandler(studentSvc, notificationSvc)
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
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	administrative := []models.UserRole{models.RoleAdmin, models.RoleRegistrar}
	staff := []models.UserRole{models.RoleAdmin, models.RoleRegistrar, models.RoleAdvisor}
	everyone := []models.UserRole{models.RoleAdmin, models.RoleRegistrar, models.RoleAdvisor, models.RoleStudent}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))

	terms := secured.Group("/terms")
	{
		terms.GET("", middleware.RequireRoles(everyone...), termHandler.List)
		terms.GET("/current", middleware.RequireRoles(everyone...), termHandler.Current)
		terms.GET("/:id", middleware.RequireRoles(everyone...), termHandler.Get)
		terms.POST("", middleware.RequireRoles(administrative...), termHandler.Create)
		terms.PUT("/:id", middleware.RequireRoles(administrative...), termHandler.Update)
		terms.POST("/:id/set-current", middleware.RequireRoles(administrative...), termHandler.SetCurrent)
	}

	sections := secured.Group("/course-sections")
	{
		sections.GET("", middleware.RequireRoles(everyone...), sectionHandler.List)
		sections.GET("/:id", middleware.RequireRoles(everyone...), sectionHandler.Get)
		sections.GET("/:id/availability", middleware.RequireRoles(everyone...), sectionHandler.Availability)
		sections.POST("", middleware.RequireRoles(administrative...), sectionHandler.Create)
		sections.PUT("/:id/status", middleware.RequireRoles(administrative...), sectionHandler.UpdateStatus)
	}
	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		sections.POST("/:id/roster/export", middleware.RequireRoles(staff...), exportHandler.Roster)
		api.GET("/exports/download", exportHandler.Download)
	}

	students := secured.Group("/students")
	{
		students.GET("", middleware.RequireRoles(staff...), studentHandler.List)
		students.GET("/:id", middleware.RequireRoles(everyone...), studentHandler.Get)
		students.GET("/:id/notifications", middleware.RequireRoles(everyone...), studentHandler.Notifications)
		students.POST("", middleware.RequireRoles(administrative...), studentHandler.Create)
		students.PUT("/:id/advisory", middleware.RequireRoles(administrative...), studentHandler.UpdateAdvisory)
	}

	enrollments := secured.Group("/enrollments")
	{
		enrollments.GET("", middleware.RequireRoles(everyone...), enrollmentHandler.List)
		enrollments.GET("/:id", middleware.RequireRoles(everyone...), enrollmentHandler.Get)
		enrollments.POST("", middleware.RequireRoles(everyone...), middleware.Audit(userRepo, models.AuditActionEnrollmentCreate, "enrollments"), enrollmentHandler.Create)
		enrollments.DELETE("/:id", middleware.RequireRoles(everyone...), middleware.Audit(userRepo, models.AuditActionWithdraw, "enrollments"), enrollmentHandler.Withdraw)
		enrollments.POST("/swap", middleware.RequireRoles(everyone...), middleware.Audit(userRepo, models.AuditActionSwap, "enrollments"), enrollmentHandler.Swap)
		enrollments.PUT("/:id/status", middleware.RequireRoles(administrative...), middleware.Audit(userRepo, models.AuditActionEnrollmentUpdate, "enrollments"), enrollmentHandler.UpdateStatus)
	}

	approvals := secured.Group("/enrollment-approvals")
	{
		approvals.GET("", middleware.RequireRoles(everyone...), approvalHandler.List)
		approvals.GET("/:id", middleware.RequireRoles(everyone...), approvalHandler.Get)
		approvals.POST("", middleware.RequireRoles(everyone...), approvalHandler.Create)
		approvals.POST("/:id/approve", middleware.RequireRoles(staff...), middleware.Audit(userRepo, models.AuditActionApprovalDecision, "enrollment-approvals"), approvalHandler.Approve)
		approvals.POST("/:id/deny", middleware.RequireRoles(staff...), middleware.Audit(userRepo, models.AuditActionApprovalDecision, "enrollment-approvals"), approvalHandler.Deny)
	}

	tickets := secured.Group("/registration-time-tickets")
	{
		tickets.GET("/my", middleware.RequireRoles(models.RoleStudent), ticketHandler.My)
		tickets.GET("", middleware.RequireRoles(administrative...), ticketHandler.List)
		tickets.POST("/bulk-assign", middleware.RequireRoles(administrative...), middleware.Audit(userRepo, models.AuditActionTicketAssign, "registration-time-tickets"), ticketHandler.BulkAssign)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
