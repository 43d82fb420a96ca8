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
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-eligibility-api/api/swagger"
	"github.com/noah-isme/course-eligibility-api/internal/handler"
	"github.com/noah-isme/course-eligibility-api/internal/middleware"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/internal/repository"
	"github.com/noah-isme/course-eligibility-api/internal/service"
	"github.com/noah-isme/course-eligibility-api/pkg/cache"
	"github.com/noah-isme/course-eligibility-api/pkg/config"
	"github.com/noah-isme/course-eligibility-api/pkg/database"
	"github.com/noah-isme/course-eligibility-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-eligibility-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-eligibility-api/pkg/middleware/requestid"
)

// @title Course Eligibility API
// @version 1.0.0
// @description Validates course enrollment eligibility against prerequisite, corequisite and restriction rules.
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, rule cache disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient)
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Eligibility.RuleCacheTTL, logr, cfg.Eligibility.RuleCacheEnabled && redisClient != nil)

	courseRepo := repository.NewCourseRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	recordRepo := repository.NewStudentRecordRepository(db)
	exceptionRepo := repository.NewExceptionRepository(db)
	resultRepo := repository.NewValidationResultRepository(db)
	cycleRepo := repository.NewCircularDependencyRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	dependencySvc := service.NewDependencyService(service.NewDependencyDetector(courseRepo), cycleRepo, metricsSvc, logr)
	ruleSvc := service.NewRuleService(ruleRepo, cacheSvc, dependencySvc, cfg.Eligibility.RuleCacheTTL, logr)
	approvalSvc := service.NewApprovalService(exceptionRepo, courseRepo, validate, logr)
	validationSvc := service.NewValidationService(service.ValidationServiceParams{
		Courses:    courseRepo,
		Records:    recordRepo,
		Rules:      ruleSvc,
		Cycles:     dependencySvc,
		Evaluator:  service.NewRequirementEvaluator(service.NewGradeScale(cfg.Eligibility.PassGradeEquivalent)),
		Exceptions: service.NewExceptionResolver(exceptionRepo, logr),
		Store:      resultRepo,
		Metrics:    metricsSvc,
		Validator:  validate,
		Logger:     logr,
		Config:     service.ValidationServiceConfig{ExportsEnabled: cfg.Exports.Enabled},
	})
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Audience: cfg.JWT.Audience})

	if cfg.DependencyScan.Enabled {
		dependencySvc.Start(ctx, service.ScanConfig{
			Workers:  cfg.DependencyScan.Workers,
			Retries:  cfg.DependencyScan.Retries,
			Interval: cfg.DependencyScan.Interval,
		})
		defer dependencySvc.Stop()
		if err := dependencySvc.ScheduleAll(); err != nil {
			logr.Warn("initial dependency scan not queued", zap.Error(err))
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{
		"database": handler.PingFunc(func(ctx context.Context) error { return pingDB(ctx, db) }),
		"cache":    cacheRepo,
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(apiPrefix(cfg.APIPrefix)), tokenSvc, auditor{writer: auditRepo, logger: logr}, routeHandlers{
		validations:  handler.NewValidationHandler(validationSvc),
		exceptions:   handler.NewExceptionHandler(approvalSvc),
		rules:        handler.NewRuleHandler(ruleSvc),
		dependencies: handler.NewDependencyHandler(dependencySvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

type routeHandlers struct {
	validations  *handler.ValidationHandler
	exceptions   *handler.ExceptionHandler
	rules        *handler.RuleHandler
	dependencies *handler.DependencyHandler
}

type auditor struct {
	writer middleware.AuditWriter
	logger *zap.Logger
}

func (a auditor) record(action, resource string) gin.HandlerFunc {
	return middleware.Audit(a.writer, a.logger, action, resource)
}

func registerRoutes(api *gin.RouterGroup, tokens middleware.TokenValidator, audit auditor, h routeHandlers) {
	staff := []models.UserRole{models.RoleAdmin, models.RoleRegistrar, models.RoleAdvisor, models.RoleService}
	registrar := []models.UserRole{models.RoleAdmin, models.RoleRegistrar}
	approvers := []models.UserRole{models.RoleAdmin, models.RoleRegistrar, models.RoleAdvisor}
	allow := func(roles ...models.UserRole) gin.HandlerFunc {
		return middleware.RequireRoles(audit.logger, roles...)
	}

	api.Use(middleware.JWT(tokens))

	api.POST("/validations", h.validations.Validate)
	api.GET("/validations/current", h.validations.Current)
	api.GET("/validations/history", h.validations.History)
	api.GET("/validations/:id", h.validations.Get)
	api.GET("/validations/:id/export", h.validations.Export)

	api.GET("/courses/:id/rules", allow(staff...), h.rules.List)
	api.POST("/requirements/:id/activate", allow(registrar...),
		audit.record(models.AuditActionRequirementActivate, models.AuditResourceRequirement), h.rules.Activate)

	api.GET("/courses/:id/dependency", allow(staff...), h.dependencies.Latest)
	api.POST("/courses/:id/dependency-scan", allow(registrar...),
		audit.record(models.AuditActionDependencyScan, models.AuditResourceCourse), h.dependencies.Scan)
	api.POST("/dependency-scans", allow(registrar...),
		audit.record(models.AuditActionDependencyScan, models.AuditResourceCourse), h.dependencies.ScanAll)
	api.POST("/circular-dependencies/:id/resolve", allow(registrar...),
		audit.record(models.AuditActionDependencyResolve, models.AuditResourceDependency), h.dependencies.Resolve)

	api.POST("/overrides", allow(approvers...),
		audit.record(models.AuditActionOverrideRequest, models.AuditResourceOverride), h.exceptions.RequestOverride)
	api.GET("/overrides/:id", allow(staff...), h.exceptions.GetOverride)
	api.POST("/overrides/:id/steps/:stepId/decision", allow(approvers...),
		audit.record(models.AuditActionOverrideDecision, models.AuditResourceOverride), h.exceptions.DecideStep)
	api.POST("/overrides/:id/review", allow(registrar...),
		audit.record(models.AuditActionOverrideReview, models.AuditResourceOverride), h.exceptions.RecordReview)
	api.POST("/waivers", allow(approvers...),
		audit.record(models.AuditActionWaiverRequest, models.AuditResourceWaiver), h.exceptions.RequestWaiver)
	api.POST("/waivers/:id/decision", allow(registrar...),
		audit.record(models.AuditActionWaiverDecision, models.AuditResourceWaiver), h.exceptions.DecideWaiver)
}

func apiPrefix(prefix string) string {
	if prefix == "" {
		return "/api/v1"
	}
	return prefix
}

func pingDB(ctx context.Context, db *sqlx.DB) error {
	return db.PingContext(ctx)
}
