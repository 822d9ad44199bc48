package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/edusys-id/sekolah-api/api/swagger"
	"github.com/edusys-id/sekolah-api/internal/handler"
	"github.com/edusys-id/sekolah-api/internal/middleware"
	"github.com/edusys-id/sekolah-api/internal/models"
	"github.com/edusys-id/sekolah-api/internal/repository"
	"github.com/edusys-id/sekolah-api/internal/service"
	"github.com/edusys-id/sekolah-api/pkg/cache"
	"github.com/edusys-id/sekolah-api/pkg/config"
	"github.com/edusys-id/sekolah-api/pkg/database"
	"github.com/edusys-id/sekolah-api/pkg/logger"
	corsmiddleware "github.com/edusys-id/sekolah-api/pkg/middleware/cors"
	reqidmiddleware "github.com/edusys-id/sekolah-api/pkg/middleware/requestid"
)

// @title Sekolah API
// @version 1.0.0
// @description School administration API: roll-number allocation and fee ledger
// @BasePath /api/v1
// @schemes http
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

	metricsSvc := service.NewMetricsService()

	// Redis is optional: without it summaries are computed fresh every time.
	var cacheSvc *service.CacheService
	if cfg.Fees.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, summary caching disabled", zap.Error(err))
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Fees.SummaryCacheTTL, logr, true)
		}
	}

	studentRepo := repository.NewStudentRepository(db)
	classRepo := repository.NewClassRepository(db)
	feeRepo := repository.NewFeeRepository(db)
	userRepo := repository.NewUserRepository(db)

	rollSvc := service.NewRollService(studentRepo, metricsSvc, logr)
	studentSvc := service.NewStudentService(studentRepo, classRepo, rollSvc, nil, logr)
	classSvc := service.NewClassService(classRepo, rollSvc, nil, logr)
	feeSvc := service.NewFeeService(feeRepo, studentRepo, classRepo, cacheSvc, metricsSvc, nil, logr, service.FeeServiceConfig{
		ReceiptPrefix:   cfg.Fees.ReceiptPrefix,
		SummaryCacheTTL: cfg.Fees.SummaryCacheTTL,
	})
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	classHandler := handler.NewClassHandler(classSvc)
	feeHandler := handler.NewFeeHandler(feeSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	authed.GET("/auth/me", authHandler.Me)

	authed.GET("/students", studentHandler.List)
	authed.GET("/students/:id", studentHandler.Get)
	authed.POST("/students", adminOnly, studentHandler.Create)
	authed.PUT("/students/:id", adminOnly, studentHandler.Update)
	authed.DELETE("/students/:id", adminOnly, studentHandler.Delete)

	authed.GET("/classes", classHandler.List)
	authed.GET("/classes/:id", classHandler.Get)
	authed.POST("/classes", adminOnly, classHandler.Create)
	authed.POST("/classes/:id/roll-numbers/reassign", adminOnly, classHandler.ReassignRollNumbers)
	authed.POST("/classes/:id/fees", adminOnly, feeHandler.InitializeForClass)

	authed.GET("/fees", feeHandler.List)
	authed.GET("/fees/summary", feeHandler.Summary)
	authed.GET("/fees/export", feeHandler.ExportCollections)
	authed.POST("/fees/overdue/sweep", adminOnly, feeHandler.SweepOverdue)
	authed.GET("/fees/:id", feeHandler.Get)
	authed.GET("/fees/:id/payments", feeHandler.ListPayments)
	authed.POST("/fees/:id/payments", adminOnly, feeHandler.RecordPayment)
	authed.GET("/fees/:id/payments/:paymentId/receipt", feeHandler.Receipt)
	authed.POST("/fees/:id/discounts", adminOnly, feeHandler.ApplyDiscount)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
