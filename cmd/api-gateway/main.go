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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campuskit/library-api/api/swagger"
	"github.com/campuskit/library-api/internal/handler"
	"github.com/campuskit/library-api/internal/middleware"
	"github.com/campuskit/library-api/internal/models"
	"github.com/campuskit/library-api/internal/repository"
	"github.com/campuskit/library-api/internal/service"
	"github.com/campuskit/library-api/pkg/cache"
	"github.com/campuskit/library-api/pkg/config"
	"github.com/campuskit/library-api/pkg/database"
	"github.com/campuskit/library-api/pkg/logger"
	"github.com/campuskit/library-api/pkg/mailer"
	corsmiddleware "github.com/campuskit/library-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campuskit/library-api/pkg/middleware/requestid"
)

// @title Library Portal API
// @version 1.0.0
// @description University library backend: catalog, lending, requests and recommendations
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	metricsService := service.NewMetricsService()

	var cacheService *service.CacheService
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, running without cache", "error", err)
	} else {
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheService = service.NewCacheService(cacheRepo, metricsService, cfg.Recommendations.CacheTTL, logr, true)
	}

	userRepo := repository.NewUserRepository(db)
	bookRepo := repository.NewBookRepository(db)
	loanRepo := repository.NewLoanRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	recommendationRepo := repository.NewRecommendationRepository(db)

	finePolicy := service.NewFinePolicy(cfg.Loans.PeriodDays, cfg.Loans.FineRatePerDay)

	notificationService := service.NewNotificationService(
		mailer.NewSMTPSender(cfg.SMTP, logr),
		cfg.Notifications,
		logr,
	)
	notificationService.Start(context.Background())
	defer notificationService.Stop()

	var reranker service.Reranker
	if ai := service.NewAIRecommender(cfg.AI, logr); ai != nil {
		reranker = ai
	}
	recommendationService := service.NewRecommendationService(
		recommendationRepo,
		cacheService,
		reranker,
		cfg.Recommendations.CacheTTL,
		cfg.Recommendations.DefaultLimit,
		logr,
	)

	authService := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "library-api",
	})
	userService := service.NewUserService(userRepo, nil, logr)
	catalogService := service.NewCatalogService(bookRepo, cacheService, userRepo, nil, logr)
	loanService := service.NewLoanService(loanRepo, userRepo, bookRepo, finePolicy, userRepo, notificationService, recommendationService, nil, logr)
	requestService := service.NewRequestService(requestRepo, bookRepo, loanRepo, finePolicy, userRepo, notificationService, recommendationService, nil, logr)
	dashboardService := service.NewDashboardService(loanRepo, requestRepo, bookRepo, userRepo, finePolicy, cacheService, cfg.Dashboard.CacheTTL, logr)
	exportService := service.NewExportService(loanRepo, finePolicy, nil, nil, logr)

	if cfg.Overdue.Enabled {
		scheduler := service.NewOverdueScheduler(loanService, cfg.Overdue.ScanInterval, logr)
		scheduler.Start(context.Background())
		defer scheduler.Stop()
	}

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	bookHandler := handler.NewBookHandler(catalogService)
	loanHandler := handler.NewLoanHandler(loanService)
	requestHandler := handler.NewRequestHandler(requestService)
	recommendationHandler := handler.NewRecommendationHandler(recommendationService)
	dashboardHandler := handler.NewDashboardHandler(dashboardService)
	exportHandler := handler.NewExportHandler(exportService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	users := api.Group("/users", middleware.JWT(authService))
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian), userHandler.List)
		users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleLibrarian), "SELF"), userHandler.Get)
		users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
		users.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
	}

	books := api.Group("/books")
	{
		books.GET("", bookHandler.List)
		books.GET("/:id", bookHandler.Get)
		books.POST("", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian), bookHandler.Create)
		books.PUT("/:id", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian), bookHandler.Update)
		books.DELETE("/:id", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin), bookHandler.Delete)
	}
	api.GET("/departments", bookHandler.Departments)
	api.GET("/categories", bookHandler.Categories)

	loans := api.Group("/loans", middleware.JWT(authService))
	{
		loans.GET("", loanHandler.List)
		loans.GET("/:id", loanHandler.Get)
		loans.POST("", middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian), loanHandler.Issue)
		loans.POST("/:id/return", loanHandler.Return)
	}

	requests := api.Group("/requests", middleware.JWT(authService))
	{
		requests.GET("", requestHandler.List)
		requests.GET("/:id", requestHandler.Get)
		requests.POST("", requestHandler.Create)
		requests.POST("/:id/approve", middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian), requestHandler.Approve)
		requests.POST("/:id/reject", middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian), requestHandler.Reject)
	}

	api.GET("/recommendations", middleware.OptionalJWT(authService), recommendationHandler.Recommend)

	dashboard := api.Group("/dashboard", middleware.JWT(authService))
	{
		dashboard.GET("", dashboardHandler.Me)
		dashboard.GET("/student", dashboardHandler.Student)
		dashboard.GET("/librarian", middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian), dashboardHandler.Librarian)
		dashboard.GET("/admin", middleware.RequireRoles(models.RoleAdmin), dashboardHandler.Admin)
	}

	exports := api.Group("/exports",
		middleware.JWT(authService),
		middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian),
		middleware.Audit(userRepo, "EXPORT_DOWNLOAD", "export"),
	)
	{
		exports.GET("/loans", exportHandler.Loans)
		exports.GET("/overdue", exportHandler.Overdue)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
