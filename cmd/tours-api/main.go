package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/hearthview/tours-api/api/swagger"
	"github.com/hearthview/tours-api/internal/handler"
	"github.com/hearthview/tours-api/internal/live"
	"github.com/hearthview/tours-api/internal/middleware"
	"github.com/hearthview/tours-api/internal/models"
	"github.com/hearthview/tours-api/internal/repository"
	"github.com/hearthview/tours-api/internal/service"
	"github.com/hearthview/tours-api/pkg/cache"
	"github.com/hearthview/tours-api/pkg/config"
	"github.com/hearthview/tours-api/pkg/database"
	"github.com/hearthview/tours-api/pkg/jobs"
	"github.com/hearthview/tours-api/pkg/logger"
	corsmiddleware "github.com/hearthview/tours-api/pkg/middleware/cors"
	reqidmiddleware "github.com/hearthview/tours-api/pkg/middleware/requestid"
)

// @title HearthView Tours API
// @version 1.0.0
// @description Tour scheduling and availability engine for the HearthView property marketplace.
// @BasePath /api/v1
// @schemes http

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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var cacheRepo *repository.CacheRepository
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Sugar().Warnw("redis unavailable, availability caching disabled", "error", err)
	} else {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		defer cacheRepo.Close() //nolint:errcheck
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	calendarRepo := repository.NewCalendarRepository(db)

	hub := live.NewHub(cfg.Live.HeartbeatInterval, cfg.Live.SubscriberBuffer, logr)
	go hub.Run(rootCtx)

	var provider service.CalendarProvider
	if cfg.Calendar.Enabled {
		provider = service.NewHTTPCalendarProvider(cfg.Calendar.BaseURL, cfg.Calendar.TokenURL, cfg.Calendar.RequestTimeout)
	}
	calendarSvc := service.NewCalendarService(calendarRepo, bookingRepo, provider, metricsSvc, logr, cfg.Calendar.Enabled)
	syncQueue := jobs.NewQueue("calendar-sync", calendarSvc.HandleSyncJob, jobs.QueueConfig{
		Workers:    cfg.Calendar.SyncWorkers,
		MaxRetries: cfg.Calendar.SyncRetries,
		RetryDelay: cfg.Calendar.SyncRetryDelay,
		Logger:     logr,
	})
	syncQueue.Start(rootCtx)
	defer syncQueue.Stop()
	calendarSvc.AttachQueue(syncQueue)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     "hearthview-tours",
	})
	availabilitySvc := service.NewAvailabilityService(availabilityRepo, bookingRepo, cacheRepo, calendarSvc, metricsSvc, validate, logr, cfg.Tours)
	bookingSvc := service.NewBookingService(bookingRepo, availabilitySvc, hub, calendarSvc, metricsSvc, validate, logr, cfg.Tours)

	authHandler := handler.NewAuthHandler(authSvc)
	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc)
	bookingHandler := handler.NewBookingHandler(bookingSvc)
	calendarHandler := handler.NewCalendarHandler(calendarSvc)
	eventsHandler := handler.NewEventsHandler(hub, metricsSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.GET("/auth/me", authHandler.Me)

		authed.GET("/agents/:agentID/availability", availabilityHandler.GetDay)
		authed.GET("/agents/:agentID/availability/recurring", availabilityHandler.ListRecurring)
		authed.GET("/agents/:agentID/blocked-times", availabilityHandler.ListBlocked)

		agentOnly := authed.Group("")
		agentOnly.Use(middleware.RBAC(string(models.RoleAdmin), "SELF"))
		{
			agentOnly.POST("/agents/:agentID/availability/recurring", availabilityHandler.CreateRecurring)
			agentOnly.PUT("/agents/:agentID/availability/recurring/:id", availabilityHandler.UpdateRecurring)
			agentOnly.DELETE("/agents/:agentID/availability/recurring/:id", availabilityHandler.DeleteRecurring)
			agentOnly.POST("/agents/:agentID/blocked-times", availabilityHandler.CreateBlocked)
			agentOnly.DELETE("/agents/:agentID/blocked-times/:id", availabilityHandler.DeleteBlocked)
		}

		authed.GET("/bookings", bookingHandler.List)
		authed.GET("/bookings/check", bookingHandler.Check)
		authed.POST("/bookings", middleware.RequireRoles(models.RoleRequester, models.RoleAdmin), bookingHandler.Create)
		authed.GET("/bookings/:id", bookingHandler.Get)
		authed.POST("/bookings/:id/transition", bookingHandler.Transition)
		authed.GET("/bookings/:id/participants", bookingHandler.Participants)

		authed.GET("/calendar/link", calendarHandler.Get)
		authed.POST("/calendar/link", calendarHandler.Link)
		authed.DELETE("/calendar/link", calendarHandler.Unlink)

		authed.GET("/events/:topic", eventsHandler.Stream)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
