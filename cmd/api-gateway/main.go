package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/campusiq-api/api/swagger"
	"github.com/noah-isme/campusiq-api/internal/middleware"
	"github.com/noah-isme/campusiq-api/internal/models"
	"github.com/noah-isme/campusiq-api/internal/wire"
	"github.com/noah-isme/campusiq-api/pkg/config"
	"github.com/noah-isme/campusiq-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campusiq-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campusiq-api/pkg/middleware/requestid"
)

const shutdownTimeout = 15 * time.Second

// @title CampusIQ API
// @version 1.0.0
// @description Permission request routing, escalation and audit tracking
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := wire.Build(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to build application", zap.Error(err))
	}
	defer app.Close()

	// Workers outlive the signal so notifications from in-flight requests still go out.
	app.Dispatcher.Start(context.Background())
	var sweeps <-chan struct{}
	if cfg.Escalation.Enabled {
		sweeps = app.Escalations.Start(ctx)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, app, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	if sweeps != nil {
		<-sweeps
	}
	app.Dispatcher.Stop()
}

func newRouter(cfg *config.Config, app *wire.App, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.Metrics, "/metrics", "/health", "/ready"))

	h := app.Handlers
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(app.Auth), middleware.WithResponseMeta())

	staffOnly := middleware.RejectRoles(models.RoleStudent)

	requests := api.Group("/requests")
	requests.POST("", h.Permissions.Create)
	requests.GET("/submitted", h.Permissions.Submitted)
	requests.GET("/received", h.Permissions.Received)
	requests.GET("/recipients", h.Permissions.Recipients)
	requests.POST("/bulk-forward", staffOnly, h.Permissions.BulkForward)
	requests.GET("/:id/forward-options", staffOnly, h.Permissions.ForwardOptions)
	requests.POST("/:id/forward", staffOnly, h.Permissions.Forward)
	requests.POST("/:id/reassign", staffOnly, h.Permissions.Reassign)
	requests.POST("/:id/approve", staffOnly, h.Permissions.Approve)
	requests.POST("/:id/reject", staffOnly, h.Permissions.Reject)
	requests.DELETE("/:id", h.Permissions.Delete)
	requests.GET("/:id/track", h.Permissions.Track)
	requests.GET("/:id/track/export", h.Permissions.ExportTrack)

	if cfg.Dashboard.Enabled {
		api.GET("/dashboard", h.Dashboard.Summary)
	}

	api.POST("/escalations/run", middleware.RequireRoles(models.RolePrincipal), h.Escalations.Run)

	return r
}
