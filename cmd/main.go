// Command clawcierge runs the registry-and-dispatch server: it wires the
// credential store, persistent store, connection registry, policy engine,
// capability sandbox, pipeline executor, dispatch orchestrator, and agent
// channel handler into a single Gin process.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/morioust/clawcierge/internal/auth"
	"github.com/morioust/clawcierge/internal/config"
	"github.com/morioust/clawcierge/internal/db"
	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/handlers"
	"github.com/morioust/clawcierge/internal/logger"
	"github.com/morioust/clawcierge/internal/middleware"
	"github.com/morioust/clawcierge/internal/pipeline"
	"github.com/morioust/clawcierge/internal/policy"
	"github.com/morioust/clawcierge/internal/registry"
	"github.com/morioust/clawcierge/internal/sandbox"
	"github.com/morioust/clawcierge/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	database, err := db.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run schema migration")
	}

	policyEngine, err := policy.NewEngine()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build policy engine")
	}
	capabilitySandbox := sandbox.New()
	executor := pipeline.NewExecutor(policyEngine, capabilitySandbox, cfg.PipelineStageTimeout)

	connectionRegistry := registry.New()
	dispatcher := services.NewDispatcher(database, connectionRegistry, executor, cfg.RequestExpiry)

	sweeper := services.NewExpirySweeper(database)
	if err := sweeper.Start(cfg.ExpirySweepInterval); err != nil {
		log.Fatal().Err(err).Msg("failed to start expiry sweeper")
	}
	defer sweeper.Stop()

	adminPasswordHash := cfg.AdminPasswordHash
	if adminPasswordHash == "" {
		hash, err := auth.HashPassword(getEnvOrDefault("ADMIN_PASSWORD", "change-me"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to hash default admin password")
		}
		adminPasswordHash = hash
		log.Warn().Msg("ADMIN_PASSWORD_HASH not set; using a hashed default — set it for any non-development deployment")
	}
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTokenDuration)

	agentHandler := handlers.NewAgentHandler(database, dispatcher, policyEngine)
	channelHandler := handlers.NewAgentWebSocketHandler(database, connectionRegistry, cfg.WSMaxMessageSize, cfg.WSHeartbeatInterval, cfg.WSHeartbeatTimeout)
	adminHandler := handlers.NewAdminHandler(database, connectionRegistry, jwtManager, cfg.AdminUsername, adminPasswordHash)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger())
	router.Use(apperrors.Recovery())
	router.Use(apperrors.ErrorHandler())
	router.Use(middleware.SecurityHeaders())
	if cfg.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(float64(cfg.RateLimitRPM)/60.0, cfg.RateLimitRPM)
		router.Use(limiter.Middleware())
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/v1/agents/:id/ws", channelHandler.HandleConnection)

	v1 := router.Group("/v1")
	v1.Use(middleware.TimeoutWithDuration(30 * time.Second))
	agentHandler.RegisterRoutes(v1, database)
	adminHandler.RegisterRoutes(v1)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("clawcierge server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
