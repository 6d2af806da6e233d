package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"whispr/internal/config"
	"whispr/internal/db"
	"whispr/internal/handlers"
	"whispr/internal/identity"
	"whispr/internal/mailer"
	"whispr/internal/middleware"
	"whispr/internal/observability"
	"whispr/internal/rabbitmq"
	"whispr/internal/repositories"
	"whispr/internal/telemetry"
	"whispr/internal/ws"
)

const serviceName = "whispr"

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, serviceName, logger)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	database, err := db.Connect(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)

	audit := telemetry.NewAuditEmitter(publisher, "audit.sessions", serviceName, cfg.Environment, logger)
	inviteMailer := mailer.NewInviteMailer(publisher, cfg.MailFrom, cfg.SiteURL, logger)
	tokens := identity.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
	} else {
		logger.Warn("redis not configured; sign-in codes disabled and realtime stays local to this instance")
	}

	var bus ws.Bus
	if rdb != nil {
		bus = ws.NewRedisBus(rdb, logger)
	}
	hub := ws.NewHub(bus, logger)
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("realtime bus stopped", zap.Error(err))
		}
	}()

	sessionRepo := repositories.NewSessionRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	sessionHandler := handlers.NewSessionHandler(sessionRepo, messageRepo, inviteMailer, audit, logger)
	messageHandler := handlers.NewMessageHandler(sessionRepo, messageRepo, hub, logger)
	chatWS := ws.NewChatWebSocketHandler(hub, sessionRepo, tokens, logger)

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(observability.RequestIDMiddleware())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(tokens)
	optionalAuth := middleware.OptionalAuth(tokens)

	if rdb != nil {
		otp := identity.NewOTPProvider(rdb, inviteMailer, logger)
		authHandler := handlers.NewAuthHandler(otp, tokens, logger)
		router.POST("/auth/code", authHandler.RequestCode)
		router.POST("/auth/verify", authHandler.VerifyCode)
	}

	router.POST("/send-invite", authMiddleware, sessionHandler.SendInvite)
	router.POST("/validate-join", sessionHandler.ValidateJoin)
	router.POST("/end-chat-session", sessionHandler.EndChatSession)
	router.GET("/chats/:chat_id", sessionHandler.GetSession)
	router.GET("/chats/:chat_id/messages", messageHandler.ListMessages)
	router.POST("/chats/:chat_id/messages", optionalAuth, messageHandler.PostMessage)

	router.GET("/ws/chats/:chat_id", chatWS.Handle)

	router.GET("/metrics", observability.MetricsHandler())
	router.GET("/healthz", handlers.Health(database))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
