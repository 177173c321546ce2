package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"curaj-bot/internal/config"
	"curaj-bot/internal/domain"
	apihttp "curaj-bot/internal/http"
	"curaj-bot/internal/llm"
	"curaj-bot/internal/qa"
	"curaj-bot/internal/repository"
	"curaj-bot/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	table, err := qa.Load(cfg.QATablePath)
	if err != nil {
		logger.Fatal("qa table", zap.Error(err))
	}

	var backend llm.Client
	if cfg.ResolverMode == domain.ModeLive {
		backend = llm.NewHTTPClient(cfg.BackendURL, cfg.BackendTimeout, logger)
	}
	resolver, err := service.NewResolver(service.ResolverConfig{
		Mode:            cfg.ResolverMode,
		Table:           table,
		Backend:         backend,
		MinDelay:        cfg.MinDelay(),
		MaxDelay:        cfg.MaxDelay(),
		LiveMaxInFlight: cfg.LiveMaxInFlight,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("resolver", zap.Error(err))
	}

	var (
		sessionRepo repository.SessionRepository = repository.NewMemorySessionRepository()
		messageRepo repository.MessageRepository = repository.NewMemoryMessageRepository()
		limiter     service.MessageRateLimiter
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, keeping sessions in memory", zap.Error(err))
		} else {
			sessionRepo = repository.NewRedisSessionRepository(redisClient)
			messageRepo = repository.NewRedisMessageRepository(redisClient, cfg.SessionTTL)
			if cfg.RateLimitPerMinute > 0 {
				limiter = service.NewRedisRateLimiter(redisClient, time.Minute, cfg.RateLimitPerMinute)
			}
		}
		cancel()
	}

	chatSvc := service.NewChatService(resolver, sessionRepo, service.NewMessageService(messageRepo), logger, service.ChatOptions{
		Greeting:      table.Greeting(),
		SessionTTL:    cfg.SessionTTL,
		Serialize:     cfg.ChatSerialize,
		Limiter:       limiter,
		SweepInterval: cfg.SweepInterval,
	})
	defer chatSvc.Close()

	jwtSvc := service.NewJWTService(cfg.SessionSecret)
	if !jwtSvc.Enabled() {
		logger.Warn("session secret not configured, session tokens disabled")
	}

	chatHandler := apihttp.NewChatHandler(logger, chatSvc, jwtSvc)
	queryHandler := apihttp.NewQueryHandler(logger, resolver)
	router := apihttp.NewRouter(logger, chatHandler, queryHandler, jwtSvc)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server",
			zap.String("port", cfg.HTTPPort),
			zap.String("mode", string(resolver.Mode())),
			zap.Bool("serialize", cfg.ChatSerialize),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}
