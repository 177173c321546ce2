package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"curaj-bot/internal/config"
	"curaj-bot/internal/domain"
	"curaj-bot/internal/llm"
	"curaj-bot/internal/qa"
	"curaj-bot/internal/repository"
	"curaj-bot/internal/service"
	"curaj-bot/internal/telegram"
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

	if cfg.TelegramToken == "" {
		logger.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

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

	chatSvc := service.NewChatService(
		resolver,
		repository.NewMemorySessionRepository(),
		service.NewMessageService(repository.NewMemoryMessageRepository()),
		logger,
		service.ChatOptions{
			Greeting:      table.Greeting(),
			SessionTTL:    cfg.SessionTTL,
			Serialize:     cfg.ChatSerialize,
			SweepInterval: cfg.SweepInterval,
		},
	)
	defer chatSvc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// El handler necesita el bot como sender y el bot necesita el handler por defecto.
	var h *telegram.Handler
	b, err := bot.New(cfg.TelegramToken,
		bot.WithMiddlewares(telegram.Recover(logger), telegram.Logging(logger)),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if h == nil {
				return
			}
			h.HandleText(ctx, b, update)
		}),
	)
	if err != nil {
		logger.Fatal("create bot", zap.Error(err))
	}

	h = telegram.NewHandler(chatSvc, b, logger)
	h.Register(b)

	me, err := b.GetMe(ctx)
	if err != nil {
		logger.Fatal("get bot info", zap.Error(err))
	}

	logger.Info("starting telegram bot",
		zap.String("username", me.Username),
		zap.String("mode", string(resolver.Mode())),
	)
	b.Start(ctx)
	logger.Info("telegram bot stopped")
}
