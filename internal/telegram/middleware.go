package telegram

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Recover evita que un panic en un handler tire abajo el bot.
func Recover(logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic recovered in telegram handler",
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())),
					)
				}
			}()
			next(ctx, b, update)
		}
	}
}

// Logging registra cada update con su duración.
func Logging(logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()
			next(ctx, b, update)
			if update.Message != nil {
				logger.Info("telegram update",
					zap.Int64("chat_id", update.Message.Chat.ID),
					zap.Duration("latency", time.Since(start)),
				)
			}
		}
	}
}
