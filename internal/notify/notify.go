// Package notify is the fire-and-forget notification sink invoked after
// bid placement and sales. Failures are logged, never propagated.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	KindBid  = "bid"
	KindSale = "sale"
)

type Notification struct {
	Kind     string
	Receiver string
	Sender   string
	Value    decimal.Decimal
	Info     string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Log writes notifications to the service log. Default sink when no
// telegram credentials are configured.
type Log struct {
	Logger *zap.Logger
}

func (l *Log) Notify(ctx context.Context, n Notification) error {
	if l == nil || l.Logger == nil {
		return nil
	}
	l.Logger.Info("notification",
		zap.String("kind", n.Kind),
		zap.String("receiver", n.Receiver),
		zap.String("sender", n.Sender),
		zap.String("value", n.Value.String()),
		zap.String("info", n.Info),
	)
	return nil
}

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	if t == nil || t.bot == nil {
		return nil
	}
	text := fmt.Sprintf("[%s] %s -> %s: %s %s", n.Kind, n.Sender, n.Receiver, n.Value.String(), n.Info)
	_, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text))
	return err
}
