package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"skynet-vpn-bot/internal/admin"
	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/logger"
	"skynet-vpn-bot/internal/services"
)

// API — часть tgbotapi.BotAPI, которой пользуется бот.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Config struct {
	PublicURL string
	Location  *time.Location
}

type Bot struct {
	api       API
	ledger    *db.Ledger
	checkout  *services.Checkout
	admin     *admin.Handler
	limiter   *RateLimiter
	publicURL string
	location  *time.Location
	now       func() time.Time
	log       *zap.Logger
}

func New(api API, ledger *db.Ledger, checkout *services.Checkout, adminHandler *admin.Handler, cfg Config, log *zap.Logger) *Bot {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Bot{
		api:       api,
		ledger:    ledger,
		checkout:  checkout,
		admin:     adminHandler,
		limiter:   NewRateLimiter(adminHandler.IsAdmin),
		publicURL: cfg.PublicURL,
		location:  cfg.Location,
		now:       time.Now,
		log:       log,
	}
}

// Run обрабатывает апдейты до отмены ctx или закрытия канала.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer logger.NotifyOnPanic("bot update")

	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	msg := update.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return
	}

	userID := msg.From.ID
	cmd := msg.Command()
	if b.limiter.IsLimited(userID, cmd) {
		b.reply(msg.Chat.ID, "Пожалуйста, не так быстро! Подождите пару секунд...", userID)
		return
	}
	if strings.HasPrefix(cmd, "admin_") && b.admin.IsAdmin(userID) {
		b.admin.HandleCommand(ctx, msg)
		return
	}

	switch cmd {
	case "start":
		b.start(ctx, msg)
	case "buy":
		b.buy(ctx, msg)
	case "sub":
		b.subscription(ctx, msg)
	case "help":
		b.reply(msg.Chat.ID, helpText, userID)
	default:
		b.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help для списка всех возможностей.", userID)
	}
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Error("telegram send failed", zap.Error(err))
	}
}

func (b *Bot) reply(chatID int64, text string, userID int64) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = ReplyKeyboard(b.admin.IsAdmin(userID))
	b.send(msg)
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Warn("callback answer failed", zap.Error(err))
	}
}

// displayName: username, а без него имя и фамилия.
func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
