// Package admin handles the operator commands of the bot.
package admin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/logger"
	"skynet-vpn-bot/internal/services"
)

const dateLayout = "02.01.2006"

type Handler struct {
	bot       logger.Sender
	ledger    *db.Ledger
	updater   *services.AdminUpdater
	backup    *Backup
	isAdmin   func(int64) bool
	publicURL string
	location  *time.Location
	now       func() time.Time
	log       *zap.Logger
}

type Config struct {
	IsAdmin   func(int64) bool
	PublicURL string
	Location  *time.Location
}

func NewHandler(bot logger.Sender, ledger *db.Ledger, updater *services.AdminUpdater, backup *Backup, cfg Config, log *zap.Logger) *Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Handler{
		bot:       bot,
		ledger:    ledger,
		updater:   updater,
		backup:    backup,
		isAdmin:   cfg.IsAdmin,
		publicURL: cfg.PublicURL,
		location:  cfg.Location,
		now:       time.Now,
		log:       log,
	}
}

func (h *Handler) IsAdmin(userID int64) bool {
	return h.isAdmin != nil && h.isAdmin(userID)
}

// HandleCommand выполняет /admin_* команду. Чужие сообщения игнорируются.
func (h *Handler) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || msg.From == nil || !h.IsAdmin(msg.From.ID) {
		return
	}
	defer logger.NotifyOnPanic("admin command " + msg.Command())

	cmd := msg.Command()
	args := strings.Fields(msg.CommandArguments())
	var reply string
	switch cmd {
	case "admin_stats":
		reply = h.stats(ctx)
	case "admin_user":
		reply = h.user(ctx, args)
	case "admin_update":
		reply = h.update(ctx, args)
	case "admin_servers":
		reply = h.servers(ctx)
	case "admin_backup":
		h.sendBackup(ctx, msg.Chat.ID)
	default:
		reply = "Неизвестная команда администратора"
	}
	if reply != "" {
		h.send(tgbotapi.NewMessage(msg.Chat.ID, reply))
	}
	logger.LogAdminAction(msg.From.ID, cmd, msg.Text)
}

func (h *Handler) send(c tgbotapi.Chattable) {
	if _, err := h.bot.Send(c); err != nil {
		h.log.Error("admin reply failed", zap.Error(err))
	}
}

func (h *Handler) stats(ctx context.Context) string {
	now := h.now()
	users, err := h.ledger.CountUsers(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	active, err := h.ledger.CountActiveSubscriptions(ctx, now)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	today := services.StartOfDay(now.In(h.location))
	todaySum, err := h.ledger.SumPaid(ctx, today, now)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	monthSum, err := h.ledger.SumPaid(ctx, now.AddDate(0, 0, -30), now)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	allSum, err := h.ledger.SumPaid(ctx, time.Time{}, now)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("Пользователей: %d\nАктивных подписок: %d\nПлатежи: сегодня: %s₽, 30 дней: %s₽, всего: %s₽",
		users, active, todaySum.StringFixed(2), monthSum.StringFixed(2), allSum.StringFixed(2))
}

func (h *Handler) user(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Использование: /admin_user <telegram_id>"
	}
	tgID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Некорректный telegram_id"
	}
	u, err := h.ledger.UserByTelegramID(ctx, tgID)
	if apperr.IsNotFound(err) {
		return "Пользователь не найден"
	}
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	links, err := h.ledger.ClientLinks(ctx, u.ID)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	provisioned := 0
	for _, l := range links {
		if l.Provisioned {
			provisioned++
		}
	}
	subEnd := "нет"
	if u.SubEnd != nil {
		subEnd = u.SubEnd.In(h.location).Format(dateLayout)
	}
	tariff := "нет"
	if u.TariffID != 0 {
		if t, err := h.ledger.TariffByID(ctx, u.TariffID); err == nil {
			tariff = services.DaysLabel(t.Days)
		} else {
			tariff = "Тариф удален"
		}
	}
	return fmt.Sprintf("Пользователь %s (%d)\nE-mail: %s\nТариф: %s\nПодписка до: %s\nУстройств: %d\nАвтопродление: %v\nСерверов: %d из %d\nСсылка: %s",
		u.Name, u.TelegramID, u.Email, tariff, subEnd, u.DeviceLimit, u.AutoRenew, provisioned, len(links),
		services.SubscriptionURL(h.publicURL, u.Token))
}

// update: /admin_update <tg_id> <devices> <YYYY-MM-DD>.
// Итог и ошибки ввода AdminUpdater сам отправляет операторам.
func (h *Handler) update(ctx context.Context, args []string) string {
	if len(args) != 3 {
		return "Использование: /admin_update <telegram_id> <устройств> <ГГГГ-ММ-ДД>"
	}
	tgID, err1 := strconv.ParseInt(args[0], 10, 64)
	devices, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return "telegram_id и число устройств должны быть числами"
	}
	_, err := h.updater.Update(ctx, services.AdminUpdateRequest{TelegramID: tgID, Devices: devices, SubTime: args[2]})
	switch {
	case err == nil, errors.Is(err, apperr.ErrMalformedInput):
		return ""
	case apperr.IsNotFound(err):
		return "Пользователь не найден"
	default:
		return "Ошибка: " + err.Error()
	}
}

func (h *Handler) servers(ctx context.Context) string {
	statuses, err := services.ServerStatuses(ctx, h.ledger)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	return services.FormatServerStatuses(statuses)
}

func (h *Handler) sendBackup(ctx context.Context, chatID int64) {
	filename, err := h.backup.Create(ctx, "backup")
	if err != nil {
		logger.Error("backup command failed", zap.Error(err))
		h.send(tgbotapi.NewMessage(chatID, "Ошибка резервного копирования: "+err.Error()))
		return
	}
	file := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(filename))
	file.Caption = "Резервная копия БД успешно создана"
	h.send(file)
	_ = os.Remove(filename)
}
