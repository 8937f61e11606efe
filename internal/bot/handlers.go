package bot

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/logger"
	"skynet-vpn-bot/internal/services"
)

const (
	tariffPrefix = "buy_tariff_"
	dateLayout   = "02.01.2006"
)

const helpText = `Доступные команды:
/buy — Купить или продлить подписку
/sub — Моя подписка
/help — Показать эту справку

Покупка: /buy → выберите тариф → оплатите по ссылке.
После оплаты бот пришлёт ссылку на подписку, она подходит для всех серверов.`

func (b *Bot) start(ctx context.Context, msg *tgbotapi.Message) {
	if _, err := b.ledger.UpsertUser(ctx, msg.From.ID, displayName(msg.From)); err != nil {
		b.log.Error("register user failed", zap.Int64("telegram_id", msg.From.ID), zap.Error(err))
		b.reply(msg.Chat.ID, "Не удалось зарегистрироваться, попробуйте позже.", msg.From.ID)
		return
	}
	logger.Info("user started bot", zap.Int64("telegram_id", msg.From.ID))
	b.reply(msg.Chat.ID, "Добро пожаловать в SkynetVPN! Для покупки подписки используйте /buy", msg.From.ID)
}

func (b *Bot) buy(ctx context.Context, msg *tgbotapi.Message) {
	tariffs, err := b.ledger.Tariffs(ctx)
	if err != nil {
		b.log.Error("list tariffs failed", zap.Error(err))
		b.reply(msg.Chat.ID, "Не удалось получить тарифы, попробуйте позже.", msg.From.ID)
		return
	}
	if len(tariffs) == 0 {
		b.reply(msg.Chat.ID, "Сейчас нет доступных тарифов. Попробуйте позже.", msg.From.ID)
		return
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, "Выберите тариф:")
	out.ReplyMarkup = TariffKeyboard(tariffs)
	b.send(out)
}

func (b *Bot) subscription(ctx context.Context, msg *tgbotapi.Message) {
	u, err := b.ledger.UserByTelegramID(ctx, msg.From.ID)
	if err != nil && !apperr.IsNotFound(err) {
		b.log.Error("load user failed", zap.Int64("telegram_id", msg.From.ID), zap.Error(err))
		b.reply(msg.Chat.ID, "Не удалось получить подписку, попробуйте позже.", msg.From.ID)
		return
	}
	if u == nil || !u.Active(b.now()) {
		b.reply(msg.Chat.ID, "У вас нет активной подписки. Для покупки используйте /buy.", msg.From.ID)
		return
	}
	link := services.SubscriptionURL(b.publicURL, u.Token)
	autoRenew := "выключено"
	if u.AutoRenew {
		autoRenew = "включено"
	}
	text := fmt.Sprintf("🗓 Подписка активна до %s\nУстройств: %d\nАвтопродление: %s\n\nСсылка на подписку:\n%s",
		u.SubEnd.In(b.location).Format(dateLayout), u.DeviceLimit, autoRenew, link)
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Подключиться", link)),
	)
	b.send(out)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || cb.Message == nil || !strings.HasPrefix(cb.Data, tariffPrefix) {
		return
	}
	tariffID, err := strconv.ParseUint(strings.TrimPrefix(cb.Data, tariffPrefix), 10, 64)
	if err != nil {
		b.answer(cb.ID, "Ошибка выбора тарифа")
		return
	}
	if b.limiter.IsLimited(cb.From.ID, "buy_tariff") {
		b.answer(cb.ID, "Подождите пару секунд...")
		return
	}
	if _, err := b.ledger.UpsertUser(ctx, cb.From.ID, displayName(cb.From)); err != nil {
		b.log.Error("register user failed", zap.Int64("telegram_id", cb.From.ID), zap.Error(err))
		b.answer(cb.ID, "Ошибка, попробуйте позже")
		return
	}

	link, err := b.checkout.Create(ctx, cb.From.ID, uint(tariffID), false)
	switch {
	case apperr.IsNotFound(err):
		b.answer(cb.ID, "Тариф недоступен")
		return
	case err != nil:
		b.log.Error("checkout failed", zap.Int64("telegram_id", cb.From.ID), zap.Uint64("tariff_id", tariffID), zap.Error(err))
		b.answer(cb.ID, "Ошибка создания платежа")
		return
	}

	msg := tgbotapi.NewMessage(cb.Message.Chat.ID, "Ссылка на оплату готова. После оплаты бот пришлёт ссылку на подписку.")
	msg.ReplyMarkup = PaymentKeyboard(link.URL, b.autoRenewURL(cb.From.ID, uint(tariffID)))
	b.send(msg)
	b.answer(cb.ID, "Платёж создан")
}

// autoRenewURL ведёт на /payment/checkout, который создаёт счёт с автопродлением.
func (b *Bot) autoRenewURL(telegramID int64, tariffID uint) string {
	q := url.Values{}
	q.Set("telegram_id", strconv.FormatInt(telegramID, 10))
	q.Set("tariff_id", strconv.FormatUint(uint64(tariffID), 10))
	q.Set("auto_renew", "true")
	return b.publicURL + "/payment/checkout?" + q.Encode()
}
