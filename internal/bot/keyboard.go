package bot

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/services"
)

func ReplyKeyboard(isAdmin bool) tgbotapi.ReplyKeyboardMarkup {
	if isAdmin {
		return tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/admin_stats"),
				tgbotapi.NewKeyboardButton("/admin_servers"),
				tgbotapi.NewKeyboardButton("/admin_backup"),
			),
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/buy"),
				tgbotapi.NewKeyboardButton("/sub"),
			),
		)
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/buy"),
			tgbotapi.NewKeyboardButton("/sub"),
			tgbotapi.NewKeyboardButton("/help"),
		),
	)
}

// TariffKeyboard — по кнопке на тариф: "1 месяц — 299 ₽".
func TariffKeyboard(tariffs []db.Tariff) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(tariffs))
	for _, t := range tariffs {
		label := fmt.Sprintf("%s — %s ₽", services.DaysLabel(t.Days), t.Price.String())
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, tariffPrefix+strconv.FormatUint(uint64(t.ID), 10)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func PaymentKeyboard(payURL, autoRenewURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Оплатить", payURL)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Оплатить с автопродлением", autoRenewURL)),
	)
}
