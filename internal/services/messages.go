package services

import (
	"fmt"
	"strings"
	"time"

	"skynet-vpn-bot/internal/logger"
)

const (
	dateLayout     = "02.01.2006"
	connectButton  = "Подключиться"
	expiringNotice = "⏳ Ваша подписка истекает %s. Продлить: /buy"
	lapsedNotice   = "Ваша подписка завершена, для продления воспользуйтесь ботом: /buy"
)

// DaysLabel переводит длительность тарифа в подпись: "1 месяц", "3 месяца", "14 дней".
func DaysLabel(days int) string {
	switch {
	case days == 365:
		return "1 год"
	case days >= 30 && days%30 == 0:
		m := days / 30
		return fmt.Sprintf("%d %s", m, plural(m, "месяц", "месяца", "месяцев"))
	}
	return fmt.Sprintf("%d %s", days, plural(days, "день", "дня", "дней"))
}

func plural(n int, one, few, many string) string {
	n = n % 100
	if n >= 11 && n <= 14 {
		return many
	}
	switch n % 10 {
	case 1:
		return one
	case 2, 3, 4:
		return few
	}
	return many
}

func settledMessage(subEnd time.Time, url string) logger.Message {
	return logger.Message{
		Text: fmt.Sprintf("✅ Спасибо! Вы оформили подписку!\n\n🗓 Ваша подписка активна до %s\n\n"+
			"Для автоматического подключения нажмите кнопку «%s».\n\n"+
			"Для ручного ввода скопируйте ключ:\n%s", subEnd.Format(dateLayout), connectButton, url),
		ButtonText: connectButton,
		ButtonURL:  url,
		QRPayload:  url,
	}
}

func recurringMessage(subEnd time.Time, amount string, url string) logger.Message {
	return logger.Message{
		Text: fmt.Sprintf("Ваша подписка продлена до %s\nСумма списания: %s ₽\n\nВаш ключ для подключения:\n%s",
			subEnd.Format(dateLayout), amount, url),
		ButtonText: connectButton,
		ButtonURL:  url,
	}
}

func failedServersText(what string, failed []ServerOutcome) string {
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		parts = append(parts, fmt.Sprintf("%s (#%d): %s", f.ServerName, f.ServerID, f.Reason))
	}
	return fmt.Sprintf("%s: не удалось обновить серверы %d шт.\n%s", what, len(failed), strings.Join(parts, "\n"))
}
