package services

import (
	"context"
	"fmt"
	"time"

	"skynet-vpn-bot/internal/logger"
	"skynet-vpn-bot/internal/panel"
)

// Messenger доставляет уведомления. Пользователи и операторы получают разные тексты.
type Messenger interface {
	SendUser(ctx context.Context, chatID int64, m logger.Message) error
	SendOperators(ctx context.Context, text string)
}

// PanelSource выдаёт адаптер панели по ID сервера.
type PanelSource interface {
	Adapter(serverID uint) (panel.Adapter, error)
}

// StartOfDay обрезает время до полуночи в зоне t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SubscriptionURL строит ссылку на профиль подписки пользователя.
func SubscriptionURL(publicURL, token string) string {
	return fmt.Sprintf("%s/api/subscription?token=%s", publicURL, token)
}

func userLockKey(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}
