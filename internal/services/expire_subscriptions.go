package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skynet-vpn-bot/internal/logger"
)

// через сколько неоплаченный счёт считается брошенным; ссылка на оплату истекает раньше
const pendingTTL = 48 * time.Hour

// DisableExpiredSubscriptions снимает тариф с закончившихся подписок и уведомляет пользователя.
// Клиентов на серверах панели отключают сами по expiryTime.
func (j *Jobs) DisableExpiredSubscriptions(ctx context.Context) (int, error) {
	today := StartOfDay(j.now().In(j.location))
	users, err := j.ledger.LapsedUsers(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("lapsed users: %w", err)
	}
	for _, user := range users {
		if err := j.ledger.ClearTariff(ctx, user.ID); err != nil {
			return 0, fmt.Errorf("clear tariff of user %d: %w", user.ID, err)
		}
		if err := j.messenger.SendUser(ctx, user.TelegramID, logger.Message{Text: lapsedNotice}); err != nil {
			j.log.Warn("lapse notice not delivered", zap.Int64("telegram_id", user.TelegramID), zap.Error(err))
		}
	}
	if len(users) > 0 {
		j.log.Info("subscriptions lapsed", zap.Int("count", len(users)))
	}
	return len(users), nil
}

// CleanupPendingPayments помечает брошенными старые неоплаченные счета.
// Записи не удаляются: подтверждение от Robokassa может прийти позже.
func (j *Jobs) CleanupPendingPayments(ctx context.Context) (int64, error) {
	n, err := j.ledger.AbandonStalePayments(ctx, j.now().Add(-pendingTTL))
	if err != nil {
		return 0, fmt.Errorf("abandon stale payments: %w", err)
	}
	if n > 0 {
		j.log.Info("stale payments abandoned", zap.Int64("count", n))
	}
	return n, nil
}
