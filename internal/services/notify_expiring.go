package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/logger"
)

// Jobs — периодические задачи жизненного цикла подписки.
type Jobs struct {
	ledger    *db.Ledger
	messenger Messenger
	location  *time.Location
	now       func() time.Time
	log       *zap.Logger
}

func NewJobs(ledger *db.Ledger, messenger Messenger, location *time.Location, now func() time.Time, log *zap.Logger) *Jobs {
	if now == nil {
		now = time.Now
	}
	return &Jobs{ledger: ledger, messenger: messenger, location: location, now: now, log: log}
}

// NotifyExpiringSubscriptions отправляет уведомления пользователям о скором окончании подписки
func (j *Jobs) NotifyExpiringSubscriptions(ctx context.Context, daysBefore int) (int, error) {
	now := j.now()
	users, err := j.ledger.UsersExpiringBetween(ctx, now, now.AddDate(0, 0, daysBefore))
	if err != nil {
		return 0, fmt.Errorf("expiring users: %w", err)
	}
	sent := 0
	for _, user := range users {
		text := fmt.Sprintf(expiringNotice, user.SubEnd.In(j.location).Format(dateLayout))
		if err := j.messenger.SendUser(ctx, user.TelegramID, logger.Message{Text: text}); err != nil {
			j.log.Warn("expiring notice not delivered", zap.Int64("telegram_id", user.TelegramID), zap.Error(err))
			continue
		}
		if err := j.ledger.MarkExpiringNotified(ctx, user.ID); err != nil {
			return sent, fmt.Errorf("mark notified user %d: %w", user.ID, err)
		}
		sent++
	}
	if sent > 0 {
		j.log.Info("expiring notices sent", zap.Int("count", sent))
	}
	return sent, nil
}
