package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skynet-vpn-bot/internal/db"
)

// RecurringCharger выставляет автосписания тем, у кого подписка кончается в ближайшие сутки.
type RecurringCharger struct {
	ledger    *db.Ledger
	kassa     *Robokassa
	messenger Messenger
	now       func() time.Time
	log       *zap.Logger
}

func NewRecurringCharger(ledger *db.Ledger, kassa *Robokassa, messenger Messenger, now func() time.Time, log *zap.Logger) *RecurringCharger {
	if now == nil {
		now = time.Now
	}
	return &RecurringCharger{ledger: ledger, kassa: kassa, messenger: messenger, now: now, log: log}
}

// Run создаёт повторный счёт и просит Robokassa списать его.
// Подтверждение придёт через ResultURL и пройдёт по ветке recurring.
func (r *RecurringCharger) Run(ctx context.Context) (int, error) {
	now := r.now()
	users, err := r.ledger.AutoRenewDue(ctx, now.Add(24*time.Hour), now.Add(-24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("auto renew due: %w", err)
	}
	charged := 0
	for _, user := range users {
		if err := r.charge(ctx, user); err != nil {
			r.log.Error("recurring charge failed", zap.Uint("user_id", user.ID), zap.Error(err))
			r.messenger.SendOperators(ctx, fmt.Sprintf("Автосписание для пользователя %d не выполнено: %v", user.TelegramID, err))
			continue
		}
		charged++
	}
	return charged, nil
}

func (r *RecurringCharger) charge(ctx context.Context, user db.User) error {
	tariff, err := r.ledger.TariffByID(ctx, user.TariffID)
	if err != nil {
		return err
	}
	parent, err := r.ledger.RecurringParent(ctx, user.ID)
	if err != nil {
		return err
	}
	pay := &db.Payment{
		UserID:    user.ID,
		TariffID:  tariff.ID,
		Amount:    tariff.Price,
		Recurring: true,
	}
	if err := r.ledger.CreatePayment(ctx, pay); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	if err := r.kassa.ChargeRecurring(ctx, pay.ID, parent.ID, tariff.Price, Description(tariff)); err != nil {
		return fmt.Errorf("invoice %d: %w", pay.ID, err)
	}
	r.log.Info("recurring charge requested",
		zap.Uint("invoice_id", pay.ID),
		zap.Uint("parent_invoice_id", parent.ID),
		zap.Uint("user_id", user.ID),
	)
	return nil
}
