package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/db"
)

// сколько действует ссылка на оплату; меньше pendingTTL
const paymentLinkTTL = 24 * time.Hour

// Checkout создаёт счета на оплату тарифов.
type Checkout struct {
	ledger *db.Ledger
	kassa  *Robokassa
	log    *zap.Logger
}

func NewCheckout(ledger *db.Ledger, kassa *Robokassa, log *zap.Logger) *Checkout {
	return &Checkout{ledger: ledger, kassa: kassa, log: log}
}

type CheckoutLink struct {
	InvoiceID uint
	URL       string
}

// Create заводит неоплаченный счёт; его ID становится номером счёта в Robokassa.
func (c *Checkout) Create(ctx context.Context, telegramID int64, tariffID uint, autoRenew bool) (*CheckoutLink, error) {
	user, err := c.ledger.UserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	tariff, err := c.ledger.TariffByID(ctx, tariffID)
	if err != nil {
		return nil, err
	}
	if !tariff.IsActive {
		return nil, fmt.Errorf("tariff %d is not on sale: %w", tariff.ID, apperr.ErrNotFound)
	}

	pay := &db.Payment{
		UserID:    user.ID,
		TariffID:  tariff.ID,
		Amount:    tariff.Price,
		AutoRenew: autoRenew,
	}
	if err := c.ledger.CreatePayment(ctx, pay); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	url, err := c.kassa.PaymentURL(pay.ID, tariff.Price, Description(tariff), autoRenew, pay.CreatedAt.Add(paymentLinkTTL))
	if err != nil {
		return nil, err
	}
	c.log.Info("checkout created",
		zap.Uint("invoice_id", pay.ID),
		zap.Uint("user_id", user.ID),
		zap.Uint("tariff_id", tariff.ID),
		zap.Bool("auto_renew", autoRenew),
	)
	return &CheckoutLink{InvoiceID: pay.ID, URL: url}, nil
}

// Description возвращает название услуги для чека.
func Description(t *db.Tariff) string {
	return "подписка skynetvpn на " + DaysLabel(t.Days)
}
