package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/lock"
)

const lockWait = 30 * time.Second

type Settler struct {
	ledger    *db.Ledger
	orch      *Orchestrator
	locker    lock.Locker
	messenger Messenger
	publicURL string
	location  *time.Location
	log       *zap.Logger
}

func NewSettler(ledger *db.Ledger, orch *Orchestrator, locker lock.Locker, messenger Messenger, publicURL string, log *zap.Logger) *Settler {
	return &Settler{
		ledger:    ledger,
		orch:      orch,
		locker:    locker,
		messenger: messenger,
		publicURL: publicURL,
		location:  orch.cfg.Location,
		log:       log,
	}
}

// SettleInput — подтверждённая оплата после проверки подписи.
type SettleInput struct {
	InvoiceID uint
	Amount    decimal.Decimal
	Email     string
}

type SettlementOutcome struct {
	InvoiceID  uint
	UserID     uint
	TelegramID int64
	SubEnd     time.Time
	Replayed   bool // счёт уже был оплачен, состояние не менялось
	Recurring  bool
	Report     *Report // nil при повторе
}

// Settle закрывает счёт ровно один раз. Повторная доставка того же счёта
// возвращает сохранённый результат без изменений.
func (s *Settler) Settle(ctx context.Context, in SettleInput) (*SettlementOutcome, error) {
	// начатое списание доводится до конца даже при обрыве запроса
	ctx = context.WithoutCancel(ctx)
	log := s.log.With(zap.Uint("invoice_id", in.InvoiceID))

	pay, err := s.ledger.PaymentByID(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if pay.Paid {
		return s.replay(ctx, pay, log)
	}
	if !in.Amount.Equal(pay.Amount) {
		// Robokassa повторяет уведомление, операторам хватит одного сообщения
		first, err := s.ledger.MarkAmountMismatch(ctx, pay.ID)
		if err != nil {
			log.Error("record amount mismatch", zap.Error(err))
		}
		if first || err != nil {
			s.messenger.SendOperators(ctx, fmt.Sprintf("Оплата #%d: сумма %s не совпадает со счётом %s", pay.ID, in.Amount.StringFixed(2), pay.Amount.StringFixed(2)))
		}
		return nil, fmt.Errorf("invoice %d: amount %s, expected %s: %w", pay.ID, in.Amount, pay.Amount, apperr.ErrMalformedInput)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	unlock, err := s.locker.Lock(lockCtx, userLockKey(pay.UserID))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("lock user %d: %w", pay.UserID, err)
	}
	defer unlock()

	// проверка paid внутри той же критической секции, что и чтение срока
	pay, err = s.ledger.PaymentByID(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if pay.Paid {
		return s.replay(ctx, pay, log)
	}
	if pay.Abandoned {
		log.Warn("abandoned invoice paid late")
	}
	user, err := s.ledger.UserByID(ctx, pay.UserID)
	if err != nil {
		return nil, err
	}
	tariff, err := s.ledger.TariffByID(ctx, pay.TariffID)
	if err != nil {
		return nil, err
	}
	if in.Email != "" && in.Email != user.Email {
		if err := s.ledger.UpdateUserEmail(ctx, user.ID, in.Email); err != nil {
			log.Error("не удалось сменить почту пользователя", zap.Error(err))
		}
	}

	report, err := s.orch.Reconcile(ctx, Request{User: user, Tariff: tariff, Recurring: pay.Recurring, PaymentID: pay.ID})
	if errors.Is(err, apperr.ErrDuplicateSettlement) {
		log.Warn("payment settled concurrently")
		pay, err = s.ledger.PaymentByID(ctx, in.InvoiceID)
		if err != nil {
			return nil, err
		}
		return s.replay(ctx, pay, log)
	}
	if err != nil {
		return nil, fmt.Errorf("settle invoice %d: %w", pay.ID, err)
	}

	if pay.AutoRenew && !pay.Recurring {
		if err := s.ledger.SetAutoRenew(ctx, user.ID, true); err != nil {
			log.Error("enable auto renew", zap.Error(err))
		}
	}

	url := SubscriptionURL(s.publicURL, user.Token)
	subEnd := report.SubEnd.In(s.location)
	msg := settledMessage(subEnd, url)
	if pay.Recurring {
		msg = recurringMessage(subEnd, pay.Amount.StringFixed(2), url)
	}
	if err := s.messenger.SendUser(ctx, user.TelegramID, msg); err != nil {
		log.Error("notify user", zap.Int64("telegram_id", user.TelegramID), zap.Error(err))
	}
	if failed := report.Failed(); len(failed) > 0 {
		s.messenger.SendOperators(ctx, failedServersText(fmt.Sprintf("Оплата #%d (tg %d)", pay.ID, user.TelegramID), failed))
	}

	log.Info("payment settled",
		zap.Uint("user_id", user.ID),
		zap.Bool("recurring", pay.Recurring),
		zap.Time("sub_end", report.SubEnd),
		zap.Int("failed_servers", len(report.Failed())),
	)
	return &SettlementOutcome{
		InvoiceID:  pay.ID,
		UserID:     user.ID,
		TelegramID: user.TelegramID,
		SubEnd:     report.SubEnd,
		Recurring:  pay.Recurring,
		Report:     report,
	}, nil
}

func (s *Settler) replay(ctx context.Context, pay *db.Payment, log *zap.Logger) (*SettlementOutcome, error) {
	log.Info("duplicate payment confirmation ignored")
	out := &SettlementOutcome{InvoiceID: pay.ID, UserID: pay.UserID, Replayed: true, Recurring: pay.Recurring}
	if pay.ResultSubEnd != nil {
		out.SubEnd = *pay.ResultSubEnd
	}
	if user, err := s.ledger.UserByID(ctx, pay.UserID); err == nil {
		out.TelegramID = user.TelegramID
	}
	return out, nil
}
