package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/db"
	"skynet-vpn-bot/internal/lock"
	"skynet-vpn-bot/internal/validator"
)

// AdminRenewalDayOffset добавляется к дате из административного изменения.
// Поведение унаследовано от прежней версии бота и ждёт решения продукта:
// это либо включительный последний день, либо ошибка на единицу.
const AdminRenewalDayOffset = 1

type AdminUpdateRequest struct {
	TelegramID int64  `json:"user_id" validate:"required"`
	Devices    int    `json:"devices" validate:"required,min=1,max=50"`
	SubTime    string `json:"sub_time" validate:"required"`
}

type AdminUpdater struct {
	ledger    *db.Ledger
	orch      *Orchestrator
	locker    lock.Locker
	messenger Messenger
	validate  *validator.Validator
	location  *time.Location
	log       *zap.Logger
}

func NewAdminUpdater(ledger *db.Ledger, orch *Orchestrator, locker lock.Locker, messenger Messenger, v *validator.Validator, log *zap.Logger) *AdminUpdater {
	return &AdminUpdater{
		ledger:    ledger,
		orch:      orch,
		locker:    locker,
		messenger: messenger,
		validate:  v,
		location:  orch.cfg.Location,
		log:       log,
	}
}

// Update выставляет пользователю срок и число устройств на всех серверах.
// Некорректный ввод ничего не меняет и уходит только операторам.
func (a *AdminUpdater) Update(ctx context.Context, req AdminUpdateRequest) (*Report, error) {
	ctx = context.WithoutCancel(ctx)
	log := a.log.With(zap.Int64("telegram_id", req.TelegramID))

	date, err := a.parse(req)
	if err != nil {
		a.Reject(ctx, req.TelegramID, err)
		return nil, err
	}

	user, err := a.ledger.UserByTelegramID(ctx, req.TelegramID)
	if err != nil {
		return nil, err
	}
	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	unlock, err := a.locker.Lock(lockCtx, userLockKey(user.ID))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("lock user %d: %w", user.ID, err)
	}
	defer unlock()

	// после ожидания блокировки версия могла измениться
	user, err = a.ledger.UserByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	target := Target{
		SubEnd:      date.AddDate(0, 0, AdminRenewalDayOffset),
		DeviceLimit: req.Devices,
	}
	if user.TariffID != 0 {
		if tariff, err := a.ledger.TariffByID(ctx, user.TariffID); err == nil {
			target.TrafficCapBytes = tariff.TrafficCapBytes()
		}
	}

	report, err := a.orch.Apply(ctx, user, target, 0)
	if err != nil {
		return nil, fmt.Errorf("admin update user %d: %w", user.ID, err)
	}

	text := fmt.Sprintf("✅ Данные изменены для пользователя %s (%d)\nДата: %s\nКоличество устройств: %d",
		user.Name, user.TelegramID, target.SubEnd.Format(dateLayout), req.Devices)
	if failed := report.Failed(); len(failed) > 0 {
		text += "\n\n" + failedServersText("Изменение данных", failed)
	}
	a.messenger.SendOperators(ctx, text)
	log.Info("admin update applied", zap.Time("sub_end", target.SubEnd), zap.Int("devices", req.Devices))
	return report, nil
}

// parse проверяет запрос и возвращает дату в зоне сервиса на начало дня.
func (a *AdminUpdater) parse(req AdminUpdateRequest) (time.Time, error) {
	if err := a.validate.Validate(req); err != nil {
		return time.Time{}, err
	}
	date, err := time.ParseInLocation("2006-01-02", req.SubTime, a.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", req.SubTime, apperr.ErrMalformedInput)
	}
	return date, nil
}

// Reject сообщает операторам о некорректном административном вводе.
// telegramID 0: запрос не удалось разобрать.
func (a *AdminUpdater) Reject(ctx context.Context, telegramID int64, err error) {
	a.log.Warn("admin update rejected", zap.Int64("telegram_id", telegramID), zap.Error(err))
	text := fmt.Sprintf("Ошибка: данные пользователя %d не обновлены: %v", telegramID, err)
	if telegramID == 0 {
		text = fmt.Sprintf("Ошибка: запрос на изменение пользователя отклонён: %v", err)
	}
	a.messenger.SendOperators(context.WithoutCancel(ctx), text)
}
