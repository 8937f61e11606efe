package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"skynet-vpn-bot/internal/apperr"
)

// --- Пользователи ---

// UpsertUser находит пользователя по telegram id или создаёт его с новым токеном.
func (l *Ledger) UpsertUser(ctx context.Context, telegramID int64, name string) (*User, error) {
	var u User
	err := l.db.WithContext(ctx).
		Where(User{TelegramID: telegramID}).
		Attrs(User{Token: uuid.NewString(), Name: name}).
		FirstOrCreate(&u).Error
	if err != nil {
		return nil, fmt.Errorf("upsert user %d: %w", telegramID, err)
	}
	if name != "" && u.Name != name {
		if err := l.db.WithContext(ctx).Model(&User{}).Where("id = ?", u.ID).Update("name", name).Error; err != nil {
			return nil, fmt.Errorf("rename user %d: %w", telegramID, err)
		}
		u.Name = name
	}
	return &u, nil
}

func (l *Ledger) UserByID(ctx context.Context, id uint) (*User, error) {
	var u User
	if err := l.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("user %d", id))
	}
	return &u, nil
}

func (l *Ledger) UserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	var u User
	if err := l.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&u).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("user tg:%d", telegramID))
	}
	return &u, nil
}

func (l *Ledger) UserByToken(ctx context.Context, token string) (*User, error) {
	var u User
	if err := l.db.WithContext(ctx).Where("token = ?", token).First(&u).Error; err != nil {
		return nil, notFound(err, "user by token")
	}
	return &u, nil
}

func (l *Ledger) UpdateUserEmail(ctx context.Context, userID uint, email string) error {
	return l.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("email", email).Error
}

func (l *Ledger) SetAutoRenew(ctx context.Context, userID uint, on bool) error {
	return l.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("auto_renew", on).Error
}

// --- Серверы и тарифы ---

func (l *Ledger) ActiveServers(ctx context.Context) ([]Server, error) {
	var servers []Server
	err := l.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&servers).Error
	return servers, err
}

func (l *Ledger) Servers(ctx context.Context) ([]Server, error) {
	var servers []Server
	err := l.db.WithContext(ctx).Order("id").Find(&servers).Error
	return servers, err
}

// SaveServer вставляет или обновляет сервер по ID из каталога.
func (l *Ledger) SaveServer(ctx context.Context, s *Server) error {
	return l.db.WithContext(ctx).Save(s).Error
}

// DeactivateServersExcept выключает серверы, которых больше нет в каталоге.
func (l *Ledger) DeactivateServersExcept(ctx context.Context, ids []uint) error {
	q := l.db.WithContext(ctx).Model(&Server{}).Where("is_active = ?", true)
	if len(ids) > 0 {
		q = q.Where("id NOT IN ?", ids)
	}
	return q.Update("is_active", false).Error
}

// Tariffs возвращает тарифы, доступные для покупки.
func (l *Ledger) Tariffs(ctx context.Context) ([]Tariff, error) {
	var tariffs []Tariff
	err := l.db.WithContext(ctx).Where("is_active = ?", true).Order("days").Find(&tariffs).Error
	return tariffs, err
}

// TariffByID находит тариф, в том числе снятый с продажи.
func (l *Ledger) TariffByID(ctx context.Context, id uint) (*Tariff, error) {
	var t Tariff
	if err := l.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("tariff %d", id))
	}
	return &t, nil
}

func (l *Ledger) SaveTariff(ctx context.Context, t *Tariff) error {
	return l.db.WithContext(ctx).Save(t).Error
}

// DeactivateTariffsExcept снимает с продажи тарифы, которых нет в каталоге.
func (l *Ledger) DeactivateTariffsExcept(ctx context.Context, ids []uint) error {
	q := l.db.WithContext(ctx).Model(&Tariff{}).Where("is_active = ?", true)
	if len(ids) > 0 {
		q = q.Where("id NOT IN ?", ids)
	}
	return q.Update("is_active", false).Error
}

// --- Связи с серверами ---

// ClientLinks возвращает связи пользователя в порядке создания.
func (l *Ledger) ClientLinks(ctx context.Context, userID uint) ([]ClientLink, error) {
	var links []ClientLink
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&links).Error
	return links, err
}

// ReserveClientLink возвращает связь (user, server), создавая её с tunID при отсутствии.
// Существующий tun_id никогда не меняется.
func (l *Ledger) ReserveClientLink(ctx context.Context, userID, serverID uint, tunID string) (*ClientLink, error) {
	var link ClientLink
	err := l.db.WithContext(ctx).
		Where(ClientLink{UserID: userID, ServerID: serverID}).
		Attrs(ClientLink{TunID: tunID}).
		FirstOrCreate(&link).Error
	if err != nil {
		return nil, fmt.Errorf("reserve link user %d server %d: %w", userID, serverID, err)
	}
	return &link, nil
}

func (l *Ledger) MarkLinkProvisioned(ctx context.Context, linkID uint) error {
	return l.db.WithContext(ctx).Model(&ClientLink{}).Where("id = ?", linkID).Update("provisioned", true).Error
}

// --- Платежи ---

func (l *Ledger) CreatePayment(ctx context.Context, p *Payment) error {
	return l.db.WithContext(ctx).Create(p).Error
}

func (l *Ledger) PaymentByID(ctx context.Context, id uint) (*Payment, error) {
	var p Payment
	if err := l.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("payment %d", id))
	}
	return &p, nil
}

// RecurringParent — последний оплаченный счёт с согласием на автопродление,
// на него ссылаются повторные списания.
func (l *Ledger) RecurringParent(ctx context.Context, userID uint) (*Payment, error) {
	var p Payment
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND paid = ? AND auto_renew = ? AND recurring = ?", userID, true, true, false).
		Order("id DESC").
		First(&p).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("recurring parent of user %d", userID))
	}
	return &p, nil
}

// AbandonStalePayments помечает брошенными неоплаченные счета, созданные раньше before.
func (l *Ledger) AbandonStalePayments(ctx context.Context, before time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Model(&Payment{}).
		Where("paid = ? AND abandoned = ? AND created_at < ?", false, false, utc(before)).
		Update("abandoned", true)
	return res.RowsAffected, res.Error
}

// MarkAmountMismatch отмечает расхождение суммы по счёту.
// true, только если отметки ещё не было.
func (l *Ledger) MarkAmountMismatch(ctx context.Context, paymentID uint) (bool, error) {
	res := l.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND amount_mismatch = ?", paymentID, false).
		Update("amount_mismatch", true)
	if res.Error != nil {
		return false, fmt.Errorf("mark amount mismatch of payment %d: %w", paymentID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SubscriptionCommit — итог reconcile, который фиксируется одной транзакцией.
type SubscriptionCommit struct {
	UserID        uint
	Version       int64 // версия пользователя, прочитанная до расчёта
	SubEnd        time.Time
	DeviceLimit   int
	TariffID      uint // 0: тариф не меняется
	PaymentID     uint // 0: изменение не связано с оплатой
	FailedServers int
}

// CommitSubscription атомарно помечает счёт оплаченным и сдвигает подписку.
// Повторная оплата даёт ErrDuplicateSettlement, устаревшая версия ErrConcurrentUpdate.
func (l *Ledger) CommitSubscription(ctx context.Context, c SubscriptionCommit) (*User, error) {
	subEnd := utc(c.SubEnd)
	var u User
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.PaymentID != 0 {
			now := time.Now().UTC()
			res := tx.Model(&Payment{}).
				Where("id = ? AND paid = ?", c.PaymentID, false).
				Updates(map[string]interface{}{
					"paid":           true,
					"result_sub_end": subEnd,
					"failed_servers": c.FailedServers,
					"settled_at":     now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("payment %d: %w", c.PaymentID, apperr.ErrDuplicateSettlement)
			}
		}

		fields := map[string]interface{}{
			"sub_end":           subEnd,
			"device_limit":      c.DeviceLimit,
			"notified_expiring": false,
			"version":           gorm.Expr("version + 1"),
		}
		if c.TariffID != 0 {
			fields["tariff_id"] = c.TariffID
		}
		res := tx.Model(&User{}).Where("id = ? AND version = ?", c.UserID, c.Version).Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("user %d: %w", c.UserID, apperr.ErrConcurrentUpdate)
		}
		return tx.First(&u, c.UserID).Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Фоновые задачи ---

// UsersExpiringBetween — активные подписки, истекающие в (from, to], ещё без напоминания.
func (l *Ledger) UsersExpiringBetween(ctx context.Context, from, to time.Time) ([]User, error) {
	var users []User
	err := l.db.WithContext(ctx).
		Where("tariff_id <> 0 AND notified_expiring = ? AND sub_end > ? AND sub_end <= ?", false, utc(from), utc(to)).
		Order("id").
		Find(&users).Error
	return users, err
}

func (l *Ledger) MarkExpiringNotified(ctx context.Context, userID uint) error {
	return l.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("notified_expiring", true).Error
}

// LapsedUsers — пользователи с тарифом, у которых подписка закончилась до before.
func (l *Ledger) LapsedUsers(ctx context.Context, before time.Time) ([]User, error) {
	var users []User
	err := l.db.WithContext(ctx).
		Where("tariff_id <> 0 AND sub_end IS NOT NULL AND sub_end < ?", utc(before)).
		Order("id").
		Find(&users).Error
	return users, err
}

// ClearTariff снимает тариф и автопродление после окончания подписки.
// sub_end не трогается.
func (l *Ledger) ClearTariff(ctx context.Context, userID uint) error {
	return l.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"tariff_id": 0, "auto_renew": false}).Error
}

// AutoRenewDue — пользователи с автопродлением, у которых подписка кончается до before
// и ещё не было повторного счёта после since.
func (l *Ledger) AutoRenewDue(ctx context.Context, before, since time.Time) ([]User, error) {
	var users []User
	err := l.db.WithContext(ctx).
		Where("auto_renew = ? AND tariff_id <> 0 AND sub_end IS NOT NULL AND sub_end <= ?", true, utc(before)).
		Where("NOT EXISTS (SELECT 1 FROM payments p WHERE p.user_id = users.id AND p.recurring = ? AND p.created_at >= ?)", true, utc(since)).
		Order("id").
		Find(&users).Error
	return users, err
}
