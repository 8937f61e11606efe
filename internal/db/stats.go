package db

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// --- Админские методы для статистики ---

func (l *Ledger) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&User{}).Count(&count).Error
	return count, err
}

func (l *Ledger) CountActiveSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&User{}).Where("sub_end > ?", utc(now)).Count(&count).Error
	return count, err
}

// SumPaid суммирует оплаченные счета, закрытые в [from, to).
func (l *Ledger) SumPaid(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := l.db.WithContext(ctx).Model(&Payment{}).
		Where("paid = ? AND settled_at >= ? AND settled_at < ?", true, utc(from), utc(to)).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

// SubscribedUsers возвращает пользователей, у которых была хотя бы одна подписка.
func (l *Ledger) SubscribedUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := l.db.WithContext(ctx).Where("sub_end IS NOT NULL").Order("id").Find(&users).Error
	return users, err
}

// TariffsByID возвращает все тарифы, включая снятые с продажи, по ID.
func (l *Ledger) TariffsByID(ctx context.Context) (map[uint]Tariff, error) {
	var tariffs []Tariff
	if err := l.db.WithContext(ctx).Find(&tariffs).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]Tariff, len(tariffs))
	for _, t := range tariffs {
		out[t.ID] = t
	}
	return out, nil
}

// LinksPerServer считает выданных клиентов на каждом сервере.
func (l *Ledger) LinksPerServer(ctx context.Context) (map[uint]int64, error) {
	var rows []struct {
		ServerID uint
		Count    int64
	}
	err := l.db.WithContext(ctx).Model(&ClientLink{}).
		Select("server_id, count(*) as count").
		Where("provisioned = ?", true).
		Group("server_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]int64, len(rows))
	for _, r := range rows {
		out[r.ServerID] = r.Count
	}
	return out, nil
}
