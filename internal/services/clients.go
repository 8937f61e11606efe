package services

import (
	"context"
	"time"

	"skynet-vpn-bot/internal/db"
)

// ClientRow — строка выгрузки клиентов для таблицы операторов.
type ClientRow struct {
	TelegramID  int64  `json:"telegram_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	DeviceLimit int    `json:"devices"`
	SubEnd      string `json:"sub_end"`
	Tariff      string `json:"tariff"`
}

// ListClients возвращает всех, у кого есть или была подписка.
func ListClients(ctx context.Context, ledger *db.Ledger, loc *time.Location) ([]ClientRow, error) {
	users, err := ledger.SubscribedUsers(ctx)
	if err != nil {
		return nil, err
	}
	tariffs, err := ledger.TariffsByID(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]ClientRow, 0, len(users))
	for _, u := range users {
		row := ClientRow{
			TelegramID:  u.TelegramID,
			Name:        u.Name,
			Email:       u.Email,
			DeviceLimit: u.DeviceLimit,
			SubEnd:      u.SubEnd.In(loc).Format(dateLayout),
		}
		switch t, ok := tariffs[u.TariffID]; {
		case u.TariffID == 0:
			row.Tariff = "Подписка отменена"
		case !ok:
			row.Tariff = "Тариф удален"
		default:
			row.Tariff = DaysLabel(t.Days)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
