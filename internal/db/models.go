package db

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID               uint       `gorm:"primaryKey"`
	TelegramID       int64      `gorm:"uniqueIndex"`
	Token            string     `gorm:"uniqueIndex;size:36"` // токен ссылки на подписку
	Name             string
	Email            string
	TariffID         uint       // 0, если нет активного тарифа
	SubEnd           *time.Time // источник истины для "подписка активна"
	DeviceLimit      int
	AutoRenew        bool
	NotifiedExpiring bool  `gorm:"default:false"` // уведомление о скором окончании
	Version          int64 `gorm:"not null;default:0"`
	CreatedAt        time.Time
}

// Active сообщает, действует ли подписка на момент now.
func (u User) Active(now time.Time) bool {
	return u.SubEnd != nil && u.SubEnd.After(now)
}

// Server — шлюз с панелью 3x-ui. Управляется каталогом.
type Server struct {
	ID            uint   `gorm:"primaryKey;autoIncrement:false"`
	Name          string `gorm:"uniqueIndex;size:64"`
	URL           string
	Login         string
	Password      string
	InboundID     int
	MetersTraffic bool
	PublicHost    string
	Flow          string // xtls flow для клиентов, пустой без flow
	IsActive      bool
}

type Tariff struct {
	ID          uint `gorm:"primaryKey;autoIncrement:false"`
	Name        string
	Days        int
	Price       decimal.Decimal `gorm:"type:numeric(12,2)"`
	DeviceLimit int
	TrafficGB   int64
	IsActive    bool
}

// TrafficCapBytes переводит лимит в байты, 0 означает без лимита.
func (t Tariff) TrafficCapBytes() int64 {
	return t.TrafficGB << 30
}

// ClientLink связывает пользователя с клиентом на одном сервере.
type ClientLink struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"uniqueIndex:ux_link_user_server"`
	ServerID    uint   `gorm:"uniqueIndex:ux_link_user_server"`
	TunID       string `gorm:"uniqueIndex;size:36"`
	Provisioned bool
	CreatedAt   time.Time
}

// Label даёт имя клиента в панели, стабильное на всё время жизни связи.
func (l ClientLink) Label(serverName string) string {
	return fmt.Sprintf("%s_%d", serverName, l.ID)
}

// Payment — счёт Robokassa, ID совпадает с InvId.
type Payment struct {
	ID             uint `gorm:"primaryKey"`
	UserID         uint `gorm:"index"`
	TariffID       uint
	Amount         decimal.Decimal `gorm:"type:numeric(12,2)"`
	Paid           bool            `gorm:"index"`
	Recurring      bool
	AutoRenew      bool
	ResultSubEnd   *time.Time
	FailedServers  int
	SettledAt      *time.Time
	Abandoned      bool `gorm:"index"` // поздняя оплата брошенного счёта всё равно проводится
	AmountMismatch bool
	CreatedAt      time.Time
}
