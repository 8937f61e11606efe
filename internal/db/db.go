package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"skynet-vpn-bot/internal/apperr"
)

// Ledger — доступ к данным подписок. Бизнес-правил здесь нет.
type Ledger struct {
	db *gorm.DB
}

// Config возвращает настройки gorm: все метки времени пишутся в UTC.
func Config(level gormlogger.LogLevel) *gorm.Config {
	return &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  gormlogger.Default.LogMode(level),
	}
}

// Open подключается к Postgres.
func Open(dsn string) (*Ledger, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL not set")
	}
	conn, err := gorm.Open(postgres.Open(dsn), Config(gormlogger.Warn))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return NewLedger(conn), nil
}

func NewLedger(conn *gorm.DB) *Ledger {
	return &Ledger{db: conn}
}

// Migrate создаёт и обновляет таблицы.
func (l *Ledger) Migrate() error {
	return l.db.AutoMigrate(&User{}, &Server{}, &Tariff{}, &ClientLink{}, &Payment{})
}

// Close закрывает пул соединений.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
