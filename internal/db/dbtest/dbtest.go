// Package dbtest opens throwaway in-memory ledgers for tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"skynet-vpn-bot/internal/db"
)

// New returns a migrated ledger backed by a private in-memory SQLite database.
func New(t testing.TB) *db.Ledger {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), db.Config(gormlogger.Silent))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ledger := db.NewLedger(conn)
	if err := ledger.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return ledger
}
