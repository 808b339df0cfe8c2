package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/dealer-negotiation-backend/internal/config"
	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

func TestOpenSQLite_MissingDirectory(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "no-such-dir", "dealer.db")
	db, err := OpenSQLite(bad, nil)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}
	if !os.IsNotExist(err) {
		t.Fatalf("expected a not-exist error, got %v", err)
	}
}

func TestOpenSQLite_PragmasAndLedgerSchema(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "dealer.db"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	for pragma, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1", // NORMAL
		"foreign_keys": "1",
		"busy_timeout": "5000",
	} {
		var got string
		if err := db.Raw("PRAGMA " + pragma).Row().Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", pragma, err)
		}
		if strings.ToLower(got) != want {
			t.Fatalf("PRAGMA %s = %q; want %q", pragma, got, want)
		}
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 10 {
		t.Fatalf("MaxOpenConnections = %d; want 10", got)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, idx := range []struct {
		model any
		name  string
	}{
		{&domain.NegotiationMessage{}, "ux_negotiation_msg_key"},
		{&domain.OrderMessage{}, "ux_order_msg_key"},
		{&domain.NegotiationMessage{}, "idx_negotiation_msgs"},
		{&domain.OrderMessage{}, "idx_order_msgs"},
		{&domain.Identity{}, "ux_identity_phone"},
	} {
		if !m.HasIndex(idx.model, idx.name) {
			t.Fatalf("index %s missing on %T", idx.name, idx.model)
		}
	}
}

func TestOpen_SQLiteAppliesPoolConfig(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "open.db"),
		MaxOpenConns: 3,
		MaxIdleConns: 2,
	}
	db, err := Open(cfg, "error")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if got := sqlDB.Stats().MaxOpenConnections; got != 3 {
		t.Fatalf("MaxOpenConnections = %d; want 3", got)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "oracle"}, "info"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := OpenMySQL("  ", nil); err == nil {
		t.Fatalf("expected error for empty mysql dsn")
	}
}

func TestPoolResetter_KeepsDatabaseUsable(t *testing.T) {
	db := newRepoDB(t)
	r := PoolResetter(db, 4)
	if err := r.ResetPool(context.Background()); err != nil {
		t.Fatalf("ResetPool: %v", err)
	}
	var n int64
	if err := db.Model(&domain.Identity{}).Count(&n).Error; err != nil {
		t.Fatalf("query after reset: %v", err)
	}
}

func TestGormLogLevel(t *testing.T) {
	if gormLogLevel("debug") != logger.Info || gormLogLevel("error") != logger.Error || gormLogLevel("x") != logger.Warn {
		t.Fatalf("unexpected gorm log level mapping")
	}
}

func TestSQLiteDSN_AppendsPragmas(t *testing.T) {
	got := sqliteDSN("file:x.db?mode=rwc")
	if !strings.HasPrefix(got, "file:x.db?mode=rwc&_pragma=journal_mode(WAL)") {
		t.Fatalf("unexpected dsn: %s", got)
	}
	if !strings.Contains(sqliteDSN("a.db"), "a.db?_pragma=") {
		t.Fatalf("expected '?' separator for plain path")
	}
}
