package services

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/dealer-negotiation-backend/internal/config"
	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/resilience"
)

// ---------- test helpers ----------

// newServiceDB opens a migrated, file-backed SQLite database. A single open
// connection serializes writers so concurrency tests exercise the service
// logic rather than SQLite's locking.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services_test.db")
	db, err := repo.OpenSQLite(path, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type testServices struct {
	DB           *gorm.DB
	Identities   *IdentityService
	Messages     *MessageService
	Negotiations *NegotiationService
	Orders       *OrderService
}

func newExecutor(db *gorm.DB) *resilience.Executor {
	return resilience.New(3, 0, repo.ClassifyError, repo.PoolResetter(db, 1))
}

func wire(db *gorm.DB, exec *resilience.Executor) *testServices {
	ids := &IdentityService{DB: db, Exec: exec, DealerID: config.DefaultDealerIdentityID, DealerName: "Loja"}
	msgs := &MessageService{DB: db, Exec: exec, Identities: ids, MaxRunes: 50}
	return &testServices{
		DB:           db,
		Identities:   ids,
		Messages:     msgs,
		Negotiations: &NegotiationService{DB: db, Exec: exec, Identities: ids, Messages: msgs},
		Orders:       &OrderService{DB: db, Exec: exec},
	}
}

func newServices(t *testing.T) *testServices {
	t.Helper()
	db := newServiceDB(t)
	return wire(db, newExecutor(db))
}

func buyInput(name, phone, first string) CreateNegotiationInput {
	return CreateNegotiationInput{
		Type:         "BUY",
		Name:         name,
		Phone:        phone,
		VehicleID:    "car-7",
		FirstMessage: first,
	}
}

func checkoutInput(name string) CreateOrderInput {
	return CreateOrderInput{
		VehicleID:     "car-9",
		CustomerName:  name,
		CustomerPhone: "(11) 98888-7777",
		CustomerRG:    "12.345.678-9",
		PaymentMethod: "pix",
		TotalPrice:    5_000_000,
	}
}
