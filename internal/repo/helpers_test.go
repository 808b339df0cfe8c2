package repo

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

// newRepoDB opens a fresh file-backed SQLite database with the full schema.
// A file (rather than shared memory) keeps WAL and busy_timeout semantics
// close to production for the concurrency tests.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo_test.db")
	db, err := OpenSQLite(path, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func strp(s string) *string { return &s }

// seedNegotiation creates a buyer, the dealer and an OPEN negotiation.
func seedNegotiation(t *testing.T, db *gorm.DB) (*domain.Negotiation, *domain.Identity, *domain.Identity) {
	t.Helper()
	ctx := context.Background()
	buyer, err := CreateIdentity(ctx, db, "", "Ana", strp("11999990000"), nil, domain.RoleCustomer)
	if err != nil {
		t.Fatalf("create buyer: %v", err)
	}
	seller, err := CreateIdentity(ctx, db, "00000000-0000-0000-0000-000000000001", "Dealer", nil, nil, domain.RoleDealer)
	if err != nil {
		t.Fatalf("create seller: %v", err)
	}
	n := &domain.Negotiation{Type: domain.NegotiationBuy, BuyerID: buyer.ID, SellerID: seller.ID, VehicleID: strp("car-1")}
	if err := CreateNegotiation(ctx, db, n); err != nil {
		t.Fatalf("create negotiation: %v", err)
	}
	return n, buyer, seller
}
