package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestNegotiationMessagesStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, err := NegotiationMessagesStats(context.Background(), db, "n1"); err == nil {
		t.Fatalf("expected error due to missing table")
	}
	if _, err := OrderMessagesStats(context.Background(), db, "o1"); err == nil {
		t.Fatalf("expected error due to missing table")
	}
}

func TestNegotiationMessagesStats_EmptyAndPopulated(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	n, buyer, _ := seedNegotiation(t, db)

	st, err := NegotiationMessagesStats(ctx, db, n.ID)
	if err != nil || st.Count != 0 || st.LastWrite != nil || st.MaxID != 0 {
		t.Fatalf("empty stats unexpected: %+v err=%v", st, err)
	}

	t1 := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	m1 := &domain.NegotiationMessage{NegotiationID: n.ID, SenderID: buyer.ID, SenderRole: domain.RoleCustomer, Content: "a", ClientKey: "1", CreatedAt: t1}
	m2 := &domain.NegotiationMessage{NegotiationID: n.ID, SenderID: buyer.ID, SenderRole: domain.RoleCustomer, Content: "b", ClientKey: "2", CreatedAt: t2}
	_ = CreateNegotiationMessage(ctx, db, m1)
	_ = CreateNegotiationMessage(ctx, db, m2)

	st, err = NegotiationMessagesStats(ctx, db, n.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Count != 2 || st.MaxID != m2.ID || st.LastWrite == nil || !st.LastWrite.Equal(t2) {
		t.Fatalf("stats unexpected: %+v", st)
	}
}

func TestOrderMessagesStats_Populated(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	o := newOrder()
	_ = CreateOrder(ctx, db, o)
	m := &domain.OrderMessage{OrderID: o.ID, SenderRole: domain.RoleDealer, SenderName: "Dealer", Content: "ok", ClientKey: "k"}
	_ = CreateOrderMessage(ctx, db, m)

	st, err := OrderMessagesStats(ctx, db, o.ID)
	if err != nil || st.Count != 1 || st.MaxID != m.ID {
		t.Fatalf("stats unexpected: %+v err=%v", st, err)
	}
}
