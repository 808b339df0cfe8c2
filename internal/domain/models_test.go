package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func strPtr(s string) *string { return &s }

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Identity{}).TableName():           "identities",
		(Negotiation{}).TableName():        "negotiations",
		(Order{}).TableName():              "orders",
		(NegotiationMessage{}).TableName(): "negotiation_messages",
		(OrderMessage{}).TableName():       "order_messages",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestEnums_Valid(t *testing.T) {
	if !RoleCustomer.Valid() || !RoleDealer.Valid() || Role("ADMIN").Valid() {
		t.Fatalf("role validity wrong")
	}
	if !NegotiationBuy.Valid() || !NegotiationSell.Valid() || NegotiationType("LEASE").Valid() {
		t.Fatalf("negotiation type validity wrong")
	}
	if !PaymentPix.Valid() || PaymentMethod("BARTER").Valid() {
		t.Fatalf("payment method validity wrong")
	}
}

func TestMigrations_Indexes_Uniqueness_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&Identity{}, &Negotiation{}, &Order{}, &NegotiationMessage{}, &OrderMessage{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, idx := range []struct {
		model any
		name  string
	}{
		{&Identity{}, "ux_identity_phone"},
		{&Identity{}, "ux_identity_email"},
		{&NegotiationMessage{}, "idx_negotiation_msgs"},
		{&NegotiationMessage{}, "ux_negotiation_msg_key"},
		{&OrderMessage{}, "idx_order_msgs"},
		{&OrderMessage{}, "ux_order_msg_key"},
	} {
		if !m.HasIndex(idx.model, idx.name) {
			t.Fatalf("expected index %s on %T", idx.name, idx.model)
		}
	}

	now := time.Now().UTC()
	buyer := &Identity{ID: "b1", Name: "Ana", Phone: strPtr("11999999999"), Role: RoleCustomer}
	seller := &Identity{ID: "s1", Name: "Dealer", Role: RoleDealer}
	if err := db.Create(buyer).Error; err != nil {
		t.Fatalf("insert buyer: %v", err)
	}
	if err := db.Create(seller).Error; err != nil {
		t.Fatalf("insert seller: %v", err)
	}

	// Same phone twice violates the unique index.
	dup := &Identity{ID: "b2", Name: "Other", Phone: strPtr("11999999999"), Role: RoleCustomer}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation on duplicate phone")
	}
	// Identities without phone/email do not collide (NULLs are distinct).
	if err := db.Create(&Identity{ID: "n1", Name: "x", Role: RoleCustomer}).Error; err != nil {
		t.Fatalf("insert anonymous 1: %v", err)
	}
	if err := db.Create(&Identity{ID: "n2", Name: "y", Role: RoleCustomer}).Error; err != nil {
		t.Fatalf("insert anonymous 2: %v", err)
	}

	neg := &Negotiation{ID: "n-1", Type: NegotiationBuy, Status: NegotiationOpen, BuyerID: "b1", SellerID: "s1", CreatedAt: now, UpdatedAt: now}
	if err := db.Omit("Buyer", "Seller").Create(neg).Error; err != nil {
		t.Fatalf("insert negotiation: %v", err)
	}
	msg := &NegotiationMessage{NegotiationID: "n-1", SenderID: "b1", SenderRole: RoleCustomer, Content: "Oi", ClientKey: "k1"}
	if err := db.Omit("Sender", "Negotiation").Create(msg).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}
	again := &NegotiationMessage{NegotiationID: "n-1", SenderID: "b1", SenderRole: RoleCustomer, Content: "Oi", ClientKey: "k1"}
	if err := db.Omit("Sender", "Negotiation").Create(again).Error; err == nil {
		t.Fatalf("expected unique violation on repeated client key")
	}

	// CASCADE: deleting the negotiation removes its ledger but not identities.
	if err := db.Delete(&Negotiation{}, "id = ?", "n-1").Error; err != nil {
		t.Fatalf("delete negotiation: %v", err)
	}
	var cnt int64
	if err := db.Model(&NegotiationMessage{}).Where("negotiation_id = ?", "n-1").Count(&cnt).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected messages to cascade-delete, got %d", cnt)
	}
	if err := db.Model(&Identity{}).Where("id = ?", "b1").Count(&cnt).Error; err != nil || cnt != 1 {
		t.Fatalf("identity must survive thread deletion: cnt=%d err=%v", cnt, err)
	}

	ord := &Order{ID: "o-1", VehicleID: "car-9", CustomerName: "Carlos Silva", CustomerPhone: "11988887777", CustomerRG: "123", PaymentMethod: PaymentCash, Status: OrderPending}
	if err := db.Create(ord).Error; err != nil {
		t.Fatalf("insert order: %v", err)
	}
	om := &OrderMessage{OrderID: "o-1", SenderRole: RoleCustomer, SenderName: "Carlos Silva", Content: "hi", ClientKey: "k"}
	if err := db.Omit("Order").Create(om).Error; err != nil {
		t.Fatalf("insert order message: %v", err)
	}
	if err := db.Delete(&Order{}, "id = ?", "o-1").Error; err != nil {
		t.Fatalf("delete order: %v", err)
	}
	if err := db.Model(&OrderMessage{}).Where("order_id = ?", "o-1").Count(&cnt).Error; err != nil || cnt != 0 {
		t.Fatalf("expected order messages to cascade-delete: cnt=%d err=%v", cnt, err)
	}
}
