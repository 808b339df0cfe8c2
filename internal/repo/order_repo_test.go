package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

func newOrder() *domain.Order {
	return &domain.Order{
		VehicleID:     "car-42",
		CustomerName:  "Carlos Silva",
		CustomerPhone: "11988887777",
		CustomerRG:    "12.345.678-9",
		PaymentMethod: domain.PaymentFinancing,
		Installments:  48,
		DownPayment:   1_000_000,
		TotalPrice:    8_990_000,
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	o := newOrder()
	if err := CreateOrder(ctx, db, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.ID == "" || o.Status != domain.OrderPending {
		t.Fatalf("unexpected defaults: %+v", o)
	}
	got, err := GetOrder(ctx, db, o.ID)
	if err != nil || got.CustomerName != "Carlos Silva" || got.Installments != 48 {
		t.Fatalf("GetOrder: %+v err=%v", got, err)
	}
	if _, err := GetOrder(ctx, db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateOrderStatus_ConditionalOnCurrent(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	o := newOrder()
	_ = CreateOrder(ctx, db, o)

	if err := UpdateOrderStatus(ctx, db, o.ID, domain.OrderPending, domain.OrderProcessing); err != nil {
		t.Fatalf("PENDING->PROCESSING: %v", err)
	}
	// Stale expectation loses.
	if err := UpdateOrderStatus(ctx, db, o.ID, domain.OrderPending, domain.OrderCancelled); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus, got %v", err)
	}
	got, _ := GetOrder(ctx, db, o.ID)
	if got.Status != domain.OrderProcessing || got.CompletedAt != nil {
		t.Fatalf("status = %s completed_at=%v; want PROCESSING, nil", got.Status, got.CompletedAt)
	}

	if err := UpdateOrderStatus(ctx, db, o.ID, domain.OrderProcessing, domain.OrderCompleted); err != nil {
		t.Fatalf("PROCESSING->COMPLETED: %v", err)
	}
	if err := UpdateOrderStatus(ctx, db, o.ID, domain.OrderCompleted, domain.OrderCancelled); err != nil {
		t.Fatalf("COMPLETED->CANCELLED: %v", err)
	}
	got, _ = GetOrder(ctx, db, o.ID)
	if got.Status != domain.OrderCancelled || got.CompletedAt == nil || !got.ChatLocked() {
		t.Fatalf("completion must be kept: %+v", got)
	}
}

func TestListOrdersPage_AndCount(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	a, b := newOrder(), newOrder()
	_ = CreateOrder(ctx, db, a)
	time.Sleep(5 * time.Millisecond)
	_ = CreateOrder(ctx, db, b)
	_ = UpdateOrderStatus(ctx, db, b.ID, domain.OrderPending, domain.OrderCompleted)

	total, _ := CountOrders(ctx, db, "")
	done, _ := CountOrders(ctx, db, domain.OrderCompleted)
	if total != 2 || done != 1 {
		t.Fatalf("counts total=%d completed=%d", total, done)
	}
	page, err := ListOrdersPage(ctx, db, "", 0, 1)
	if err != nil || len(page) != 1 || page[0].ID != b.ID {
		t.Fatalf("newest first expected, got %+v err=%v", page, err)
	}
	page, _ = ListOrdersPage(ctx, db, "", 1, 1)
	if len(page) != 1 || page[0].ID != a.ID {
		t.Fatalf("second page mismatch: %+v", page)
	}
}

func TestTouchOrder(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	o := newOrder()
	_ = CreateOrder(ctx, db, o)
	later := time.Now().UTC().Add(time.Minute)
	if err := TouchOrder(ctx, db, o.ID, later); err != nil {
		t.Fatalf("TouchOrder: %v", err)
	}
	got, _ := GetOrder(ctx, db, o.ID)
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("updated_at = %v; want %v", got.UpdatedAt, later)
	}
	if err := TouchOrder(ctx, db, "nope", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
