package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

func TestOrder_CreateNormalizesAndDefaults(t *testing.T) {
	s := newServices(t)
	o, err := s.Orders.Create(context.Background(), checkoutInput("  Carlos   Silva "))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.ID == "" || o.Status != domain.OrderPending {
		t.Fatalf("unexpected order: %+v", o)
	}
	if o.CustomerName != "Carlos Silva" || o.CustomerPhone != "11988887777" {
		t.Fatalf("normalization failed: name=%q phone=%q", o.CustomerName, o.CustomerPhone)
	}
	if o.PaymentMethod != domain.PaymentPix || o.Installments != 1 {
		t.Fatalf("defaults: method=%s installments=%d", o.PaymentMethod, o.Installments)
	}
}

func TestOrder_CreateValidation(t *testing.T) {
	s := newServices(t)
	cases := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{"no vehicle", func(in *CreateOrderInput) { in.VehicleID = " " }},
		{"no name", func(in *CreateOrderInput) { in.CustomerName = "" }},
		{"no phone", func(in *CreateOrderInput) { in.CustomerPhone = "--" }},
		{"no rg", func(in *CreateOrderInput) { in.CustomerRG = "" }},
		{"bad method", func(in *CreateOrderInput) { in.PaymentMethod = "barter" }},
		{"negative installments", func(in *CreateOrderInput) { in.Installments = -2 }},
		{"negative price", func(in *CreateOrderInput) { in.TotalPrice = -1 }},
		{"down payment too big", func(in *CreateOrderInput) { in.DownPayment = in.TotalPrice + 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := checkoutInput("Carlos Silva")
			tc.mutate(&in)
			if _, err := s.Orders.Create(context.Background(), in); !errors.Is(err, ErrInvalidOrder) {
				t.Fatalf("expected ErrInvalidOrder, got %v", err)
			}
		})
	}
}

func TestOrder_GetAccess(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	o, _ := s.Orders.Create(ctx, checkoutInput("Carlos Silva"))

	if _, err := s.Orders.Get(ctx, o.ID, Customer(" carlos silva ")); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := s.Orders.Get(ctx, o.ID, Customer("carlos  silva")); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("inner whitespace must not be folded on the claim, got %v", err)
	}
	if _, err := s.Orders.Get(ctx, o.ID, Customer("Carla Silva")); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if _, err := s.Orders.Get(ctx, "nope", Staff("")); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrder_UpdateStatusTransitions(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	o, _ := s.Orders.Create(ctx, checkoutInput("Carlos Silva"))

	if _, err := s.Orders.UpdateStatus(ctx, o.ID, Customer("Carlos Silva"), "PROCESSING"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("customer must not update status, got %v", err)
	}
	if _, err := s.Orders.UpdateStatus(ctx, o.ID, Staff(""), "SHIPPED"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	got, err := s.Orders.UpdateStatus(ctx, o.ID, Staff(""), "processing")
	if err != nil || got.Status != domain.OrderProcessing {
		t.Fatalf("PENDING->PROCESSING: %+v err=%v", got, err)
	}
	if _, err := s.Orders.UpdateStatus(ctx, o.ID, Staff(""), "PENDING"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("PROCESSING->PENDING must fail, got %v", err)
	}
	if got, err = s.Orders.UpdateStatus(ctx, o.ID, Staff(""), "PROCESSING"); err != nil || got.Status != domain.OrderProcessing {
		t.Fatalf("same-state update must be a no-op: %+v err=%v", got, err)
	}
	if _, err := s.Orders.UpdateStatus(ctx, o.ID, Staff(""), "CANCELLED"); err != nil {
		t.Fatalf("PROCESSING->CANCELLED: %v", err)
	}
	if _, err := s.Orders.UpdateStatus(ctx, o.ID, Staff(""), "COMPLETED"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("CANCELLED is final, got %v", err)
	}

	done, _ := s.Orders.Create(ctx, checkoutInput("Carlos Silva"))
	if _, err := s.Orders.UpdateStatus(ctx, done.ID, Staff(""), "COMPLETED"); err != nil {
		t.Fatalf("PENDING->COMPLETED: %v", err)
	}
	if _, err := s.Orders.UpdateStatus(ctx, done.ID, Staff(""), "PROCESSING"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("COMPLETED->PROCESSING must fail, got %v", err)
	}
	got, err = s.Orders.UpdateStatus(ctx, done.ID, Staff(""), "CANCELLED")
	if err != nil || got.Status != domain.OrderCancelled {
		t.Fatalf("COMPLETED->CANCELLED: %+v err=%v", got, err)
	}
	if _, err := s.Orders.UpdateStatus(ctx, "nope", Staff(""), "COMPLETED"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrder_ListPage(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	a, _ := s.Orders.Create(ctx, checkoutInput("A"))
	_, _ = s.Orders.Create(ctx, checkoutInput("B"))
	_, _ = s.Orders.Create(ctx, checkoutInput("C"))
	_, _ = s.Orders.UpdateStatus(ctx, a.ID, Staff(""), "COMPLETED")

	if _, _, err := s.Orders.ListPage(ctx, Customer("A"), "", 1, 10); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	items, total, err := s.Orders.ListPage(ctx, Staff(""), "", 1, 2)
	if err != nil || total != 3 || len(items) != 2 {
		t.Fatalf("page 1: total=%d len=%d err=%v", total, len(items), err)
	}
	items, total, err = s.Orders.ListPage(ctx, Staff(""), "completed", 1, 10)
	if err != nil || total != 1 || items[0].ID != a.ID {
		t.Fatalf("filtered: total=%d items=%+v err=%v", total, items, err)
	}
	if _, _, err := s.Orders.ListPage(ctx, Staff(""), "weird", 1, 10); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	items, total, err = s.Orders.ListPage(ctx, Staff(""), "CANCELLED", 0, 0)
	if err != nil || total != 0 || items == nil {
		t.Fatalf("empty filter: items=%v total=%d err=%v", items, total, err)
	}
}
