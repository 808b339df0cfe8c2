// Package services – OrderService
//
// This file implements OrderService, which records checkout results and lets
// staff move orders through PENDING -> PROCESSING -> COMPLETED/CANCELLED.
// Order chats are authorized against the customer name typed at checkout.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/resilience"
	"github.com/tbourn/dealer-negotiation-backend/internal/utils"
)

// CreateOrderInput is the checkout form.
type CreateOrderInput struct {
	VehicleID     string
	CustomerName  string
	CustomerPhone string
	CustomerRG    string
	PaymentMethod string
	Installments  int
	DownPayment   int64
	TotalPrice    int64
}

// OrderService manages orders.
type OrderService struct {
	DB    *gorm.DB
	Exec  *resilience.Executor
	Guard AccessGuard
}

// Create validates and stores a checkout result as a PENDING order.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("vehicle.id", in.VehicleID)))
	defer span.End()

	o := &domain.Order{
		ID:            uuid.NewString(),
		VehicleID:     strings.TrimSpace(in.VehicleID),
		CustomerName:  strings.Join(strings.Fields(in.CustomerName), " "),
		CustomerPhone: NormalizePhone(in.CustomerPhone),
		CustomerRG:    strings.TrimSpace(in.CustomerRG),
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(in.PaymentMethod))),
		Installments:  in.Installments,
		DownPayment:   in.DownPayment,
		TotalPrice:    in.TotalPrice,
		Status:        domain.OrderPending,
	}
	if o.Installments == 0 {
		o.Installments = 1
	}
	if err := validateOrder(o); err != nil {
		return nil, err
	}

	err := s.Exec.Do(ctx, "order.create", func(ctx context.Context) error {
		return repo.CreateOrder(ctx, s.DB, o)
	})
	if err != nil && !repo.IsConflict(err) {
		return nil, persistErr(err, nil)
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

func validateOrder(o *domain.Order) error {
	switch {
	case o.VehicleID == "":
		return invalid(ErrInvalidOrder, "vehicle_id is required")
	case o.CustomerName == "":
		return invalid(ErrInvalidOrder, "customer_name is required")
	case o.CustomerPhone == "":
		return invalid(ErrInvalidOrder, "customer_phone is required")
	case o.CustomerRG == "":
		return invalid(ErrInvalidOrder, "customer_rg is required")
	case !o.PaymentMethod.Valid():
		return invalid(ErrInvalidOrder, "payment_method must be CASH, FINANCING, CARD or PIX")
	case o.Installments < 1:
		return invalid(ErrInvalidOrder, "installments must be >= 1")
	case o.TotalPrice < 0 || o.DownPayment < 0:
		return invalid(ErrInvalidOrder, "prices must not be negative")
	case o.DownPayment > o.TotalPrice:
		return invalid(ErrInvalidOrder, "down_payment exceeds total_price")
	}
	return nil
}

// Get returns an order the actor may see.
func (s *OrderService) Get(ctx context.Context, id string, actor Actor) (*domain.Order, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(o.CustomerName, actor); err != nil {
		return nil, err
	}
	return o, nil
}

// ListPage returns a page of orders for staff, optionally filtered by status.
func (s *OrderService) ListPage(ctx context.Context, actor Actor, status string, page, pageSize int) ([]domain.Order, int64, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("status", status),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if err := RequireStaff(actor); err != nil {
		return nil, 0, err
	}
	var filter domain.OrderStatus
	if strings.TrimSpace(status) != "" {
		st, ok := domain.ParseOrderStatus(status)
		if !ok {
			return nil, 0, ErrInvalidStatus
		}
		filter = st
	}
	pageSize = utils.ClampSize(pageSize)
	offset := utils.Offset(page, pageSize)

	total, err := resilience.Execute(ctx, s.Exec, "order.count", func(ctx context.Context) (int64, error) {
		return repo.CountOrders(ctx, s.DB, filter)
	})
	if err != nil {
		return nil, 0, persistErr(err, nil)
	}
	if total == 0 {
		return []domain.Order{}, 0, nil
	}
	items, err := resilience.Execute(ctx, s.Exec, "order.list", func(ctx context.Context) ([]domain.Order, error) {
		return repo.ListOrdersPage(ctx, s.DB, filter, offset, pageSize)
	})
	if err != nil {
		return nil, 0, persistErr(err, nil)
	}
	return items, total, nil
}

// UpdateStatus moves an order to status. Staff only. Re-applying the current
// status is a successful no-op. CANCELLED is final; COMPLETED may still be
// cancelled, but its chat stays locked.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, actor Actor, status string) (*domain.Order, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", id),
			attribute.String("status", status),
		),
	)
	defer span.End()

	if err := RequireStaff(actor); err != nil {
		return nil, err
	}
	next, ok := domain.ParseOrderStatus(status)
	if !ok {
		return nil, ErrInvalidStatus
	}

	// One re-evaluation covers a concurrent transition between read and write.
	for attempt := 0; attempt < 2; attempt++ {
		o, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if o.Status == next {
			return o, nil
		}
		if !o.Status.CanTransition(next) {
			return nil, ErrInvalidTransition
		}
		err = s.Exec.Do(ctx, "order.status", func(ctx context.Context) error {
			return repo.UpdateOrderStatus(ctx, s.DB, id, o.Status, next)
		})
		if errors.Is(err, repo.ErrStaleStatus) {
			continue
		}
		if err != nil {
			return nil, persistErr(err, ErrOrderNotFound)
		}
		return s.load(ctx, id)
	}
	return nil, ErrInvalidTransition
}

func (s *OrderService) load(ctx context.Context, id string) (*domain.Order, error) {
	o, err := resilience.Execute(ctx, s.Exec, "order.get", func(ctx context.Context) (*domain.Order, error) {
		return repo.GetOrder(ctx, s.DB, id)
	})
	return o, persistErr(err, ErrOrderNotFound)
}
