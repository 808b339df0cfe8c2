// Package services – NegotiationService
//
// This file implements NegotiationService, which opens buy/sell negotiations
// between a customer and the dealer and lets staff drive their status. The
// implicit OPEN -> IN_PROGRESS move on the first message lives in
// MessageService, next to the append it belongs to.
package services

import (
	"context"
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

// CreateNegotiationInput is what a customer submits to open a negotiation.
type CreateNegotiationInput struct {
	Type  domain.NegotiationType
	Name  string
	Phone string
	Email string

	// VehicleID links a catalog vehicle. Without it, VehicleMake and
	// VehicleModel must describe the car.
	VehicleID      string
	VehicleMake    string
	VehicleModel   string
	VehicleYear    int
	VehicleMileage int
	AskingPrice    int64

	// FirstMessage is optional; when set it is appended right away.
	FirstMessage string
	ClientKey    string
}

// NegotiationService manages negotiation threads.
type NegotiationService struct {
	DB         *gorm.DB
	Exec       *resilience.Executor
	Identities *IdentityService
	Messages   *MessageService
	Guard      AccessGuard
}

// Create opens a negotiation for the customer described by in. The customer
// is always the buyer and the dealer the seller, for both types. If
// in.FirstMessage is not blank it is appended, which also moves the
// negotiation to IN_PROGRESS.
func (s *NegotiationService) Create(ctx context.Context, in CreateNegotiationInput) (*domain.Negotiation, *domain.NegotiationMessage, error) {
	tr := otel.Tracer("services/NegotiationService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("negotiation.type", string(in.Type))))
	defer span.End()

	in.Type = domain.NegotiationType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	if !in.Type.Valid() {
		return nil, nil, invalid(ErrInvalidNegotiation, "type must be BUY or SELL")
	}
	vehicleID := strings.TrimSpace(in.VehicleID)
	if vehicleID == "" && (strings.TrimSpace(in.VehicleMake) == "" || strings.TrimSpace(in.VehicleModel) == "") {
		return nil, nil, invalid(ErrInvalidNegotiation, "vehicle_id or vehicle make and model are required")
	}
	if in.VehicleYear < 0 || in.VehicleMileage < 0 || in.AskingPrice < 0 {
		return nil, nil, invalid(ErrInvalidNegotiation, "vehicle figures must not be negative")
	}

	buyer, err := s.Identities.GetOrCreateBuyer(ctx, in.Phone, in.Name, in.Email)
	if err != nil {
		return nil, nil, err
	}
	seller, err := s.Identities.GetOrCreateSeller(ctx)
	if err != nil {
		return nil, nil, err
	}

	n := &domain.Negotiation{
		ID:             uuid.NewString(),
		Type:           in.Type,
		Status:         domain.NegotiationOpen,
		BuyerID:        buyer.ID,
		SellerID:       seller.ID,
		VehicleMake:    strings.TrimSpace(in.VehicleMake),
		VehicleModel:   strings.TrimSpace(in.VehicleModel),
		VehicleYear:    in.VehicleYear,
		VehicleMileage: in.VehicleMileage,
		AskingPrice:    in.AskingPrice,
	}
	if vehicleID != "" {
		n.VehicleID = &vehicleID
	}

	// The id is fixed before the first attempt, so a retry after a commit
	// whose acknowledgement was lost hits the primary key instead of
	// creating a second negotiation.
	err = s.Exec.Do(ctx, "negotiation.create", func(ctx context.Context) error {
		return repo.CreateNegotiation(ctx, s.DB, n)
	})
	if err != nil && !repo.IsConflict(err) {
		return nil, nil, persistErr(err, nil)
	}
	span.SetAttributes(attribute.String("negotiation.id", n.ID))
	n.Buyer = *buyer
	n.Seller = *seller

	if strings.TrimSpace(in.FirstMessage) == "" {
		return n, nil, nil
	}
	m, _, err := s.Messages.AppendNegotiation(ctx, n.ID, Customer(buyer.Name), in.FirstMessage, in.ClientKey)
	if err != nil {
		return n, nil, err
	}
	n.Status, _ = n.Status.AdvanceOnMessage()
	return n, m, nil
}

// Get returns a negotiation the actor may see.
func (s *NegotiationService) Get(ctx context.Context, id string, actor Actor) (*domain.Negotiation, error) {
	tr := otel.Tracer("services/NegotiationService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("negotiation.id", id)))
	defer span.End()

	n, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(n.Buyer.Name, actor); err != nil {
		return nil, err
	}
	return n, nil
}

// ListPage returns a page of negotiations for staff, optionally filtered by
// status, and the total count.
func (s *NegotiationService) ListPage(ctx context.Context, actor Actor, status string, page, pageSize int) ([]domain.Negotiation, int64, error) {
	tr := otel.Tracer("services/NegotiationService")
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
	var filter domain.NegotiationStatus
	if strings.TrimSpace(status) != "" {
		st, ok := domain.ParseNegotiationStatus(status)
		if !ok {
			return nil, 0, ErrInvalidStatus
		}
		filter = st
	}
	pageSize = utils.ClampSize(pageSize)
	offset := utils.Offset(page, pageSize)

	total, err := resilience.Execute(ctx, s.Exec, "negotiation.count", func(ctx context.Context) (int64, error) {
		return repo.CountNegotiations(ctx, s.DB, filter)
	})
	if err != nil {
		return nil, 0, persistErr(err, nil)
	}
	if total == 0 {
		return []domain.Negotiation{}, 0, nil
	}
	items, err := resilience.Execute(ctx, s.Exec, "negotiation.list", func(ctx context.Context) ([]domain.Negotiation, error) {
		return repo.ListNegotiationsPage(ctx, s.DB, filter, offset, pageSize)
	})
	if err != nil {
		return nil, 0, persistErr(err, nil)
	}
	return items, total, nil
}

// UpdateStatus sets a negotiation's status. Only staff may do so, and staff
// may set any of the five states from any state.
func (s *NegotiationService) UpdateStatus(ctx context.Context, id string, actor Actor, status string) (*domain.Negotiation, error) {
	tr := otel.Tracer("services/NegotiationService")
	ctx, span := tr.Start(ctx, "UpdateStatus",
		trace.WithAttributes(
			attribute.String("negotiation.id", id),
			attribute.String("status", status),
		),
	)
	defer span.End()

	if err := RequireStaff(actor); err != nil {
		return nil, err
	}
	next, ok := domain.ParseNegotiationStatus(status)
	if !ok {
		return nil, ErrInvalidStatus
	}
	n, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.Status.CanSetExplicitly(next) {
		return nil, ErrInvalidTransition
	}
	if n.Status == next {
		return n, nil
	}

	err = s.Exec.Do(ctx, "negotiation.status", func(ctx context.Context) error {
		return repo.UpdateNegotiationStatus(ctx, s.DB, id, next)
	})
	if err != nil {
		return nil, persistErr(err, ErrNegotiationNotFound)
	}
	return s.load(ctx, id)
}

func (s *NegotiationService) load(ctx context.Context, id string) (*domain.Negotiation, error) {
	n, err := resilience.Execute(ctx, s.Exec, "negotiation.get", func(ctx context.Context) (*domain.Negotiation, error) {
		return repo.GetNegotiation(ctx, s.DB, id)
	})
	return n, persistErr(err, ErrNegotiationNotFound)
}
