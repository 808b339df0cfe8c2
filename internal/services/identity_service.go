// Package services – IdentityService
//
// This file implements IdentityService, which resolves the lightweight
// participant records used by negotiations. Customers are found by phone or
// email and created on first contact; the dealer is a single well-known
// identity seeded at startup.
package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/resilience"
)

// IdentityService resolves customer and dealer identities.
type IdentityService struct {
	DB   *gorm.DB
	Exec *resilience.Executor

	// DealerID and DealerName describe the seller singleton.
	DealerID   string
	DealerName string
}

// GetOrCreateBuyer resolves the customer behind a contact form.
//
// Phone is reduced to its digits and email is lowercased. If either matches
// an existing identity (oldest first), that identity is returned and its name
// updated when it differs. Otherwise a new CUSTOMER identity is created; a
// concurrent create of the same contact is detected by the unique indexes
// and resolved by fetching the winner. With neither phone nor email there is
// nothing to match on, so every call creates a fresh identity.
func (s *IdentityService) GetOrCreateBuyer(ctx context.Context, phone, name, email string) (*domain.Identity, error) {
	tr := otel.Tracer("services/IdentityService")
	ctx, span := tr.Start(ctx, "GetOrCreateBuyer",
		trace.WithAttributes(
			attribute.Bool("has.phone", phone != ""),
			attribute.Bool("has.email", email != ""),
		),
	)
	defer span.End()

	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return nil, invalid(ErrInvalidIdentity, "name is required")
	}
	phone = NormalizePhone(phone)
	email = NormalizeEmail(email)

	if phone == "" && email == "" {
		idn, err := resilience.Execute(ctx, s.Exec, "identity.create", func(ctx context.Context) (*domain.Identity, error) {
			return repo.CreateIdentity(ctx, s.DB, "", name, nil, nil, domain.RoleCustomer)
		})
		return idn, persistErr(err, nil)
	}

	existing, err := s.findByContact(ctx, phone, email)
	if err == nil {
		return s.syncName(ctx, existing, name)
	}
	if !repo.IsNotFound(err) {
		return nil, persistErr(err, nil)
	}

	idn, err := resilience.Execute(ctx, s.Exec, "identity.create", func(ctx context.Context) (*domain.Identity, error) {
		return repo.CreateIdentity(ctx, s.DB, "", name, optional(phone), optional(email), domain.RoleCustomer)
	})
	if err == nil {
		return idn, nil
	}
	if !repo.IsConflict(err) {
		return nil, persistErr(err, nil)
	}

	// Lost a create race; the other writer's row is the identity.
	winner, ferr := s.findByContact(ctx, phone, email)
	if ferr != nil {
		return nil, persistErr(ferr, ErrInvalidIdentity)
	}
	return s.syncName(ctx, winner, name)
}

// GetOrCreateSeller returns the dealer identity, creating it on first use.
// Concurrent callers converge on the same row.
func (s *IdentityService) GetOrCreateSeller(ctx context.Context) (*domain.Identity, error) {
	tr := otel.Tracer("services/IdentityService")
	ctx, span := tr.Start(ctx, "GetOrCreateSeller", trace.WithAttributes(attribute.String("identity.id", s.DealerID)))
	defer span.End()

	get := func(ctx context.Context) (*domain.Identity, error) { return repo.GetIdentity(ctx, s.DB, s.DealerID) }

	idn, err := resilience.Execute(ctx, s.Exec, "identity.seller.get", get)
	if err == nil {
		return idn, nil
	}
	if !repo.IsNotFound(err) {
		return nil, persistErr(err, nil)
	}

	name := s.DealerName
	if strings.TrimSpace(name) == "" {
		name = "Dealer"
	}
	idn, err = resilience.Execute(ctx, s.Exec, "identity.seller.create", func(ctx context.Context) (*domain.Identity, error) {
		return repo.CreateIdentity(ctx, s.DB, s.DealerID, name, nil, nil, domain.RoleDealer)
	})
	if err == nil {
		return idn, nil
	}
	if !repo.IsConflict(err) {
		return nil, persistErr(err, nil)
	}
	idn, err = resilience.Execute(ctx, s.Exec, "identity.seller.get", get)
	return idn, persistErr(err, nil)
}

// Resolve returns the identity with the given id, for callers that already
// know it (e.g. a registered customer resolved by an upstream provider).
func (s *IdentityService) Resolve(ctx context.Context, id string) (*domain.Identity, error) {
	idn, err := resilience.Execute(ctx, s.Exec, "identity.get", func(ctx context.Context) (*domain.Identity, error) {
		return repo.GetIdentity(ctx, s.DB, id)
	})
	return idn, persistErr(err, ErrInvalidIdentity)
}

func (s *IdentityService) findByContact(ctx context.Context, phone, email string) (*domain.Identity, error) {
	return resilience.Execute(ctx, s.Exec, "identity.find", func(ctx context.Context) (*domain.Identity, error) {
		return repo.FindIdentityByContact(ctx, s.DB, phone, email)
	})
}

// syncName applies last-writer-wins to the display name.
func (s *IdentityService) syncName(ctx context.Context, idn *domain.Identity, name string) (*domain.Identity, error) {
	if idn.Name == name {
		return idn, nil
	}
	err := s.Exec.Do(ctx, "identity.rename", func(ctx context.Context) error {
		return repo.UpdateIdentityName(ctx, s.DB, idn.ID, name)
	})
	if err != nil {
		return nil, persistErr(err, nil)
	}
	idn.Name = name
	return idn, nil
}

// NormalizePhone keeps only the digits of s.
func NormalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// NormalizeEmail trims and lowercases s.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
