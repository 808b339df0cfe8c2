package services

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

// Actor is whoever performs a request: a customer identified only by the
// name they claim, or dealer staff.
type Actor struct {
	Role domain.Role
	Name string
}

// Customer returns a customer actor claiming name.
func Customer(name string) Actor { return Actor{Role: domain.RoleCustomer, Name: name} }

// Staff returns a dealer staff actor.
func Staff(name string) Actor { return Actor{Role: domain.RoleDealer, Name: name} }

// IsStaff reports whether a is dealer staff.
func (a Actor) IsStaff() bool { return a.Role == domain.RoleDealer }

// Decision is the outcome of an access check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// NormalizeName trims and lowercases s. Inner whitespace is kept as is:
// "Carlos  Silva" and "Carlos Silva" are different claims.
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	// Casers keep state; one per call keeps this safe for concurrent use.
	return cases.Lower(language.Und).String(s)
}

// AccessGuard decides whether an actor may read or write a thread.
//
// Customer threads are protected by the owner's name only. This is a
// convenience boundary for an anonymous storefront, not an authentication
// mechanism: anyone who knows the thread id and the owner's name gets in.
type AccessGuard struct{}

// Authorize compares the stored owner name with the actor's claim. Staff is
// always allowed; an empty claim is always denied.
func (AccessGuard) Authorize(storedName string, actor Actor) Decision {
	if actor.IsStaff() {
		return Allow
	}
	claimed := NormalizeName(actor.Name)
	if claimed == "" {
		return Deny
	}
	if claimed == NormalizeName(storedName) {
		return Allow
	}
	return Deny
}

// Check is Authorize returning ErrAccessDenied on Deny.
func (g AccessGuard) Check(storedName string, actor Actor) error {
	if g.Authorize(storedName, actor) == Allow {
		return nil
	}
	return ErrAccessDenied
}

// RequireStaff returns ErrAccessDenied for non-staff actors.
func RequireStaff(actor Actor) error {
	if actor.IsStaff() {
		return nil
	}
	return ErrAccessDenied
}
