// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves who is calling. The storefront has no accounts:
// customers only claim a name, which is checked against the thread owner by
// the services layer. Dealer staff are recognised by a shared key that stands
// in for the external identity provider.
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Headers that carry the caller identity.
const (
	HeaderStaffKey     = "X-Staff-Key"
	HeaderStaffName    = "X-Staff-Name"
	HeaderCustomerName = "X-Customer-Name"
)

const (
	ctxKeyStaff     = "actor.staff"
	ctxKeyActorName = "actor.name"
)

// ActorOptions configures ActorResolver.
type ActorOptions struct {
	// StaffKey is the expected X-Staff-Key value. Empty disables staff access.
	StaffKey string
}

// ActorResolver marks the request as staff when X-Staff-Key matches, and
// otherwise records the customer's claimed name from X-Customer-Name or the
// "name" query parameter. Handlers may still fill the name from a JSON body.
//
// A wrong staff key is not rejected here; the request just proceeds as a
// customer and the thread guard decides.
func ActorResolver(opts ActorOptions) gin.HandlerFunc {
	want := []byte(opts.StaffKey)
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderStaffKey)
		if len(want) > 0 && got != "" && subtle.ConstantTimeCompare([]byte(got), want) == 1 {
			c.Set(ctxKeyStaff, true)
			c.Set(ctxKeyActorName, strings.TrimSpace(c.GetHeader(HeaderStaffName)))
			enrichLogger(c, func(l zerolog.Context) zerolog.Context { return l.Str("caller", "staff") })
			c.Next()
			return
		}

		name := strings.TrimSpace(c.GetHeader(HeaderCustomerName))
		if name == "" {
			name = strings.TrimSpace(c.Query("name"))
		}
		c.Set(ctxKeyActorName, name)
		enrichLogger(c, func(l zerolog.Context) zerolog.Context { return l.Str("caller", "customer") })
		c.Next()
	}
}

// IsStaff reports whether ActorResolver authenticated the caller as staff.
func IsStaff(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyStaff)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// ActorName returns the staff display name or the customer's claimed name.
func ActorName(c *gin.Context) string {
	v, _ := c.Get(ctxKeyActorName)
	s, _ := v.(string)
	return s
}
