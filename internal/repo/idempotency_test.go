package repo

import (
	"context"
	"testing"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

func TestClientKeyExists(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	n, buyer, _ := seedNegotiation(t, db)
	o := newOrder()
	_ = CreateOrder(ctx, db, o)

	_ = CreateNegotiationMessage(ctx, db, &domain.NegotiationMessage{NegotiationID: n.ID, SenderID: buyer.ID, SenderRole: domain.RoleCustomer, Content: "a", ClientKey: "nk"})
	_ = CreateOrderMessage(ctx, db, &domain.OrderMessage{OrderID: o.ID, SenderRole: domain.RoleCustomer, SenderName: "C", Content: "a", ClientKey: "ok"})

	cases := []struct {
		kind   ThreadKind
		thread string
		key    string
		want   bool
	}{
		{ThreadNegotiation, n.ID, "nk", true},
		{ThreadNegotiation, n.ID, "ok", false},
		{ThreadOrder, o.ID, "ok", true},
		{ThreadOrder, o.ID, "nk", false},
		{ThreadOrder, "  ", "ok", false},
		{ThreadOrder, o.ID, "", false},
		{ThreadKind("bogus"), o.ID, "ok", false},
	}
	for _, tc := range cases {
		got, err := ClientKeyExists(ctx, db, tc.kind, tc.thread, tc.key)
		if err != nil {
			t.Fatalf("%v/%s/%s: %v", tc.kind, tc.thread, tc.key, err)
		}
		if got != tc.want {
			t.Fatalf("%v/%s/%s = %v; want %v", tc.kind, tc.thread, tc.key, got, tc.want)
		}
	}
}
