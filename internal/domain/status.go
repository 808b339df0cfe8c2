package domain

import "strings"

// NegotiationStatus is the lifecycle state of a negotiation.
type NegotiationStatus string

const (
	NegotiationOpen       NegotiationStatus = "OPEN"
	NegotiationInProgress NegotiationStatus = "IN_PROGRESS"
	NegotiationAccepted   NegotiationStatus = "ACCEPTED"
	NegotiationRejected   NegotiationStatus = "REJECTED"
	NegotiationClosed     NegotiationStatus = "CLOSED"
)

// ParseNegotiationStatus accepts any case and surrounding whitespace.
func ParseNegotiationStatus(s string) (NegotiationStatus, bool) {
	st := NegotiationStatus(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Valid reports whether s is one of the five negotiation states.
func (s NegotiationStatus) Valid() bool {
	switch s {
	case NegotiationOpen, NegotiationInProgress, NegotiationAccepted, NegotiationRejected, NegotiationClosed:
		return true
	}
	return false
}

// AdvanceOnMessage returns the status a negotiation takes when a message is
// appended. Only OPEN moves (to IN_PROGRESS); every other state is kept, so
// the implicit transition happens at most once.
func (s NegotiationStatus) AdvanceOnMessage() (NegotiationStatus, bool) {
	if s == NegotiationOpen {
		return NegotiationInProgress, true
	}
	return s, false
}

// CanSetExplicitly reports whether staff may move a negotiation from s to
// next. Staff keeps override authority, so any valid target is allowed from
// any state, including reopening a closed negotiation.
func (s NegotiationStatus) CanSetExplicitly(next NegotiationStatus) bool {
	return next.Valid()
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// orderTransitions lists the explicit moves allowed per state. Any state may
// be cancelled; CANCELLED has no way out.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCompleted, OrderCancelled},
	OrderProcessing: {OrderCompleted, OrderCancelled},
	OrderCompleted:  {OrderCancelled},
	OrderCancelled:  nil,
}

// ParseOrderStatus accepts any case and surrounding whitespace.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Valid reports whether s is one of the four order states.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransition reports whether an explicit update from s to next is
// allowed. Re-applying the current state is accepted as a no-op.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	for _, t := range orderTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ChatLocked reports whether the order chat is closed for every actor.
func (s OrderStatus) ChatLocked() bool { return s == OrderCompleted }
