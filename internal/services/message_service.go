// Package services – MessageService
//
// This file implements MessageService, which owns the two message ledgers:
// negotiation chats and order chats. It validates content, applies the thread
// access guard, persists messages through the resilient executor, and moves
// an OPEN negotiation to IN_PROGRESS on its first message.
//
// Appends are idempotent on a per-thread client key. When the caller does not
// supply one, a key is generated per call, so executor retries of the same
// call can never insert the message twice.
//
// Reads degrade: when the database stays unavailable after every retry, list
// operations return an empty ledger flagged as degraded instead of failing.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include thread identifiers and the actor role.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/resilience"
)

// DefaultMaxMessageRunes caps message length when MaxRunes is unset.
const DefaultMaxMessageRunes = 2000

// NegotiationLedger is the visible state of a negotiation chat.
type NegotiationLedger struct {
	Messages []domain.NegotiationMessage
	Status   domain.NegotiationStatus
	Degraded bool
}

// OrderLedger is the visible state of an order chat.
type OrderLedger struct {
	Messages []domain.OrderMessage
	Status   domain.OrderStatus
	Locked   bool
	Degraded bool
}

// LedgerVersion identifies a ledger state for conditional requests.
type LedgerVersion struct {
	repo.LedgerStats
	Status string
}

// MessageService appends to and lists message ledgers.
type MessageService struct {
	DB         *gorm.DB
	Exec       *resilience.Executor
	Identities *IdentityService
	Guard      AccessGuard

	// MaxRunes caps message length; <= 0 uses DefaultMaxMessageRunes.
	MaxRunes int
}

// AppendNegotiation adds a message to a negotiation on behalf of actor.
//
// The returned bool is true when clientKey had already been used in this
// negotiation and the previously stored message is returned instead.
// Messages are accepted in every negotiation status.
func (s *MessageService) AppendNegotiation(ctx context.Context, negotiationID string, actor Actor, content, clientKey string) (*domain.NegotiationMessage, bool, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "AppendNegotiation",
		trace.WithAttributes(
			attribute.String("negotiation.id", negotiationID),
			attribute.String("actor.role", string(actor.Role)),
		),
	)
	defer span.End()

	content, err := s.validate(content)
	if err != nil {
		return nil, false, err
	}

	n, err := s.loadNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, false, err
	}
	if err := s.Guard.Check(n.Buyer.Name, actor); err != nil {
		return nil, false, err
	}

	sender := n.Buyer
	if actor.IsStaff() {
		seller, err := s.Identities.GetOrCreateSeller(ctx)
		if err != nil {
			return nil, false, err
		}
		sender = *seller
	}

	if clientKey == "" {
		clientKey = uuid.NewString()
	}
	m := &domain.NegotiationMessage{
		NegotiationID: negotiationID,
		SenderID:      sender.ID,
		SenderRole:    sender.Role,
		Content:       content,
		ClientKey:     clientKey,
	}

	err = s.Exec.Do(ctx, "negotiation.append", func(ctx context.Context) error {
		m.ID = 0
		m.CreatedAt = time.Now().UTC()
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := repo.CreateNegotiationMessage(ctx, tx, m); err != nil {
				return err
			}
			moved, err := repo.AdvanceNegotiationOnMessage(ctx, tx, negotiationID, m.CreatedAt)
			if moved {
				span.AddEvent("negotiation.in_progress")
			}
			return err
		})
	})
	if repo.IsConflict(err) {
		prev, ferr := resilience.Execute(ctx, s.Exec, "negotiation.replay", func(ctx context.Context) (*domain.NegotiationMessage, error) {
			return repo.FindNegotiationMessageByKey(ctx, s.DB, negotiationID, clientKey)
		})
		if ferr != nil {
			return nil, false, persistErr(ferr, ErrNegotiationNotFound)
		}
		return prev, true, nil
	}
	if err != nil {
		return nil, false, persistErr(err, ErrNegotiationNotFound)
	}
	m.Sender = sender
	return m, false, nil
}

// AppendOrder adds a message to an order chat on behalf of actor. The chat
// of a COMPLETED order is locked for everyone, staff included.
func (s *MessageService) AppendOrder(ctx context.Context, orderID string, actor Actor, content, clientKey string) (*domain.OrderMessage, bool, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "AppendOrder",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("actor.role", string(actor.Role)),
		),
	)
	defer span.End()

	content, err := s.validate(content)
	if err != nil {
		return nil, false, err
	}

	o, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if err := s.Guard.Check(o.CustomerName, actor); err != nil {
		return nil, false, err
	}
	if o.ChatLocked() {
		return nil, false, ErrChatLocked
	}

	senderName := o.CustomerName
	if actor.IsStaff() {
		senderName = strings.TrimSpace(actor.Name)
		if senderName == "" && s.Identities != nil {
			senderName = s.Identities.DealerName
		}
		if senderName == "" {
			senderName = "Dealer"
		}
	}

	if clientKey == "" {
		clientKey = uuid.NewString()
	}
	m := &domain.OrderMessage{
		OrderID:    orderID,
		SenderRole: actor.Role,
		SenderName: senderName,
		Content:    content,
		ClientKey:  clientKey,
	}

	err = s.Exec.Do(ctx, "order.append", func(ctx context.Context) error {
		m.ID = 0
		m.CreatedAt = time.Now().UTC()
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Re-check inside the transaction: the order may have been
			// completed since it was loaded.
			cur, err := repo.GetOrder(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if cur.ChatLocked() {
				return ErrChatLocked
			}
			if err := repo.CreateOrderMessage(ctx, tx, m); err != nil {
				return err
			}
			return repo.TouchOrder(ctx, tx, orderID, m.CreatedAt)
		})
	})
	if repo.IsConflict(err) {
		prev, ferr := resilience.Execute(ctx, s.Exec, "order.replay", func(ctx context.Context) (*domain.OrderMessage, error) {
			return repo.FindOrderMessageByKey(ctx, s.DB, orderID, clientKey)
		})
		if ferr != nil {
			return nil, false, persistErr(ferr, ErrOrderNotFound)
		}
		return prev, true, nil
	}
	if errors.Is(err, ErrChatLocked) {
		return nil, false, ErrChatLocked
	}
	if err != nil {
		return nil, false, persistErr(err, ErrOrderNotFound)
	}
	return m, false, nil
}

// ListNegotiation returns the negotiation ledger in chronological order.
// Only not-found and access-denied are errors; a persistence outage yields
// an empty, degraded ledger.
func (s *MessageService) ListNegotiation(ctx context.Context, negotiationID string, actor Actor) (*NegotiationLedger, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListNegotiation",
		trace.WithAttributes(
			attribute.String("negotiation.id", negotiationID),
			attribute.String("actor.role", string(actor.Role)),
		),
	)
	defer span.End()

	n, err := s.loadNegotiation(ctx, negotiationID)
	if errors.Is(err, ErrUnavailable) {
		span.SetAttributes(attribute.Bool("degraded", true))
		return &NegotiationLedger{Messages: []domain.NegotiationMessage{}, Degraded: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(n.Buyer.Name, actor); err != nil {
		return nil, err
	}

	msgs, err := resilience.Execute(ctx, s.Exec, "negotiation.list", func(ctx context.Context) ([]domain.NegotiationMessage, error) {
		return repo.ListNegotiationMessages(ctx, s.DB, negotiationID, 0)
	})
	if err != nil {
		if perr := persistErr(err, nil); !errors.Is(perr, ErrUnavailable) {
			return nil, perr
		}
		span.SetAttributes(attribute.Bool("degraded", true))
		return &NegotiationLedger{Messages: []domain.NegotiationMessage{}, Status: n.Status, Degraded: true}, nil
	}
	return &NegotiationLedger{Messages: msgs, Status: n.Status}, nil
}

// ListOrder returns the order ledger in chronological order, with the same
// degradation rules as ListNegotiation.
func (s *MessageService) ListOrder(ctx context.Context, orderID string, actor Actor) (*OrderLedger, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListOrder",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("actor.role", string(actor.Role)),
		),
	)
	defer span.End()

	o, err := s.loadOrder(ctx, orderID)
	if errors.Is(err, ErrUnavailable) {
		span.SetAttributes(attribute.Bool("degraded", true))
		return &OrderLedger{Messages: []domain.OrderMessage{}, Degraded: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(o.CustomerName, actor); err != nil {
		return nil, err
	}

	ledger := &OrderLedger{Status: o.Status, Locked: o.ChatLocked()}
	msgs, err := resilience.Execute(ctx, s.Exec, "order.list", func(ctx context.Context) ([]domain.OrderMessage, error) {
		return repo.ListOrderMessages(ctx, s.DB, orderID, 0)
	})
	if err != nil {
		if perr := persistErr(err, nil); !errors.Is(perr, ErrUnavailable) {
			return nil, perr
		}
		span.SetAttributes(attribute.Bool("degraded", true))
		ledger.Messages = []domain.OrderMessage{}
		ledger.Degraded = true
		return ledger, nil
	}
	ledger.Messages = msgs
	return ledger, nil
}

// Authorize checks that actor may access the thread, without reading its
// ledger. Typing markers use it.
func (s *MessageService) Authorize(ctx context.Context, kind repo.ThreadKind, threadID string, actor Actor) error {
	switch kind {
	case repo.ThreadNegotiation:
		n, err := s.loadNegotiation(ctx, threadID)
		if err != nil {
			return err
		}
		return s.Guard.Check(n.Buyer.Name, actor)
	case repo.ThreadOrder:
		o, err := s.loadOrder(ctx, threadID)
		if err != nil {
			return err
		}
		return s.Guard.Check(o.CustomerName, actor)
	}
	return invalid(ErrInvalidStatus, "unknown thread kind")
}

// HasClientKey reports whether actor may enter the thread and clientKey is
// already stored in its ledger. Denied or unknown threads return the guard's
// error, so a foreign key never counts as a resend.
func (s *MessageService) HasClientKey(ctx context.Context, kind repo.ThreadKind, threadID string, actor Actor, clientKey string) (bool, error) {
	if err := s.Authorize(ctx, kind, threadID, actor); err != nil {
		return false, err
	}
	seen, err := resilience.Execute(ctx, s.Exec, "message.key_lookup", func(ctx context.Context) (bool, error) {
		return repo.ClientKeyExists(ctx, s.DB, kind, threadID, clientKey)
	})
	return seen, persistErr(err, nil)
}

// Version returns the ledger version of an authorized thread for ETag
// validation. Callers treat any error as "no version".
func (s *MessageService) Version(ctx context.Context, kind repo.ThreadKind, threadID string, actor Actor) (LedgerVersion, error) {
	var (
		status string
		stats  func(ctx context.Context) (repo.LedgerStats, error)
	)
	switch kind {
	case repo.ThreadNegotiation:
		n, err := s.loadNegotiation(ctx, threadID)
		if err != nil {
			return LedgerVersion{}, err
		}
		if err := s.Guard.Check(n.Buyer.Name, actor); err != nil {
			return LedgerVersion{}, err
		}
		status = string(n.Status)
		stats = func(ctx context.Context) (repo.LedgerStats, error) {
			return repo.NegotiationMessagesStats(ctx, s.DB, threadID)
		}
	case repo.ThreadOrder:
		o, err := s.loadOrder(ctx, threadID)
		if err != nil {
			return LedgerVersion{}, err
		}
		if err := s.Guard.Check(o.CustomerName, actor); err != nil {
			return LedgerVersion{}, err
		}
		status = string(o.Status)
		stats = func(ctx context.Context) (repo.LedgerStats, error) {
			return repo.OrderMessagesStats(ctx, s.DB, threadID)
		}
	default:
		return LedgerVersion{}, invalid(ErrInvalidStatus, "unknown thread kind")
	}

	st, err := resilience.Execute(ctx, s.Exec, "ledger.stats", stats)
	if err != nil {
		return LedgerVersion{}, persistErr(err, nil)
	}
	return LedgerVersion{LedgerStats: st, Status: status}, nil
}

func (s *MessageService) validate(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	limit := s.MaxRunes
	if limit <= 0 {
		limit = DefaultMaxMessageRunes
	}
	if utf8.RuneCountInString(content) > limit {
		return "", ErrTooLong
	}
	return content, nil
}

func (s *MessageService) loadNegotiation(ctx context.Context, id string) (*domain.Negotiation, error) {
	n, err := resilience.Execute(ctx, s.Exec, "negotiation.get", func(ctx context.Context) (*domain.Negotiation, error) {
		return repo.GetNegotiation(ctx, s.DB, id)
	})
	return n, persistErr(err, ErrNegotiationNotFound)
}

func (s *MessageService) loadOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := resilience.Execute(ctx, s.Exec, "order.get", func(ctx context.Context) (*domain.Order, error) {
		return repo.GetOrder(ctx, s.DB, id)
	})
	return o, persistErr(err, ErrOrderNotFound)
}
