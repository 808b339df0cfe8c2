// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds what every endpoint shares: the service contracts the
// handlers consume, the Handlers wiring, caller resolution, pagination, and
// the mapping from service errors to HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
	"github.com/tbourn/dealer-negotiation-backend/internal/http/middleware"
	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/services"
	"github.com/tbourn/dealer-negotiation-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// NegotiationService defines negotiation lifecycle operations.
type NegotiationService interface {
	Create(ctx context.Context, in services.CreateNegotiationInput) (*domain.Negotiation, *domain.NegotiationMessage, error)
	Get(ctx context.Context, id string, actor services.Actor) (*domain.Negotiation, error)
	ListPage(ctx context.Context, actor services.Actor, status string, page, pageSize int) ([]domain.Negotiation, int64, error)
	UpdateStatus(ctx context.Context, id string, actor services.Actor, status string) (*domain.Negotiation, error)
}

// OrderService defines order lifecycle operations.
type OrderService interface {
	Create(ctx context.Context, in services.CreateOrderInput) (*domain.Order, error)
	Get(ctx context.Context, id string, actor services.Actor) (*domain.Order, error)
	ListPage(ctx context.Context, actor services.Actor, status string, page, pageSize int) ([]domain.Order, int64, error)
	UpdateStatus(ctx context.Context, id string, actor services.Actor, status string) (*domain.Order, error)
}

// MessageService defines the message ledger operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	AppendNegotiation(ctx context.Context, id string, actor services.Actor, content, clientKey string) (*domain.NegotiationMessage, bool, error)
	AppendOrder(ctx context.Context, id string, actor services.Actor, content, clientKey string) (*domain.OrderMessage, bool, error)
	ListNegotiation(ctx context.Context, id string, actor services.Actor) (*services.NegotiationLedger, error)
	ListOrder(ctx context.Context, id string, actor services.Actor) (*services.OrderLedger, error)
	Authorize(ctx context.Context, kind repo.ThreadKind, id string, actor services.Actor) error
	Version(ctx context.Context, kind repo.ThreadKind, id string, actor services.Actor) (services.LedgerVersion, error)
}

// TypingService stores best-effort typing markers.
type TypingService interface {
	Mark(kind repo.ThreadKind, id string, role domain.Role) error
	Clear(kind repo.ThreadKind, id string, role domain.Role)
	Active(kind repo.ThreadKind, id string, viewer domain.Role) []services.TypingMarker
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	negSvc    NegotiationService
	orderSvc  OrderService
	msgSvc    MessageService
	typingSvc TypingService
}

// New constructs a Handlers instance bound to the given services. typing may
// be nil, in which case typing endpoints report no markers.
func New(neg NegotiationService, orders OrderService, msgs MessageService, typing TypingService) *Handlers {
	return &Handlers{negSvc: neg, orderSvc: orders, msgSvc: msgs, typingSvc: typing}
}

// actor builds the service actor from what ActorResolver stored. bodyName is
// a customer name sent in a JSON body; it is used when no header or query
// name was given.
func actor(c *gin.Context, bodyName string) services.Actor {
	if middleware.IsStaff(c) {
		return services.Staff(middleware.ActorName(c))
	}
	name := middleware.ActorName(c)
	if name == "" {
		name = strings.TrimSpace(bodyName)
	}
	return services.Customer(name)
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// MessageView is one ledger entry as shown to clients.
type MessageView struct {
	ID         uint64      `json:"id" example:"42"`
	SenderRole domain.Role `json:"sender_role" example:"CUSTOMER"`
	SenderName string      `json:"sender_name" example:"Ana"`
	Content    string      `json:"content" example:"Is the car still available?"`
	CreatedAt  time.Time   `json:"created_at"`
}

func negotiationMessageView(m domain.NegotiationMessage) MessageView {
	return MessageView{
		ID:         m.ID,
		SenderRole: m.SenderRole,
		SenderName: m.Sender.Name,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

func orderMessageView(m domain.OrderMessage) MessageView {
	return MessageView{
		ID:         m.ID,
		SenderRole: m.SenderRole,
		SenderName: m.SenderName,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

// StatusRequest is the JSON payload for staff status updates.
type StatusRequest struct {
	Status string `json:"status" binding:"required" example:"ACCEPTED"`
}

//
// Helpers
//

// clampPagination reads page and page_size from the query string.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}

// failService maps a service error to its HTTP status and error code.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNegotiationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "negotiation not found")
	case errors.Is(err, services.ErrOrderNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
	case errors.Is(err, services.ErrAccessDenied):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "access denied")
	case errors.Is(err, services.ErrChatLocked):
		fail(c, http.StatusConflict, ErrCodeChatLocked, "order chat is locked")
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeConflict, "status transition not allowed")
	case errors.Is(err, services.ErrInvalidStatus):
		fail(c, http.StatusBadRequest, ErrCodeInvalidStatus, err.Error())
	case errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrTooLong),
		errors.Is(err, services.ErrInvalidIdentity),
		errors.Is(err, services.ErrInvalidNegotiation),
		errors.Is(err, services.ErrInvalidOrder):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrUnavailable):
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "storage temporarily unavailable, retry shortly")
	default:
		failWithCause(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error", err)
	}
}

// markDegraded flags a response that was served without the database.
func markDegraded(c *gin.Context) {
	c.Header("X-Degraded", "true")
	c.Header("Cache-Control", "no-store")
}
