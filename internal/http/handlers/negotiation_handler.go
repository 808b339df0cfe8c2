// Negotiation HTTP handlers.
//
// This file exposes REST endpoints for negotiation threads:
//   - POST  /negotiations             (customer opens a buy/sell negotiation)
//   - GET   /negotiations             (staff inbox, paginated)
//   - GET   /negotiations/{id}        (guarded)
//   - PATCH /negotiations/{id}/status (staff)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
	"github.com/tbourn/dealer-negotiation-backend/internal/http/middleware"
	"github.com/tbourn/dealer-negotiation-backend/internal/services"
)

// CreateNegotiationRequest is the contact form that opens a negotiation.
type CreateNegotiationRequest struct {
	Type  string `json:"type" binding:"required" example:"BUY"`
	Name  string `json:"name" binding:"required" example:"Ana Souza"`
	Phone string `json:"phone" example:"(11) 99999-0000"`
	Email string `json:"email" example:"ana@example.com"`

	VehicleID      string `json:"vehicle_id" example:"car-42"`
	VehicleMake    string `json:"vehicle_make" example:"Fiat"`
	VehicleModel   string `json:"vehicle_model" example:"Uno"`
	VehicleYear    int    `json:"vehicle_year" example:"2015"`
	VehicleMileage int    `json:"vehicle_mileage" example:"80000"`
	AskingPrice    int64  `json:"asking_price" example:"2500000"`

	Message string `json:"message" example:"Hi, is it still available?"`
}

// CreateNegotiationResponse carries the new negotiation and, when a first
// message was sent, that message.
type CreateNegotiationResponse struct {
	Negotiation  *domain.Negotiation `json:"negotiation"`
	FirstMessage *MessageView        `json:"first_message,omitempty"`
}

// ListNegotiationsResponse wraps a page of negotiations.
type ListNegotiationsResponse struct {
	Negotiations []domain.Negotiation `json:"negotiations"`
	Pagination   Pagination           `json:"pagination"`
}

// CreateNegotiation godoc
// @ID          createNegotiation
// @Summary     Open a negotiation
// @Description Resolves the customer by phone/email, opens a BUY or SELL negotiation with the dealer,
// @Description and appends the optional first message (which moves it to IN_PROGRESS).
// @Tags        Negotiations
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Client key for the first message"
// @Param       body  body  handlers.CreateNegotiationRequest  true  "Contact form"
// @Success     201  {object}  handlers.CreateNegotiationResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /negotiations [post]
func (h *Handlers) CreateNegotiation(c *gin.Context) {
	var req CreateNegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type and name are required")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	n, first, err := h.negSvc.Create(c.Request.Context(), services.CreateNegotiationInput{
		Type:           domain.NegotiationType(req.Type),
		Name:           req.Name,
		Phone:          req.Phone,
		Email:          req.Email,
		VehicleID:      req.VehicleID,
		VehicleMake:    req.VehicleMake,
		VehicleModel:   req.VehicleModel,
		VehicleYear:    req.VehicleYear,
		VehicleMileage: req.VehicleMileage,
		AskingPrice:    req.AskingPrice,
		FirstMessage:   req.Message,
		ClientKey:      key,
	})
	if err != nil && n == nil {
		failService(c, err)
		return
	}
	resp := CreateNegotiationResponse{Negotiation: n}
	if first != nil {
		v := negotiationMessageView(*first)
		resp.FirstMessage = &v
	}
	if err != nil {
		// The negotiation exists; only the first message failed.
		middleware.LoggerFrom(c).Warn().Err(err).Str("negotiation_id", n.ID).Msg("first message not stored")
	}
	ok(c, http.StatusCreated, resp)
}

// ListNegotiations godoc
// @ID          listNegotiations
// @Summary     List negotiations (staff)
// @Tags        Negotiations
// @Produce     json
// @Param       X-Staff-Key  header  string  true   "Staff key"
// @Param       status       query   string  false  "OPEN, IN_PROGRESS, ACCEPTED, REJECTED or CLOSED"
// @Param       page         query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size    query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListNegotiationsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad status filter"
// @Failure     403  {object}  handlers.ErrorResponse  "Not staff"
// @Router      /negotiations [get]
func (h *Handlers) ListNegotiations(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.negSvc.ListPage(c.Request.Context(), actor(c, ""), c.Query("status"), page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListNegotiationsResponse{Negotiations: items, Pagination: newPagination(page, pageSize, total)})
}

// GetNegotiation godoc
// @ID          getNegotiation
// @Summary     Get a negotiation
// @Tags        Negotiations
// @Produce     json
// @Param       id               path    string  true   "Negotiation ID"  format(uuid)
// @Param       name             query   string  false  "Customer name claim"
// @Param       X-Customer-Name  header  string  false  "Customer name claim"
// @Success     200  {object}  domain.Negotiation
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /negotiations/{id} [get]
func (h *Handlers) GetNegotiation(c *gin.Context) {
	n, err := h.negSvc.Get(c.Request.Context(), c.Param("id"), actor(c, ""))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}

// UpdateNegotiationStatus godoc
// @ID          updateNegotiationStatus
// @Summary     Set a negotiation status (staff)
// @Description Staff may set any status from any status.
// @Tags        Negotiations
// @Accept      json
// @Produce     json
// @Param       X-Staff-Key  header  string  true  "Staff key"
// @Param       id           path    string  true  "Negotiation ID"  format(uuid)
// @Param       body         body    handlers.StatusRequest  true  "New status"
// @Success     200  {object}  domain.Negotiation
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid status"
// @Failure     403  {object}  handlers.ErrorResponse  "Not staff"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /negotiations/{id}/status [patch]
func (h *Handlers) UpdateNegotiationStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	n, err := h.negSvc.UpdateStatus(c.Request.Context(), c.Param("id"), actor(c, ""), req.Status)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}
