// Order HTTP handlers.
//
// This file exposes REST endpoints for checkout orders:
//   - POST  /orders             (record a checkout)
//   - GET   /orders             (staff, paginated)
//   - GET   /orders/{id}        (guarded by customer name)
//   - PATCH /orders/{id}/status (staff)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
	"github.com/tbourn/dealer-negotiation-backend/internal/services"
)

// CreateOrderRequest is the checkout form.
type CreateOrderRequest struct {
	VehicleID     string `json:"vehicle_id" binding:"required" example:"car-42"`
	CustomerName  string `json:"customer_name" binding:"required" example:"Carlos Silva"`
	CustomerPhone string `json:"customer_phone" binding:"required" example:"(11) 98888-7777"`
	CustomerRG    string `json:"customer_rg" binding:"required" example:"12.345.678-9"`
	PaymentMethod string `json:"payment_method" binding:"required" example:"PIX"`
	Installments  int    `json:"installments" example:"1"`
	DownPayment   int64  `json:"down_payment" example:"0"`
	TotalPrice    int64  `json:"total_price" example:"5000000"`
}

// ListOrdersResponse wraps a page of orders.
type ListOrdersResponse struct {
	Orders     []domain.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

// CreateOrder godoc
// @ID          createOrder
// @Summary     Record a checkout
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateOrderRequest  true  "Checkout form"
// @Success     201  {object}  domain.Order
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /orders [post]
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "vehicle_id, customer_name, customer_phone, customer_rg and payment_method are required")
		return
	}
	o, err := h.orderSvc.Create(c.Request.Context(), services.CreateOrderInput{
		VehicleID:     req.VehicleID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerRG:    req.CustomerRG,
		PaymentMethod: req.PaymentMethod,
		Installments:  req.Installments,
		DownPayment:   req.DownPayment,
		TotalPrice:    req.TotalPrice,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, o)
}

// ListOrders godoc
// @ID          listOrders
// @Summary     List orders (staff)
// @Tags        Orders
// @Produce     json
// @Param       X-Staff-Key  header  string  true   "Staff key"
// @Param       status       query   string  false  "PENDING, PROCESSING, COMPLETED or CANCELLED"
// @Param       page         query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size    query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListOrdersResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Not staff"
// @Router      /orders [get]
func (h *Handlers) ListOrders(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.orderSvc.ListPage(c.Request.Context(), actor(c, ""), c.Query("status"), page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListOrdersResponse{Orders: items, Pagination: newPagination(page, pageSize, total)})
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Get an order
// @Tags        Orders
// @Produce     json
// @Param       id    path   string  true   "Order ID"  format(uuid)
// @Param       name  query  string  false  "Customer name claim"
// @Success     200  {object}  domain.Order
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	o, err := h.orderSvc.Get(c.Request.Context(), c.Param("id"), actor(c, ""))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// UpdateOrderStatus godoc
// @ID          updateOrderStatus
// @Summary     Move an order along its lifecycle (staff)
// @Description PENDING -> PROCESSING -> COMPLETED or CANCELLED. COMPLETED locks the order chat.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       X-Staff-Key  header  string  true  "Staff key"
// @Param       id           path    string  true  "Order ID"  format(uuid)
// @Param       body         body    handlers.StatusRequest  true  "New status"
// @Success     200  {object}  domain.Order
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid status"
// @Failure     403  {object}  handlers.ErrorResponse  "Not staff"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Transition not allowed"
// @Router      /orders/{id}/status [patch]
func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	o, err := h.orderSvc.UpdateStatus(c.Request.Context(), c.Param("id"), actor(c, ""), req.Status)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}
