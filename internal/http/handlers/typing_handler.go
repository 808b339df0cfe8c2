// Typing indicator handlers.
//
//   - POST /negotiations/{id}/typing, /orders/{id}/typing  (mark or clear)
//   - GET  /negotiations/{id}/typing, /orders/{id}/typing  (who else is typing)
//
// Markers are best effort: they live in memory only and are never an error
// source for clients beyond access checks.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/services"
)

// TypingRequest marks (typing=true, the default) or clears the caller's marker.
type TypingRequest struct {
	Typing *bool  `json:"typing,omitempty" example:"true"`
	Name   string `json:"name,omitempty" example:"Ana Souza"`
}

// TypingResponse lists the fresh markers of the other party.
type TypingResponse struct {
	Typing []services.TypingMarker `json:"typing"`
}

// PostNegotiationTyping godoc
// @ID          postNegotiationTyping
// @Summary     Mark the caller as typing in a negotiation
// @Tags        Typing
// @Accept      json
// @Param       id    path  string  true   "Negotiation ID"  format(uuid)
// @Param       body  body  handlers.TypingRequest  false  "Mark or clear"
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /negotiations/{id}/typing [post]
func (h *Handlers) PostNegotiationTyping(c *gin.Context) { h.postTyping(c, repo.ThreadNegotiation) }

// GetNegotiationTyping godoc
// @ID          getNegotiationTyping
// @Summary     Typing markers of the other party in a negotiation
// @Tags        Typing
// @Produce     json
// @Param       id    path   string  true   "Negotiation ID"  format(uuid)
// @Param       name  query  string  false  "Customer name claim"
// @Success     200  {object}  handlers.TypingResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /negotiations/{id}/typing [get]
func (h *Handlers) GetNegotiationTyping(c *gin.Context) { h.getTyping(c, repo.ThreadNegotiation) }

// PostOrderTyping godoc
// @ID          postOrderTyping
// @Summary     Mark the caller as typing in an order chat
// @Tags        Typing
// @Accept      json
// @Param       id    path  string  true   "Order ID"  format(uuid)
// @Param       body  body  handlers.TypingRequest  false  "Mark or clear"
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /orders/{id}/typing [post]
func (h *Handlers) PostOrderTyping(c *gin.Context) { h.postTyping(c, repo.ThreadOrder) }

// GetOrderTyping godoc
// @ID          getOrderTyping
// @Summary     Typing markers of the other party in an order chat
// @Tags        Typing
// @Produce     json
// @Param       id    path   string  true   "Order ID"  format(uuid)
// @Param       name  query  string  false  "Customer name claim"
// @Success     200  {object}  handlers.TypingResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /orders/{id}/typing [get]
func (h *Handlers) GetOrderTyping(c *gin.Context) { h.getTyping(c, repo.ThreadOrder) }

func (h *Handlers) postTyping(c *gin.Context, kind repo.ThreadKind) {
	var req TypingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	id := c.Param("id")
	act := actor(c, req.Name)

	if err := h.msgSvc.Authorize(c.Request.Context(), kind, id, act); err != nil {
		if errors.Is(err, services.ErrUnavailable) {
			// Nothing to protect while storage is down; drop the marker.
			noContent(c)
			return
		}
		failService(c, err)
		return
	}
	if h.typingSvc != nil {
		if req.Typing != nil && !*req.Typing {
			h.typingSvc.Clear(kind, id, act.Role)
		} else if err := h.typingSvc.Mark(kind, id, act.Role); err != nil {
			failWithCause(c, http.StatusInternalServerError, ErrCodeInternal, "typing marker not stored", err)
			return
		}
	}
	noContent(c)
}

func (h *Handlers) getTyping(c *gin.Context, kind repo.ThreadKind) {
	id := c.Param("id")
	act := actor(c, "")

	if err := h.msgSvc.Authorize(c.Request.Context(), kind, id, act); err != nil {
		if errors.Is(err, services.ErrUnavailable) {
			markDegraded(c)
			ok(c, http.StatusOK, TypingResponse{Typing: []services.TypingMarker{}})
			return
		}
		failService(c, err)
		return
	}
	resp := TypingResponse{Typing: []services.TypingMarker{}}
	if h.typingSvc != nil {
		resp.Typing = h.typingSvc.Active(kind, id, act.Role)
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, resp)
}
