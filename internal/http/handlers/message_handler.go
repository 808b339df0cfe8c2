// Message HTTP handlers.
//
// This file exposes the two message ledgers:
//   - GET  /negotiations/{id}/messages
//   - POST /negotiations/{id}/messages
//   - GET  /orders/{id}/messages
//   - POST /orders/{id}/messages   (409 chat_locked once the order is COMPLETED)
//
// Reads support weak ETags so pollers get 304 while nothing changed, and
// degrade to an empty list with X-Degraded: true when storage is down.
// Writes accept an Idempotency-Key; resending the same key returns the stored
// message with Idempotency-Replayed: true.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/dealer-negotiation-backend/internal/http/middleware"
	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message.
type PostMessageRequest struct {
	// Content is the message text. It must be non-empty after trimming.
	Content string `json:"content" binding:"required" example:"Can you do 24.000?"`
	// Name is the customer's claimed name when not sent as header or query.
	Name string `json:"name,omitempty" example:"Ana Souza"`
}

// PostMessageResponse wraps the stored message.
type PostMessageResponse struct {
	Message MessageView `json:"message"`
}

// ListMessagesResponse is a whole ledger plus the thread state a client
// needs to render it.
type ListMessagesResponse struct {
	Messages []MessageView `json:"messages"`
	Status   string        `json:"status,omitempty" example:"IN_PROGRESS"`
	Locked   bool          `json:"locked,omitempty"`
	Degraded bool          `json:"degraded,omitempty"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ledgerETag sets the ETag for the thread and reports whether the client
// copy is current. Failures leave the response without an ETag.
func (h *Handlers) ledgerETag(c *gin.Context, kind repo.ThreadKind, id string, act services.Actor) (notModified bool) {
	v, err := h.msgSvc.Version(c.Request.Context(), kind, id, act)
	if err != nil {
		return false
	}
	var ts int64
	if v.LastWrite != nil {
		ts = v.LastWrite.UnixNano()
	}
	etag := fmt.Sprintf(`W/"messages:%s:%d:%d:%d:%s"`, id, v.Count, v.MaxID, ts, v.Status)
	c.Header("ETag", etag)
	return c.GetHeader("If-None-Match") == etag
}

func (h *Handlers) clearTyping(kind repo.ThreadKind, id string, act services.Actor) {
	if h.typingSvc != nil {
		h.typingSvc.Clear(kind, id, act.Role)
	}
}

func writeAppended(c *gin.Context, v MessageView, replayed bool) {
	if replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, PostMessageResponse{Message: v})
		return
	}
	ok(c, http.StatusCreated, PostMessageResponse{Message: v})
}

//
// Handlers
//

// ListNegotiationMessages godoc
// @ID          listNegotiationMessages
// @Summary     List negotiation messages
// @Description Returns the whole ledger in chronological order. Supports If-None-Match (304).
// @Description When storage is unavailable the list is empty and X-Degraded is true.
// @Tags        Messages
// @Produce     json
// @Param       id               path    string  true   "Negotiation ID"  format(uuid)
// @Param       name             query   string  false  "Customer name claim"
// @Param       If-None-Match    header  string  false  "Previous ETag"
// @Success     200  {object}  handlers.ListMessagesResponse
// @Header      200  {string}  ETag        "Weak ETag of the ledger"
// @Header      200  {string}  X-Degraded  "true when served without storage"
// @Success     304  {string}  string  "Not Modified"
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /negotiations/{id}/messages [get]
func (h *Handlers) ListNegotiationMessages(c *gin.Context) {
	id := c.Param("id")
	act := actor(c, "")

	if h.ledgerETag(c, repo.ThreadNegotiation, id, act) {
		c.Status(http.StatusNotModified)
		return
	}

	ledger, err := h.msgSvc.ListNegotiation(c.Request.Context(), id, act)
	if err != nil {
		c.Writer.Header().Del("ETag")
		failService(c, err)
		return
	}
	resp := ListMessagesResponse{
		Messages: make([]MessageView, 0, len(ledger.Messages)),
		Status:   string(ledger.Status),
		Degraded: ledger.Degraded,
	}
	for _, m := range ledger.Messages {
		resp.Messages = append(resp.Messages, negotiationMessageView(m))
	}
	if ledger.Degraded {
		c.Writer.Header().Del("ETag")
		markDegraded(c)
	}
	ok(c, http.StatusOK, resp)
}

// PostNegotiationMessage godoc
// @ID          postNegotiationMessage
// @Summary     Send a negotiation message
// @Description The first message of an OPEN negotiation moves it to IN_PROGRESS.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       id               path    string  true   "Negotiation ID"  format(uuid)
// @Param       Idempotency-Key  header  string  false  "Client key; resending it returns the stored message"
// @Param       body             body    handlers.PostMessageRequest  true  "Message"
// @Success     201  {object}  handlers.PostMessageResponse
// @Success     200  {object}  handlers.PostMessageResponse  "Replay of an earlier send"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /negotiations/{id}/messages [post]
func (h *Handlers) PostNegotiationMessage(c *gin.Context) {
	id := c.Param("id")
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	act := actor(c, req.Name)
	key, _ := middleware.GetIdempotencyKey(c)

	m, replayed, err := h.msgSvc.AppendNegotiation(c.Request.Context(), id, act, sanitizeContent(req.Content), key)
	if err != nil {
		failService(c, err)
		return
	}
	h.clearTyping(repo.ThreadNegotiation, id, act)
	writeAppended(c, negotiationMessageView(*m), replayed)
}

// ListOrderMessages godoc
// @ID          listOrderMessages
// @Summary     List order chat messages
// @Description Returns the whole ledger in chronological order, with locked=true once the order is COMPLETED.
// @Tags        Messages
// @Produce     json
// @Param       id             path    string  true   "Order ID"  format(uuid)
// @Param       name           query   string  false  "Customer name claim"
// @Param       If-None-Match  header  string  false  "Previous ETag"
// @Success     200  {object}  handlers.ListMessagesResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /orders/{id}/messages [get]
func (h *Handlers) ListOrderMessages(c *gin.Context) {
	id := c.Param("id")
	act := actor(c, "")

	if h.ledgerETag(c, repo.ThreadOrder, id, act) {
		c.Status(http.StatusNotModified)
		return
	}

	ledger, err := h.msgSvc.ListOrder(c.Request.Context(), id, act)
	if err != nil {
		c.Writer.Header().Del("ETag")
		failService(c, err)
		return
	}
	resp := ListMessagesResponse{
		Messages: make([]MessageView, 0, len(ledger.Messages)),
		Status:   string(ledger.Status),
		Locked:   ledger.Locked,
		Degraded: ledger.Degraded,
	}
	for _, m := range ledger.Messages {
		resp.Messages = append(resp.Messages, orderMessageView(m))
	}
	if ledger.Degraded {
		c.Writer.Header().Del("ETag")
		markDegraded(c)
	}
	ok(c, http.StatusOK, resp)
}

// PostOrderMessage godoc
// @ID          postOrderMessage
// @Summary     Send an order chat message
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       id               path    string  true   "Order ID"  format(uuid)
// @Param       Idempotency-Key  header  string  false  "Client key; resending it returns the stored message"
// @Param       body             body    handlers.PostMessageRequest  true  "Message"
// @Success     201  {object}  handlers.PostMessageResponse
// @Success     200  {object}  handlers.PostMessageResponse  "Replay of an earlier send"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Access denied"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Chat locked"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /orders/{id}/messages [post]
func (h *Handlers) PostOrderMessage(c *gin.Context) {
	id := c.Param("id")
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	act := actor(c, req.Name)
	key, _ := middleware.GetIdempotencyKey(c)

	m, replayed, err := h.msgSvc.AppendOrder(c.Request.Context(), id, act, sanitizeContent(req.Content), key)
	if err != nil {
		failService(c, err)
		return
	}
	h.clearTyping(repo.ThreadOrder, id, act)
	writeAppended(c, orderMessageView(*m), replayed)
}
