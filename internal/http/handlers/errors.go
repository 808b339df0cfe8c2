// Package handlers provides HTTP handler implementations for the public API.
//
// Error codes are lowercase snake_case. Clients branch on the code, never on
// the message; the status alone does not tell a locked order chat from a
// rejected status transition.
package handlers

const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeForbidden   = "forbidden"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeRateLimited = "too_many_requests"
	ErrCodeInternal    = "internal_error"

	// Domain-specific:
	ErrCodeChatLocked       = "chat_locked"
	ErrCodeUnavailable      = "transient_unavailable"
	ErrCodeInvalidStatus    = "invalid_status"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
