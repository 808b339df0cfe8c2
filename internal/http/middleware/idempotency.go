// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Message sends are retried by flaky mobile clients, so POSTs to a ledger may
// carry an Idempotency-Key. The key is stored with the message; a resend with
// the same key in the same thread returns the stored message instead of a
// duplicate. This file validates the header and, for ledger sends, asks the
// store whether the caller already used the key in that thread so the resend
// can skip rate limiting.
package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client-chosen send key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

const defaultMaxKeyLen = 200

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions bounds accepted keys. Zero values select a 200 byte
// limit and the token pattern ^[A-Za-z0-9._~\-:]+$.
type IdempotencyOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether key is already stored in the ledger of
// thread ("negotiation" or "order") threadID. It runs after ActorResolver and
// must only answer true for callers allowed into the thread. Errors are
// ignored: the send proceeds, is rate limited, and the ledger's unique key
// still dedupes it.
type IdempotencyLookup func(c *gin.Context, thread, threadID, key string) (bool, error)

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyIdemKey)
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the key was found in the thread's ledger.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// IdempotencyValidator rejects malformed keys with 400 bad_idempotency_key
// and stores valid ones for GetIdempotencyKey. On POST .../:id/messages it
// consults lookup and marks known keys as replays, which the rate limiter
// lets through for free. Requests without the header pass untouched.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxKeyLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_idempotency_key",
				"message":    "Idempotency-Key must be a short token",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil && isLedgerSend(c) {
			seen, err := lookup(c, threadLabel(c.FullPath()), c.Param("id"), key)
			if err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("send key lookup failed")
			} else if seen {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

func isLedgerSend(c *gin.Context) bool {
	return c.Request.Method == http.MethodPost &&
		c.Param("id") != "" &&
		strings.HasSuffix(c.FullPath(), "/messages")
}
