// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RedactingLogger is the access log. Customers identify themselves by name
// and contact details, so those values must never reach the logs verbatim:
// identity headers and the name query parameter are masked outright, and
// anything that looks like an email, phone number or UUID is scrubbed from
// the remaining query string and headers. Bodies are never logged.
//
// It also attaches the request-scoped logger returned by LoggerFrom.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders specifies extra HTTP header names whose values will be fully
// replaced with "[REDACTED]". Matching is case-insensitive and merged with
// built-in sensitive headers ("Authorization", "Cookie", "Set-Cookie").
//
// MaskQueryParams lists query parameter names whose values are replaced with
// "[REDACTED]" (e.g. "name", which carries a customer's claimed name).
type RedactOptions struct {
	MaskHeaders     []string
	MaskQueryParams []string
}

// RedactingLogger emits one structured line per request: route pattern,
// thread id, scrubbed query and headers, status, size and
// latency. Level follows the outcome (info, warn for 4xx, error for 5xx or
// gin errors).
//
// UUIDs are redacted before phone numbers; the loose phone pattern would
// otherwise match the digit runs inside a UUID.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	// Compile regex patterns once.
	uuidRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE := regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only phone pattern (prevents matching hex characters from UUIDs).
	// Examples matched: "+1 212-555-1212", "212 555 1212", "(212) 555-1212".
	phoneRE := regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	var paramRE *regexp.Regexp
	if len(opts.MaskQueryParams) > 0 {
		names := make([]string, 0, len(opts.MaskQueryParams))
		for _, p := range opts.MaskQueryParams {
			if p = strings.TrimSpace(p); p != "" {
				names = append(names, regexp.QuoteMeta(p))
			}
		}
		if len(names) > 0 {
			paramRE = regexp.MustCompile(`(?i)(^|&)(` + strings.Join(names, "|") + `)=[^&]*`)
		}
	}

	redact := func(s string) string {
		if s == "" {
			return s
		}
		out := s
		// Order matters: IDs → email → phone (phone is the loosest).
		out = uuidRE.ReplaceAllString(out, "[REDACTED:id]")
		out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
		out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
		return out
	}

	// Build header mask set (case-insensitive).
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		rawQuery := c.Request.URL.RawQuery
		if paramRE != nil {
			rawQuery = paramRE.ReplaceAllString(rawQuery, "${1}${2}=[REDACTED]")
		}
		safeQuery := truncate(redact(rawQuery), maxQueryLogLength)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		attachLogger(c, route)

		c.Next()

		status := c.Writer.Status()

		// Read the logger back: ActorResolver adds the caller role.
		lg := LoggerFrom(c)
		ev := lg.Info()
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = lg.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = lg.Warn()
		}

		if id := c.Param("id"); id != "" {
			ev = ev.Str("thread_id", id)
		}
		ev.
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Bool("degraded", c.Writer.Header().Get("X-Degraded") == "true").
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
