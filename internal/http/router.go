// Package httpapi wires the Gin engine: middleware chain, service graph and
// the negotiation and order routes under the versioned API prefix.
//
// Thread reads are polled every few seconds by storefront and staff clients,
// so the chain is ordered to make a 304 cheap: caller resolution and rate
// limiting run before any handler touches the database.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/dealer-negotiation-backend/docs"
	"github.com/tbourn/dealer-negotiation-backend/internal/config"
	"github.com/tbourn/dealer-negotiation-backend/internal/http/handlers"
	"github.com/tbourn/dealer-negotiation-backend/internal/http/middleware"
	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/resilience"
	"github.com/tbourn/dealer-negotiation-backend/internal/services"
)

// Services bundles the application services behind the HTTP API.
type Services struct {
	Identities   *services.IdentityService
	Negotiations *services.NegotiationService
	Orders       *services.OrderService
	Messages     *services.MessageService
}

// NewServices builds the service graph over db. All services share one
// resilient executor, so pool resets are coalesced process-wide.
func NewServices(db *gorm.DB, cfg config.Config) *Services {
	exec := resilience.New(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, repo.ClassifyError, repo.PoolResetter(db, cfg.DB.MaxIdleConns))
	ids := &services.IdentityService{
		DB:         db,
		Exec:       exec,
		DealerID:   cfg.Dealer.IdentityID,
		DealerName: cfg.Dealer.Name,
	}
	msgs := &services.MessageService{
		DB:         db,
		Exec:       exec,
		Identities: ids,
		MaxRunes:   cfg.MaxMessageRunes,
	}
	return &Services{
		Identities:   ids,
		Negotiations: &services.NegotiationService{DB: db, Exec: exec, Identities: ids, Messages: msgs},
		Orders:       &services.OrderService{DB: db, Exec: exec},
		Messages:     msgs,
	}
}

// clientKeyLookup checks the ledger named by the middleware's thread label
// ("negotiation" or "order", matching repo.ThreadKind) on behalf of the
// resolved caller. Only header or query name claims count here.
func clientKeyLookup(msgs *services.MessageService) middleware.IdempotencyLookup {
	return func(c *gin.Context, thread, threadID, key string) (bool, error) {
		act := services.Customer(middleware.ActorName(c))
		if middleware.IsStaff(c) {
			act = services.Staff(middleware.ActorName(c))
		}
		return msgs.HasClientKey(c.Request.Context(), repo.ThreadKind(thread), threadID, act, key)
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression,
// idempotency and rate limiting, CORS and security headers, health, metrics
// and docs endpoints, and then mounts the versioned public API under /api/v*.
// typing may be nil; typing endpoints then report no markers.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip (metrics excluded)
//  8. Caller resolution (staff key or claimed customer name)
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per staff/IP, bypass on replay)
//  11. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, typing *services.TypingService) *Services {
	r.HandleMethodNotAllowed = true

	// Dependency injection: services ← repo/db
	svcs := NewServices(db, cfg)

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			middleware.HeaderStaffKey,
			middleware.HeaderCustomerName,
		},
		MaskQueryParams: []string{"name"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 8) Who is calling
	r.Use(middleware.ActorResolver(middleware.ActorOptions{StaffKey: cfg.Dealer.StaffAPIKey}))

	// 9) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		clientKeyLookup(svcs.Messages),
	))

	// 10) Token-bucket rate limiter per caller, reads and writes apart
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByCaller())
	r.Use(rl.Handler())

	// 11) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
		middleware.HeaderIdempotencyKey,
		middleware.HeaderStaffKey,
		middleware.HeaderStaffName,
		middleware.HeaderCustomerName,
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "X-Degraded", "Idempotency-Replayed", "Retry-After"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		EnablePolicy:  true,
		PrivatePrefix: cfg.APIBasePath,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var typingSvc handlers.TypingService
	if typing != nil {
		typingSvc = typing
	}
	h := handlers.New(svcs.Negotiations, svcs.Orders, svcs.Messages, typingSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Negotiations
		api.POST("/negotiations", h.CreateNegotiation)
		api.GET("/negotiations", h.ListNegotiations)
		api.GET("/negotiations/:id", h.GetNegotiation)
		api.PATCH("/negotiations/:id/status", h.UpdateNegotiationStatus)
		api.GET("/negotiations/:id/messages", h.ListNegotiationMessages)
		api.POST("/negotiations/:id/messages", h.PostNegotiationMessage)
		api.GET("/negotiations/:id/typing", h.GetNegotiationTyping)
		api.POST("/negotiations/:id/typing", h.PostNegotiationTyping)

		// Orders
		api.POST("/orders", h.CreateOrder)
		api.GET("/orders", h.ListOrders)
		api.GET("/orders/:id", h.GetOrder)
		api.PATCH("/orders/:id/status", h.UpdateOrderStatus)
		api.GET("/orders/:id/messages", h.ListOrderMessages)
		api.POST("/orders/:id/messages", h.PostOrderMessage)
		api.GET("/orders/:id/typing", h.GetOrderTyping)
		api.POST("/orders/:id/typing", h.PostOrderTyping)
	}
	return svcs
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
