// Package httpapi wires the HTTP transport (Gin) to the chat services,
// middleware, route handlers and the WebSocket gateway. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, logging with
// redaction, panic recovery, metrics, CORS, security headers, credential
// verification, idempotency and rate limiting.
//
// Route layout under the API base path:
//
//	GET  /chat/ws                      WebSocket session (credential in-band)
//	POST /chat/rooms                   open room with counterpart
//	GET  /chat/rooms                   caller's rooms
//	GET  /chat/rooms/:id               one room
//	GET  /chat/rooms/:id/messages      history after a cursor
//	POST /chat/rooms/:id/messages      send (Idempotency-Key aware)
//	POST /chat/rooms/:id/read          advance read marker
//	GET  /chat/rooms/:id/unread        unread counter
package httpapi

import (
	"context"
	"errors"
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

	"github.com/tbourn/go-consult-chat/internal/auth"
	"github.com/tbourn/go-consult-chat/internal/config"
	"github.com/tbourn/go-consult-chat/internal/http/handlers"
	"github.com/tbourn/go-consult-chat/internal/http/middleware"
	"github.com/tbourn/go-consult-chat/internal/repo"
)

// maxBodyBytes caps every request body. Message bodies are bounded far
// lower by the ledger's rune limit.
const maxBodyBytes = 1 << 20

// Deps are the collaborators mounted by RegisterRoutes.
type Deps struct {
	// DB backs the Idempotency-Key replay lookup. Nil disables the lookup;
	// the ledger still deduplicates inside the append transaction.
	DB       *gorm.DB
	Verifier auth.Verifier
	Rooms    handlers.RoomService
	Messages handlers.MessageService
	// Realtime serves the WebSocket endpoint; nil leaves it unmounted.
	Realtime gin.HandlerFunc
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and credential scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//
// The REST group then adds Authenticate, and each route adds the rate
// limiter per participant and gzip. The send route puts the Idempotency
// validator ahead of the limiter so replays bypass it. The WebSocket route authenticates in-band and is only
// rate limited per client IP.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)

	if deps.Realtime != nil {
		upgrades := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByParticipantOrIP())
		api.GET("/chat/ws", upgrades.Handler(), deps.Realtime)
	}

	h := handlers.New(deps.Rooms, deps.Messages)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByParticipantOrIP())

	chat := api.Group("/chat", middleware.Authenticate(deps.Verifier))
	limit, zip := rl.Handler(), gzip.Gzip(gzip.DefaultCompression)
	// Only sends carry an Idempotency-Key; other routes never see it.
	idem := middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(deps.DB))
	{
		chat.POST("/rooms", limit, zip, h.OpenRoom)
		chat.GET("/rooms", limit, zip, h.ListRooms)
		chat.GET("/rooms/:id", limit, zip, h.GetRoom)

		chat.GET("/rooms/:id/messages", limit, zip, h.ListMessages)
		chat.POST("/rooms/:id/messages", idem, limit, zip, h.PostMessage)
		chat.POST("/rooms/:id/read", limit, zip, h.MarkRead)
		chat.GET("/rooms/:id/unread", limit, zip, h.Unread)
	}
}

// idempotencyLookup reports whether a live record exists for the key. Store
// errors count as a miss: the append transaction checks again.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, participant, roomID, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, participant, roomID, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return rec != nil, nil
	}
}

// corsMiddleware returns the CORS chain: allow-all when no origins are
// configured, an allowlist echo otherwise. Credentials travel in the
// Authorization header, never cookies, so AllowCredentials stays false.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After"}
	methods := []string{"GET", "POST", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// ACAO: * even without an Origin header (simple health checks).
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader. Requests exceeding the cap fail on read.
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
