// Package httpapi wires the Gin transport to the services, middleware and
// handlers. It owns the middleware order and the route table.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/postgate/internal/config"
	"github.com/tbourn/postgate/internal/http/handlers"
	"github.com/tbourn/postgate/internal/http/middleware"
)

// Services is everything the HTTP layer needs from the application.
type Services struct {
	handlers.Deps

	// Enter creates or refreshes the caller on every API request.
	Enter middleware.EnterFunc
	// Member gates the API on channel membership; nil disables the gate.
	Member middleware.MemberFunc
	// IdempotencyExists backs replay detection; nil disables it.
	IdempotencyExists middleware.IdempotencyLookup
}

var allowHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	middleware.HeaderUserID, middleware.HeaderUserHandle, middleware.HeaderIdempotencyKey,
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Global middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. gzip (not for /metrics)
//  8. CORS and security headers
//
// The API group then runs Identify (with the optional membership gate), the idempotency validator (which needs
// the caller) and the rate limiter (which lets replays through).
func RegisterRoutes(r *gin.Engine, s Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(middleware.Metrics())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
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
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.New(s.Deps)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Identify(s.Enter, s.Member),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, s.IdempotencyExists),
		rl.Handler(),
	)
	{
		api.POST("/posts", h.SubmitPost)
		api.GET("/me", h.Me)
		api.GET("/users/lookup", h.LookupUser)
	}

	mod := api.Group("", middleware.RequireModerator())
	{
		mod.GET("/moderation/next", h.NextPending)
		mod.POST("/moderation/posts/:id/approve", h.ApprovePost)
		mod.POST("/moderation/posts/:id/reject", h.RejectPost)
		mod.GET("/admin/stats", h.Stats)
		mod.GET("/admin/channel", h.GetChannel)
	}

	own := api.Group("/owner", middleware.RequireOwner())
	{
		own.PUT("/channel", h.SetChannel)
		own.GET("/users", h.ListUsers)
		own.GET("/admins", h.ListAdmins)
		own.PUT("/users/:id/admin", h.GrantAdmin)
		own.DELETE("/users/:id/admin", h.RevokeAdmin)
		own.PUT("/users/:id/trust", h.SetTrust)
		own.PUT("/users/:id/subscription", h.GrantSubscription)
		own.DELETE("/users/:id/subscription", h.RevokeSubscription)
	}
}

// corsMiddleware allows any origin when none are configured, otherwise only
// the allowlist. Credentials are never allowed.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     allowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", middleware.HeaderReplayed, "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

// limitBody caps request bodies at maxBytes; larger bodies fail to bind.
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
