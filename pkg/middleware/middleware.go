// Package middleware assembles the gin router: request logging, panic
// recovery, CORS, per-request deadlines and caller identity propagation.
package middleware

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/beegy-labs/authorization-service/pkg/constant"
)

// Options configures the router-level middleware.
type Options struct {
	Debug          bool
	AllowOrigins   []string
	RequestTimeout time.Duration
}

// NewRouter builds a gin engine with the shared middleware chain. Route
// registration is left to the caller.
func NewRouter(logger *zap.Logger, opts Options) *gin.Engine {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(ginzap.Ginzap(logger, time.RFC3339Nano, true))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	if len(opts.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", constant.HeaderCallerUIDKey},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
		}))
	}

	r.Use(CallerUID())
	if opts.RequestTimeout > 0 {
		r.Use(RequestTimeout(opts.RequestTimeout))
	}
	return r
}

// CallerUID copies the authenticated caller identity header onto the
// request context so the storage layer can pin that caller's reads after a
// write.
func CallerUID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := c.GetHeader(constant.HeaderCallerUIDKey); uid != "" {
			c.Request = c.Request.WithContext(constant.WithCaller(c.Request.Context(), uid))
		}
		c.Next()
	}
}

// RequestTimeout applies a per-request deadline. Evaluation observes it
// through the context and fails with DeadlineExceeded rather than running
// unbounded.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
