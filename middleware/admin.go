package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/beastiary/cache"
)

const AdminKeyHeader = "X-Admin-Key"

const (
	adminFailPrefix    = "admin:fail:"
	adminMaxFailures   = 5
	adminLockout       = 10 * time.Minute
	adminCacheDeadline = 2 * time.Second
)

// AdminKey guards admin routes with the X-Admin-Key header. An empty key
// disables the routes (503) so a server cannot be deployed unprotected. Clients that fail too often are locked out for a while; failures
// are counted in c.
func AdminKey(key string, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if key == "" {
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		cctx, cancel := context.WithTimeout(ctx.Request.Context(), adminCacheDeadline)
		defer cancel()
		failKey := adminFailPrefix + ctx.ClientIP()

		failures := adminFailures(cctx, c, failKey)
		if failures >= adminMaxFailures {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(ctx.GetHeader(AdminKeyHeader)), []byte(key)) != 1 {
			_ = c.Set(cctx, failKey, strconv.Itoa(failures+1), adminLockout)
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			return
		}
		ctx.Next()
	}
}

func adminFailures(ctx context.Context, c cache.Cache, key string) int {
	v, err := c.Get(ctx, key)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
