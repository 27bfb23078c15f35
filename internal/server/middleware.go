package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/kredit/internal/observability/logger"
	"github.com/smallbiznis/kredit/internal/orgcontext"
	"go.uber.org/zap"
)

// OrgHeader carries the acting tenant on authenticated routes. Upstream
// auth (gateway or API-key middleware) is expected to set it; the service
// only validates the format.
const OrgHeader = "X-Organization-ID"

// OrgContext resolves the tenant header into the request context. Routes
// mounted behind it reject requests without a valid organization id.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(OrgHeader)
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		orgID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || orgID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), orgID))
		c.Next()
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	log := base.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context()); ok {
			fields = append(fields, zap.String("org_id", orgID.String()))
		}
		logger.WithContext(c.Request.Context(), log).Info("request", fields...)
	}
}
