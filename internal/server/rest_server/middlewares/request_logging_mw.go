package middlewares

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/constants"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// quietPaths are polled by probes and scrapers and only logged at debug.
var quietPaths = map[string]bool{
	"/api/v1/health": true,
	"/metrics":       true,
}

// RequestLoggingMW logs one line per request. The level follows the status:
// 5xx at error, 4xx at warn.
func RequestLoggingMW(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		status := ctx.Writer.Status()
		route := ctx.FullPath()
		fields := []zapcore.Field{
			zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)),
			zap.Int("status", status),
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.String("route", route),
			zap.String("query", ctx.Request.URL.RawQuery),
			zap.String("ip", ctx.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if id := ctx.Param("id"); id != "" {
			switch {
			case strings.Contains(route, "/relays/"):
				fields = append(fields, zap.String(constants.APIFieldRelayID, id))
			case strings.Contains(route, "/rules/"):
				fields = append(fields, zap.String(constants.APIFieldRuleID, id))
			}
		}
		if len(ctx.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", ctx.Errors.Errors()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("Request failed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("Request rejected", fields...)
		case quietPaths[route]:
			logger.Debug("Request served", fields...)
		default:
			logger.Info("Request served", fields...)
		}
	}
}
