package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/okieraised/relay-controller/internal/constants"
)

// RequestIDMW reuses an inbound X-Request-ID or mints one, and echoes it back.
func RequestIDMW() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := ctx.GetHeader(constants.HeaderXRequestID)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		ctx.Request.Header.Set(constants.HeaderXRequestID, requestID)
		ctx.Set(constants.APIFieldRequestID, requestID)
		ctx.Header(constants.HeaderXRequestID, requestID)
		ctx.Next()
	}
}
