package middlewares

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/api_response"
	"github.com/okieraised/relay-controller/internal/cerrors"
)

// RequestTimeoutMW bounds the request context. Handlers that honour it and
// return without writing get a timeout response.
func RequestTimeoutMW(timeoutDuration time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.IsWebsocket() {
			ctx.Next()
			return
		}

		reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), timeoutDuration)
		defer cancel()
		ctx.Request = ctx.Request.WithContext(reqCtx)
		ctx.Next()

		if ctx.Writer.Written() || !errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return
		}
		resp := api_response.Failure(ctx, cerrors.ErrGenericRequestTimedOut.Code, cerrors.ErrGenericRequestTimedOut.Message, nil)
		ctx.AbortWithStatusJSON(cerrors.ErrGenericRequestTimedOut.HTTPStatus, resp)
	}
}
