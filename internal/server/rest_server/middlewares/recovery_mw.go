package middlewares

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/api_response"
	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"go.uber.org/zap"
)

func RecoveryMW() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Default().Error("Recovered from handler panic",
					zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)),
					zap.String("panic", fmt.Sprint(rec)),
					zap.ByteString("stack", debug.Stack()),
				)
				resp := api_response.Failure(ctx, cerrors.ErrGenericInternalServer.Code, cerrors.ErrGenericInternalServer.Message, nil)
				ctx.AbortWithStatusJSON(cerrors.ErrGenericInternalServer.HTTPStatus, resp)
			}
		}()
		ctx.Next()
	}
}
