package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/api_response"
	"github.com/okieraised/relay-controller/internal/cerrors"
)

// NoRouteMW answers unknown paths with the API envelope instead of gin's plain 404.
func NoRouteMW() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		resp := api_response.Failure(ctx,
			cerrors.ErrGenericUnknownAPIPath.Code,
			cerrors.ErrGenericUnknownAPIPath.Message+": "+ctx.Request.URL.Path,
			nil)
		ctx.AbortWithStatusJSON(cerrors.ErrGenericUnknownAPIPath.HTTPStatus, resp)
	}
}
