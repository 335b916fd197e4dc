package restful

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/api_response"
	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/constants"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func startRequestSpan(ctx *gin.Context, tracer trace.Tracer) (context.Context, trace.Span) {
	return tracer.Start(ctx.Request.Context(), ctx.FullPath(), trace.WithAttributes(attribute.KeyValue{
		Key:   constants.APIFieldRequestID,
		Value: attribute.StringValue(ctx.GetString(constants.APIFieldRequestID)),
	}))
}

// writeResult renders a service result in the API envelope. Validation errors
// carry their per-field details in meta.
func writeResult(ctx *gin.Context, result *api_response.BaseOutput, appErr *cerrors.AppError) {
	if appErr != nil {
		var details any
		if d := cerrors.DetailsOf(appErr); len(d) > 0 {
			details = d
		}
		ctx.JSON(cerrors.HTTPStatusOf(appErr), api_response.Failure(ctx, appErr.Code, appErr.Message, details))
		return
	}

	status := http.StatusOK
	if result != nil && result.Status != 0 {
		status = result.Status
	}
	ctx.JSON(status, api_response.Success(ctx, result))
}
