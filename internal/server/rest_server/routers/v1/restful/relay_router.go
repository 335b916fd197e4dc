package restful

import (
	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/tracer_client"
	"github.com/okieraised/relay-controller/internal/server/rest_server/services/v1/restful"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type RelayRouter struct {
	svc    restful.IRelayService
	logger *log.Logger
	tracer trace.Tracer
}

func NewRelayRouter(svc restful.IRelayService) *RelayRouter {
	return &RelayRouter{
		svc:    svc,
		logger: log.Component("relay_router"),
		tracer: tracer_client.Tracer("relay"),
	}
}

func (r *RelayRouter) Routes(engine *gin.RouterGroup) {
	routes := engine.Group("/relays")
	routes.GET("", r.list)
	routes.GET("/:id", r.get)
	routes.POST("/:id/:command", r.command)
}

func (r *RelayRouter) list(ctx *gin.Context) {
	rootCtx, span := startRequestSpan(ctx, r.tracer)
	defer span.End()

	result, appErr := r.svc.List(ctx, &restful.RelayInput{TracerCtx: rootCtx, Tracer: r.tracer})
	writeResult(ctx, result, appErr)
}

func (r *RelayRouter) get(ctx *gin.Context) {
	rootCtx, span := startRequestSpan(ctx, r.tracer)
	defer span.End()

	result, appErr := r.svc.Get(ctx, &restful.RelayInput{
		TracerCtx: rootCtx,
		Tracer:    r.tracer,
		RelayID:   ctx.Param("id"),
	})
	writeResult(ctx, result, appErr)
}

// command handles POST /relays/:id/{on,off,pulse,toggle}; pulse takes ?duration=.
func (r *RelayRouter) command(ctx *gin.Context) {
	rootCtx, span := startRequestSpan(ctx, r.tracer)
	defer span.End()

	r.logger.With(
		zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)),
		zap.String(constants.APIFieldRelayID, ctx.Param("id")),
	).Info("Received relay command", zap.String("command", ctx.Param("command")))

	result, appErr := r.svc.Command(ctx, &restful.RelayCommandInput{
		TracerCtx: rootCtx,
		Tracer:    r.tracer,
		RelayID:   ctx.Param("id"),
		Command:   ctx.Param("command"),
		Duration:  ctx.Query("duration"),
	})
	writeResult(ctx, result, appErr)
}
