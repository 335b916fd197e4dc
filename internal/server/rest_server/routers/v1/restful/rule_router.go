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

type RuleRouter struct {
	svc    restful.IRuleService
	logger *log.Logger
	tracer trace.Tracer
}

func NewRuleRouter(svc restful.IRuleService) *RuleRouter {
	return &RuleRouter{
		svc:    svc,
		logger: log.Component("rule_router"),
		tracer: tracer_client.Tracer("rule"),
	}
}

func (r *RuleRouter) Routes(engine *gin.RouterGroup) {
	routes := engine.Group("/rules")
	routes.GET("", r.list)
	routes.GET("/status", r.status)
	routes.GET("/status/:id", r.status)
	routes.POST("/reload", r.reload)
}

func (r *RuleRouter) list(ctx *gin.Context) {
	rootCtx, span := startRequestSpan(ctx, r.tracer)
	defer span.End()

	result, appErr := r.svc.List(ctx, &restful.RuleInput{
		TracerCtx: rootCtx,
		Tracer:    r.tracer,
		Source:    ctx.Query("source"),
		Field:     ctx.Query("field"),
	})
	writeResult(ctx, result, appErr)
}

func (r *RuleRouter) status(ctx *gin.Context) {
	rootCtx, span := startRequestSpan(ctx, r.tracer)
	defer span.End()

	r.logger.With(
		zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)),
		zap.String(constants.APIFieldRuleID, ctx.Param("id")),
	).Debug("Received rule status request")

	result, appErr := r.svc.Status(ctx, &restful.RuleInput{
		TracerCtx: rootCtx,
		Tracer:    r.tracer,
		RuleID:    ctx.Param("id"),
	})
	writeResult(ctx, result, appErr)
}

func (r *RuleRouter) reload(ctx *gin.Context) {
	rootCtx, span := startRequestSpan(ctx, r.tracer)
	defer span.End()

	r.logger.With(
		zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)),
	).Info("Received rule reload request")

	result, appErr := r.svc.Reload(ctx, &restful.RuleInput{TracerCtx: rootCtx, Tracer: r.tracer})
	writeResult(ctx, result, appErr)
}
