package restful

import (
	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/tracer_client"
	"github.com/okieraised/relay-controller/internal/server/rest_server/services/v1/restful"
	"go.opentelemetry.io/otel/trace"
)

type SystemRouter struct {
	svc    restful.ISystemService
	logger *log.Logger
	tracer trace.Tracer
}

func NewSystemRouter(svc restful.ISystemService) *SystemRouter {
	return &SystemRouter{
		svc:    svc,
		logger: log.Component("system_router"),
		tracer: tracer_client.Tracer("system"),
	}
}

type rebootBody struct {
	Reason string `json:"reason"`
}

func (r *SystemRouter) Routes(engine *gin.RouterGroup) {
	engine.GET("/status", r.status)
	engine.GET("/telemetry", r.telemetry)
	engine.POST("/system/reboot", r.reboot)
}

func (r *SystemRouter) status(ctx *gin.Context) {
	rootCtx, span := startRequestSpan(ctx, r.tracer)
	defer span.End()

	result, appErr := r.svc.Status(ctx, &restful.SystemInput{TracerCtx: rootCtx, Tracer: r.tracer})
	writeResult(ctx, result, appErr)
}

func (r *SystemRouter) telemetry(ctx *gin.Context) {
	rootCtx, span := startRequestSpan(ctx, r.tracer)
	defer span.End()

	result, appErr := r.svc.Telemetry(ctx, &restful.SystemInput{TracerCtx: rootCtx, Tracer: r.tracer})
	writeResult(ctx, result, appErr)
}

func (r *SystemRouter) reboot(ctx *gin.Context) {
	rootCtx, span := startRequestSpan(ctx, r.tracer)
	defer span.End()

	// The body is optional.
	var body rebootBody
	_ = ctx.ShouldBindJSON(&body)

	result, appErr := r.svc.Reboot(ctx, &restful.SystemInput{
		TracerCtx: rootCtx,
		Tracer:    r.tracer,
		Reason:    body.Reason,
	})
	if appErr != nil {
		r.logger.Error(appErr.Error())
	}
	writeResult(ctx, result, appErr)
}
