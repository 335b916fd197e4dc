package ws

import (
	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/tracer_client"
	"github.com/okieraised/relay-controller/internal/server/rest_server/services/v1/ws"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type WebsocketRouter struct {
	svc    ws.IEventService
	logger *log.Logger
	tracer trace.Tracer
}

func NewWebsocketRouter(svc ws.IEventService) *WebsocketRouter {
	return &WebsocketRouter{
		svc:    svc,
		logger: log.Component("websocket_router"),
		tracer: tracer_client.Tracer("websocket_router"),
	}
}

func (r *WebsocketRouter) Routes(engine *gin.RouterGroup) {
	routes := engine.Group("")
	routes.GET("", r.subscribe)
}

func (r *WebsocketRouter) subscribe(ctx *gin.Context) {
	rootCtx, span := r.tracer.Start(ctx.Request.Context(), ctx.Request.URL.Path, trace.WithAttributes(attribute.KeyValue{
		Key:   constants.APIFieldRequestID,
		Value: attribute.StringValue(ctx.GetString(constants.APIFieldRequestID)),
	}))
	defer span.End()

	r.logger.With(
		zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)),
	).Debug("Received new websocket handshake for the event stream")

	// Upgrade failures are answered by the upgrader itself.
	if _, err := r.svc.Subscribe(ctx, rootCtx, r.tracer); err != nil {
		r.logger.Debug(err.Error())
	}
}
