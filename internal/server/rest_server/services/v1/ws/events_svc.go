package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/okieraised/relay-controller/internal/api_response"
	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/events"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type IEventService interface {
	Subscribe(ctx *gin.Context, tracerCtx context.Context, tracer trace.Tracer) (*api_response.BaseOutput, *cerrors.AppError)
}

type EventService struct {
	hub      *events.Hub
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewEventService(options ...func(*EventService)) *EventService {
	svc := &EventService{}
	for _, opt := range options {
		opt(svc)
	}
	svc.upgrader = websocket.Upgrader{
		HandshakeTimeout: 5 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	svc.logger = log.Component("event_stream")
	return svc
}

func WithEventHub(hub *events.Hub) func(*EventService) {
	return func(svc *EventService) {
		svc.hub = hub
	}
}

// Subscribe upgrades the connection and streams hub events until the peer
// leaves or the hub stops.
func (svc *EventService) Subscribe(
	ctx *gin.Context,
	tracerCtx context.Context,
	tracer trace.Tracer,
) (*api_response.BaseOutput, *cerrors.AppError) {
	_, span := tracer.Start(tracerCtx, "upgrade-connection")
	conn, err := svc.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	span.End()
	if err != nil {
		svc.logger.Warn("Websocket upgrade failed",
			zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)), zap.Error(err))
		// The upgrader already answered the request.
		return nil, cerrors.ErrGenericBadRequest.WithCause(err)
	}

	client := events.NewClient(conn, svc.hub)
	svc.logger.Info("Websocket subscriber connected", zap.String("client_id", client.ID.String()))
	client.Serve()
	svc.logger.Info("Websocket subscriber left", zap.String("client_id", client.ID.String()))

	return &api_response.BaseOutput{Code: cerrors.OK.Code, Message: cerrors.OK.Message}, nil
}
