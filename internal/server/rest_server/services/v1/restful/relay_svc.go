package restful

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/api_response"
	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/utilities"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RelayController is the part of relay.Controller the API drives.
type RelayController interface {
	List() []relay.Status
	Status(id string) (relay.Status, error)
	Execute(ctx context.Context, id string, cmd relay.Command) (relay.Status, error)
}

type IRelayService interface {
	List(ctx *gin.Context, input *RelayInput) (*api_response.BaseOutput, *cerrors.AppError)
	Get(ctx *gin.Context, input *RelayInput) (*api_response.BaseOutput, *cerrors.AppError)
	Command(ctx *gin.Context, input *RelayCommandInput) (*api_response.BaseOutput, *cerrors.AppError)
}

type RelayService struct {
	relays RelayController
	logger *log.Logger
}

func NewRelayService(options ...func(*RelayService)) *RelayService {
	svc := &RelayService{}
	for _, opt := range options {
		opt(svc)
	}
	svc.logger = log.Component("relay_api")
	return svc
}

func WithRelayController(relays RelayController) func(*RelayService) {
	return func(svc *RelayService) {
		svc.relays = relays
	}
}

type RelayInput struct {
	TracerCtx context.Context
	Tracer    trace.Tracer
	RelayID   string
}

type RelayCommandInput struct {
	TracerCtx context.Context
	Tracer    trace.Tracer
	RelayID   string
	Command   string
	// Duration is the raw ?duration= query value; bare integers are seconds.
	Duration string
}

func (svc *RelayService) List(ctx *gin.Context, input *RelayInput) (*api_response.BaseOutput, *cerrors.AppError) {
	_, span := input.Tracer.Start(input.TracerCtx, "list-relays")
	defer span.End()

	statuses := svc.relays.List()
	return &api_response.BaseOutput{
		Code:    cerrors.OK.Code,
		Message: cerrors.OK.Message,
		Data:    statuses,
		Count:   len(statuses),
	}, nil
}

func (svc *RelayService) Get(ctx *gin.Context, input *RelayInput) (*api_response.BaseOutput, *cerrors.AppError) {
	_, span := input.Tracer.Start(input.TracerCtx, "get-relay", trace.WithAttributes(attribute.String(constants.APIFieldRelayID, input.RelayID)))
	defer span.End()

	st, err := svc.relays.Status(input.RelayID)
	if err != nil {
		return nil, cerrors.ToAppError(err)
	}
	return &api_response.BaseOutput{
		Code:    cerrors.OK.Code,
		Message: cerrors.OK.Message,
		Data:    st,
	}, nil
}

func (svc *RelayService) Command(ctx *gin.Context, input *RelayCommandInput) (*api_response.BaseOutput, *cerrors.AppError) {
	_, span := input.Tracer.Start(input.TracerCtx, "relay-command", trace.WithAttributes(
		attribute.String(constants.APIFieldRelayID, input.RelayID),
		attribute.String("command", input.Command),
	))
	defer span.End()

	lg := svc.logger.With(
		zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)),
		zap.String(constants.APIFieldRelayID, input.RelayID),
	)

	kind, err := relay.ParseCommandKind(input.Command)
	if err != nil {
		return nil, cerrors.ErrInvalidCommand.WithMessage("%s", err)
	}
	cmd := relay.Command{Kind: kind}
	if input.Duration != "" {
		if kind != relay.CommandPulse {
			return nil, cerrors.ErrInvalidDuration.WithMessage("duration only applies to pulse")
		}
		d, err := utilities.Parse(input.Duration)
		if err != nil || d <= 0 {
			return nil, cerrors.ErrInvalidDuration.WithMessage("invalid pulse duration %q", input.Duration)
		}
		cmd.Duration = d
	}

	start := time.Now()
	st, err := svc.relays.Execute(ctx.Request.Context(), input.RelayID, cmd)
	if err != nil {
		appErr := cerrors.ToAppError(err)
		span.RecordError(err)
		lg.Warn("Relay command failed", zap.String("command", cmd.String()), zap.Error(err))
		return nil, appErr
	}
	lg.Info("Relay command applied",
		zap.String("command", cmd.String()),
		zap.String("state", st.State.String()),
		zap.Duration("took", time.Since(start)),
	)

	return &api_response.BaseOutput{
		Code:    cerrors.OK.Code,
		Message: cerrors.OK.Message,
		Data:    st,
	}, nil
}
