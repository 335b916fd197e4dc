package restful

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/api_response"
	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/dispatcher"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/rules"
	"github.com/okieraised/relay-controller/internal/scheduler"
	"github.com/okieraised/relay-controller/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type RelayFaults interface {
	Faulted() []string
}

type SchedulerStats interface {
	Stats() scheduler.Stats
}

type ActionDispatcher interface {
	Submit(req dispatcher.Request) (dispatcher.Request, error)
	Stats() dispatcher.Stats
}

type TelemetryView interface {
	Snapshot() telemetry.Snapshot
}

type EventStream interface {
	Clients() int
	Dropped() int64
}

type ISystemService interface {
	Status(ctx *gin.Context, input *SystemInput) (*api_response.BaseOutput, *cerrors.AppError)
	Telemetry(ctx *gin.Context, input *SystemInput) (*api_response.BaseOutput, *cerrors.AppError)
	Reboot(ctx *gin.Context, input *SystemInput) (*api_response.BaseOutput, *cerrors.AppError)
}

type SystemService struct {
	systemName string
	registry   RuleCatalog
	relays     RelayFaults
	scheduler  SchedulerStats
	dispatcher ActionDispatcher
	telemetry  TelemetryView
	events     EventStream
	logger     *log.Logger
}

func NewSystemService(options ...func(*SystemService)) *SystemService {
	svc := &SystemService{systemName: constants.DefaultSystemName}
	for _, opt := range options {
		opt(svc)
	}
	svc.logger = log.Component("system_api")
	return svc
}

func WithSystemName(name string) func(*SystemService) {
	return func(svc *SystemService) { svc.systemName = name }
}

func WithSystemRegistry(r RuleCatalog) func(*SystemService) {
	return func(svc *SystemService) { svc.registry = r }
}

func WithSystemRelays(r RelayFaults) func(*SystemService) {
	return func(svc *SystemService) { svc.relays = r }
}

func WithSystemScheduler(s SchedulerStats) func(*SystemService) {
	return func(svc *SystemService) { svc.scheduler = s }
}

func WithSystemDispatcher(d ActionDispatcher) func(*SystemService) {
	return func(svc *SystemService) { svc.dispatcher = d }
}

func WithSystemTelemetry(t TelemetryView) func(*SystemService) {
	return func(svc *SystemService) { svc.telemetry = t }
}

func WithSystemEvents(e EventStream) func(*SystemService) {
	return func(svc *SystemService) { svc.events = e }
}

type SystemInput struct {
	TracerCtx context.Context
	Tracer    trace.Tracer
	// Reason is recorded on manual reboots.
	Reason string
}

type EventStreamStats struct {
	Clients int   `json:"clients"`
	Dropped int64 `json:"dropped"`
}

type SystemStatusOutput struct {
	SystemName    string             `json:"system_name"`
	Registry      rules.ReloadStatus `json:"registry"`
	FaultedRelays []string           `json:"faulted_relays"`
	Scheduler     *scheduler.Stats   `json:"scheduler,omitempty"`
	Dispatcher    *dispatcher.Stats  `json:"dispatcher,omitempty"`
	Events        *EventStreamStats  `json:"events,omitempty"`
}

type RebootOutput struct {
	DispatchID string `json:"dispatch_id"`
}

func (svc *SystemService) Status(ctx *gin.Context, input *SystemInput) (*api_response.BaseOutput, *cerrors.AppError) {
	_, span := input.Tracer.Start(input.TracerCtx, "system-status")
	defer span.End()

	out := SystemStatusOutput{SystemName: svc.systemName, FaultedRelays: []string{}}
	if svc.registry != nil {
		out.Registry = svc.registry.Status()
	}
	if svc.relays != nil {
		out.FaultedRelays = append(out.FaultedRelays, svc.relays.Faulted()...)
	}
	if svc.scheduler != nil {
		st := svc.scheduler.Stats()
		out.Scheduler = &st
	}
	if svc.dispatcher != nil {
		st := svc.dispatcher.Stats()
		out.Dispatcher = &st
	}
	if svc.events != nil {
		out.Events = &EventStreamStats{Clients: svc.events.Clients(), Dropped: svc.events.Dropped()}
	}

	return &api_response.BaseOutput{
		Code:    cerrors.OK.Code,
		Message: cerrors.OK.Message,
		Data:    out,
	}, nil
}

func (svc *SystemService) Telemetry(ctx *gin.Context, input *SystemInput) (*api_response.BaseOutput, *cerrors.AppError) {
	_, span := input.Tracer.Start(input.TracerCtx, "telemetry-view")
	defer span.End()

	samples := svc.telemetry.Snapshot().Samples()
	span.SetAttributes(attribute.Int("samples", len(samples)))
	return &api_response.BaseOutput{
		Code:    cerrors.OK.Code,
		Message: cerrors.OK.Message,
		Data:    samples,
		Count:   len(samples),
	}, nil
}

// Reboot queues a reboot through the dispatcher, so dedupe and retry apply.
func (svc *SystemService) Reboot(ctx *gin.Context, input *SystemInput) (*api_response.BaseOutput, *cerrors.AppError) {
	_, span := input.Tracer.Start(input.TracerCtx, "manual-reboot")
	defer span.End()

	reason := input.Reason
	if reason == "" {
		reason = "manual reboot via API"
	}
	req, err := svc.dispatcher.Submit(dispatcher.Request{
		Origin: dispatcher.OriginAPI,
		Action: rules.RebootAction{Reason: reason},
	})
	if err != nil {
		span.RecordError(err)
		return nil, cerrors.ToAppError(err)
	}
	svc.logger.Warn("Manual reboot requested",
		zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)),
		zap.String("dispatch_id", req.ID),
		zap.String("reason", reason),
	)

	return &api_response.BaseOutput{
		Status:  http.StatusAccepted,
		Code:    cerrors.OK.Code,
		Message: "reboot queued",
		Data:    RebootOutput{DispatchID: req.ID},
	}, nil
}
