package restful

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/api_response"
	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/evaluator"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/rules"
	"github.com/okieraised/relay-controller/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type RuleCatalog interface {
	Snapshot() *rules.Snapshot
	Status() rules.ReloadStatus
}

type RuleReporter interface {
	Status() evaluator.Report
	RuleStatus(id string) (evaluator.RuleStatus, bool)
}

type RuleReloader interface {
	Reload(ctx context.Context) (*rules.Snapshot, error)
}

type IRuleService interface {
	List(ctx *gin.Context, input *RuleInput) (*api_response.BaseOutput, *cerrors.AppError)
	Status(ctx *gin.Context, input *RuleInput) (*api_response.BaseOutput, *cerrors.AppError)
	Reload(ctx *gin.Context, input *RuleInput) (*api_response.BaseOutput, *cerrors.AppError)
}

type RuleService struct {
	catalog  RuleCatalog
	reporter RuleReporter
	reloader RuleReloader
	logger   *log.Logger
}

func NewRuleService(options ...func(*RuleService)) *RuleService {
	svc := &RuleService{}
	for _, opt := range options {
		opt(svc)
	}
	svc.logger = log.Component("rule_api")
	return svc
}

func WithRuleCatalog(c RuleCatalog) func(*RuleService) {
	return func(svc *RuleService) { svc.catalog = c }
}

func WithRuleReporter(r RuleReporter) func(*RuleService) {
	return func(svc *RuleService) { svc.reporter = r }
}

func WithRuleReloader(r RuleReloader) func(*RuleService) {
	return func(svc *RuleService) { svc.reloader = r }
}

type RuleInput struct {
	TracerCtx context.Context
	Tracer    trace.Tracer
	// RuleID narrows Status to one rule when set.
	RuleID string
	// Source and Field narrow List to the rules reading them.
	Source string
	Field  string
}

// RuleView is the API form of a compiled rule.
type RuleView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Source    string   `json:"source"`
	Field     string   `json:"field"`
	Operator  string   `json:"operator"`
	Threshold string   `json:"threshold"`
	Cooldown  string   `json:"cooldown,omitempty"`
	Actions   []string `json:"actions"`
}

type RuleListOutput struct {
	Registry rules.ReloadStatus `json:"registry"`
	Rules    []RuleView         `json:"rules"`
}

func viewOf(r rules.Rule) RuleView {
	v := RuleView{
		ID:        r.ID,
		Name:      r.Name,
		Source:    r.Source,
		Field:     r.Field,
		Operator:  string(r.Operator),
		Threshold: r.Threshold.String(),
		Actions:   make([]string, 0, len(r.Actions)),
	}
	if r.Cooldown != nil {
		v.Cooldown = r.Cooldown.String()
	}
	for _, a := range r.Actions {
		v.Actions = append(v.Actions, a.String())
	}
	return v
}

func (svc *RuleService) List(ctx *gin.Context, input *RuleInput) (*api_response.BaseOutput, *cerrors.AppError) {
	_, span := input.Tracer.Start(input.TracerCtx, "list-rules")
	defer span.End()

	snap := svc.catalog.Snapshot()
	selected := snap.Rules()
	switch {
	case input.Source != "" && input.Field != "":
		selected = snap.ForKey(telemetry.Key{Source: input.Source, Field: input.Field})
	case input.Source != "":
		selected = snap.ForSource(input.Source)
	case input.Field != "":
		return nil, cerrors.ErrGenericBadRequest.WithMessage("field filter requires source")
	}
	out := RuleListOutput{Registry: svc.catalog.Status(), Rules: make([]RuleView, 0, len(selected))}
	for _, r := range selected {
		out.Rules = append(out.Rules, viewOf(r))
	}
	return &api_response.BaseOutput{
		Code:    cerrors.OK.Code,
		Message: cerrors.OK.Message,
		Data:    out,
		Count:   len(out.Rules),
	}, nil
}

func (svc *RuleService) Status(ctx *gin.Context, input *RuleInput) (*api_response.BaseOutput, *cerrors.AppError) {
	_, span := input.Tracer.Start(input.TracerCtx, "rule-status")
	defer span.End()

	if input.RuleID != "" {
		st, ok := svc.reporter.RuleStatus(input.RuleID)
		if !ok {
			return nil, cerrors.ErrRuleNotFound.WithMessage("rule %s not found", input.RuleID)
		}
		return &api_response.BaseOutput{Code: cerrors.OK.Code, Message: cerrors.OK.Message, Data: st}, nil
	}

	rep := svc.reporter.Status()
	return &api_response.BaseOutput{
		Code:    cerrors.OK.Code,
		Message: cerrors.OK.Message,
		Data:    rep,
		Count:   len(rep.Rules),
	}, nil
}

func (svc *RuleService) Reload(ctx *gin.Context, input *RuleInput) (*api_response.BaseOutput, *cerrors.AppError) {
	rootCtx, span := input.Tracer.Start(input.TracerCtx, "reload-rules")
	defer span.End()

	lg := svc.logger.With(zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)))
	snap, err := svc.reloader.Reload(rootCtx)
	if err != nil {
		span.RecordError(err)
		lg.Warn("Rule reload rejected", zap.Error(err))
		return nil, cerrors.ToAppError(err)
	}
	lg.Info("Rule reload applied", zap.Uint64("version", snap.Version()), zap.Int("rules", snap.Len()))

	return &api_response.BaseOutput{
		Code:    cerrors.OK.Code,
		Message: cerrors.OK.Message,
		Data:    svc.catalog.Status(),
	}, nil
}
