package routers

import (
	"net/http"

	"github.com/okieraised/relay-controller/internal/server/rest_server/services/v1/restful"
	"github.com/okieraised/relay-controller/internal/server/rest_server/services/v1/ws"
)

type V1Rest struct {
	healthcheck *restful.HealthcheckService
	relay       *restful.RelayService
	rule        *restful.RuleService
	system      *restful.SystemService
}

func NewV1RestState() *V1Rest {
	return &V1Rest{}
}

func (svc *V1Rest) SetHealthcheckService(healthcheck *restful.HealthcheckService) {
	svc.healthcheck = healthcheck
}

func (svc *V1Rest) GetHealthcheckService() *restful.HealthcheckService {
	return svc.healthcheck
}

func (svc *V1Rest) SetRelayService(relay *restful.RelayService) {
	svc.relay = relay
}

func (svc *V1Rest) GetRelayService() *restful.RelayService {
	return svc.relay
}

func (svc *V1Rest) SetRuleService(rule *restful.RuleService) {
	svc.rule = rule
}

func (svc *V1Rest) GetRuleService() *restful.RuleService {
	return svc.rule
}

func (svc *V1Rest) SetSystemService(system *restful.SystemService) {
	svc.system = system
}

func (svc *V1Rest) GetSystemService() *restful.SystemService {
	return svc.system
}

type Websocket struct {
	events *ws.EventService
}

func NewWebsocketState() *Websocket {
	return &Websocket{}
}

func (svc *Websocket) SetEventService(events *ws.EventService) {
	svc.events = events
}

func (svc *Websocket) GetEventService() *ws.EventService {
	return svc.events
}

type AppState struct {
	v1Rest    *V1Rest
	websocket *Websocket
	metrics   http.Handler
}

func NewAppState() *AppState {
	return &AppState{}
}

func (svc *AppState) SetV1RestState(v1Rest *V1Rest) {
	svc.v1Rest = v1Rest
}

func (svc *AppState) GetV1RestState() *V1Rest {
	return svc.v1Rest
}

func (svc *AppState) GetWebsocketState() *Websocket {
	return svc.websocket
}

func (svc *AppState) SetWebsocketState(ws *Websocket) {
	svc.websocket = ws
}

// SetMetricsHandler exposes h at /metrics on the API port.
func (svc *AppState) SetMetricsHandler(h http.Handler) {
	svc.metrics = h
}

func (svc *AppState) GetMetricsHandler() http.Handler {
	return svc.metrics
}
