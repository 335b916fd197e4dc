package routers

import (
	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/server/rest_server/routers/v1/restful"
	"github.com/okieraised/relay-controller/internal/server/rest_server/routers/v1/ws"
)

type RootRouter struct {
	appState *AppState
}

func NewRootRouter(appState *AppState) *RootRouter {
	return &RootRouter{
		appState: appState,
	}
}

// InitRouters mounts every service present in the app state; missing services
// leave their routes unregistered.
func (rr *RootRouter) InitRouters(engine *gin.Engine) {
	// http
	rootAPIRouter := engine.Group("/api")
	v1Router := rootAPIRouter.Group("/v1")
	if v1 := rr.appState.GetV1RestState(); v1 != nil {
		if svc := v1.GetHealthcheckService(); svc != nil {
			restful.NewHealthcheckRouter(svc).Routes(v1Router)
		}
		if svc := v1.GetRelayService(); svc != nil {
			restful.NewRelayRouter(svc).Routes(v1Router)
		}
		if svc := v1.GetRuleService(); svc != nil {
			restful.NewRuleRouter(svc).Routes(v1Router)
		}
		if svc := v1.GetSystemService(); svc != nil {
			restful.NewSystemRouter(svc).Routes(v1Router)
		}
	}

	// websocket
	if wsState := rr.appState.GetWebsocketState(); wsState != nil && wsState.GetEventService() != nil {
		rootWSRouter := engine.Group("/ws")
		ws.NewWebsocketRouter(wsState.GetEventService()).Routes(rootWSRouter)
	}

	if h := rr.appState.GetMetricsHandler(); h != nil {
		engine.GET("/metrics", gin.WrapH(h))
	}
}
