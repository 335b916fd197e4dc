package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/device_config"
	"github.com/okieraised/relay-controller/internal/dispatcher"
	"github.com/okieraised/relay-controller/internal/evaluator"
	"github.com/okieraised/relay-controller/internal/events"
	"github.com/okieraised/relay-controller/internal/infrastructure/local_cache"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"github.com/okieraised/relay-controller/internal/infrastructure/mqtt_client"
	"github.com/okieraised/relay-controller/internal/infrastructure/nats_client"
	"github.com/okieraised/relay-controller/internal/infrastructure/pg_client"
	"github.com/okieraised/relay-controller/internal/infrastructure/s3_client"
	"github.com/okieraised/relay-controller/internal/notify"
	"github.com/okieraised/relay-controller/internal/reboot"
	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/okieraised/relay-controller/internal/rules"
	"github.com/okieraised/relay-controller/internal/schedule_store"
	"github.com/okieraised/relay-controller/internal/scheduler"
	"github.com/okieraised/relay-controller/internal/server/grpc_server"
	"github.com/okieraised/relay-controller/internal/server/monitoring"
	"github.com/okieraised/relay-controller/internal/server/rest_server"
	"github.com/okieraised/relay-controller/internal/server/rest_server/routers"
	"github.com/okieraised/relay-controller/internal/server/rest_server/services/v1/restful"
	"github.com/okieraised/relay-controller/internal/server/rest_server/services/v1/ws"
	"github.com/okieraised/relay-controller/internal/telemetry"
	"github.com/okieraised/relay-controller/internal/utilities"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const (
	driverMQTT   = "mqtt"
	driverMemory = "memory"

	senderSMTP = "smtp"
	senderMQTT = "mqtt"
	senderNATS = "nats"
	senderLog  = "log"

	storeFile     = "file"
	storeS3       = "s3"
	storePostgres = "postgres"
	storeMemory   = "memory"

	defaultNatsSubject = "relayctl.notifications"
)

// telemetryMaxAge defaults to a few evaluation ticks.
func telemetryMaxAge() time.Duration {
	tick := config.Duration(config.SchedulerTickPeriod, constants.DefaultTickPeriod)
	return config.Duration(config.TelemetryMaxAge, constants.DefaultTelemetryMaxAgeTicks*tick)
}

// controller owns every long-lived component of the process.
type controller struct {
	logger  *log.Logger
	metrics *metrics.Metrics

	hub        *events.Hub
	buffer     *telemetry.Buffer
	source     telemetry.Source
	relays     *relay.Controller
	health     *grpc_server.HealthReporter
	registry   *rules.Registry
	dispatcher *dispatcher.Dispatcher
	evaluator  *evaluator.Evaluator
	scheduler  *scheduler.Scheduler
	loader     *device_config.Loader
	reloader   *device_config.Reloader
	smtp       *notify.SMTPSender
}

func newController(ctx context.Context) (*controller, error) {
	c := &controller{
		logger:  log.Component("controller"),
		metrics: metrics.Default(),
		buffer:  telemetry.NewBuffer(telemetry.WithMaxAge(telemetryMaxAge())),
	}

	c.loader = device_config.NewLoader(config.String(config.ControllerDeviceConfigPath, constants.DefaultDeviceConfigPath))
	doc, err := c.loader.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load device configuration")
	}
	c.logger.Info("Loaded device configuration",
		zap.String("path", c.loader.Path()), zap.Int("relays", len(doc.Relays)), zap.Int("rules", len(doc.Rules)))

	c.hub = events.NewHub(doc.SystemName(), config.String(config.ControllerID, constants.DefaultSystemName))

	driver, err := c.newDriver()
	if err != nil {
		return nil, err
	}
	c.relays, err = relay.NewController(doc.RelayConfigs(), driver,
		relay.WithMetrics(c.metrics),
		relay.WithWriteTimeout(config.Duration(config.ControllerHardwareWriteTimeout, constants.DefaultHardwareWriteTimeout)),
		relay.WithStateListener(func(st relay.Status) { c.hub.Publish(constants.EventRelayState, st) }),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create relay controller")
	}
	c.health = grpc_server.NewHealthReporter(c.relays.List())
	c.relays.AddListener(c.health.Observe)

	c.registry = rules.NewRegistry(rules.WithTargets(c.relays.Has), rules.WithRegistryMetrics(c.metrics))

	sender, err := c.newSender(doc)
	if err != nil {
		return nil, err
	}
	trigger, err := c.newRebootTrigger()
	if err != nil {
		return nil, err
	}
	dcfg := dispatcher.ConfigFromViper()
	c.dispatcher, err = dispatcher.New(dcfg, c.relays, sender, trigger,
		dispatcher.WithMetrics(c.metrics),
		dispatcher.WithRebootWindow(local_cache.NewWindow(local_cache.Cache(), "reboot", dcfg.RebootDedupe)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create action dispatcher")
	}

	ecfg, err := evaluator.ConfigFromViper()
	if err != nil {
		return nil, errors.Wrap(err, "invalid evaluator configuration")
	}
	c.evaluator = evaluator.New(ecfg, c.registry, c.dispatcher,
		evaluator.WithMetrics(c.metrics),
		evaluator.WithListener(c.publishRuleEvent),
	)

	store, err := c.newScheduleStore(ctx)
	if err != nil {
		return nil, err
	}
	c.scheduler = scheduler.New(scheduler.ConfigFromViper(), c.buffer, c.evaluator, c.relays, c.dispatcher, store,
		scheduler.WithMetrics(c.metrics))

	if viper.GetBool(config.ControllerEnableMQTT) {
		c.source = telemetry.NewMQTTSource(mqtt_client.Client(), mqtt_client.TopicPrefix(),
			telemetry.WithQoS(mqtt_client.QoS()),
			telemetry.WithBufferSize(config.Int(config.TelemetryBufferSize, 256)),
			telemetry.WithSubscribeTimeout(config.Duration(config.TelemetrySubscribeTimeout, 5*time.Second)),
		)
	} else {
		c.logger.Warn("MQTT is disabled, no telemetry will be ingested")
	}

	c.reloader = device_config.NewReloader(c.loader, c.registry, c.relays)
	c.reloader.OnApply(c.onDeviceConfig)
	if _, err := c.reloader.Apply(doc); err != nil {
		return nil, errors.Wrap(err, "failed to apply device configuration")
	}
	return c, nil
}

func (c *controller) newDriver() (relay.Driver, error) {
	name := strings.ToLower(config.String(config.ControllerRelayDriver, driverMQTT))
	switch name {
	case driverMQTT:
		if !viper.GetBool(config.ControllerEnableMQTT) {
			c.logger.Warn("MQTT is disabled, falling back to the in-memory relay driver")
			return relay.NewMemoryDriver(), nil
		}
		return relay.NewMQTTDriver(mqtt_client.Client(), mqtt_client.TopicPrefix(), mqtt_client.QoS()), nil
	case driverMemory:
		return relay.NewMemoryDriver(), nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", name)
	}
}

func (c *controller) newSender(doc *device_config.Document) (notify.Sender, error) {
	name := strings.ToLower(config.String(config.ControllerNotificationSender, senderLog))
	switch name {
	case senderSMTP:
		s, err := notify.NewSMTPSender(notify.SMTPOptionsFromViper())
		if err != nil {
			return nil, errors.Wrap(err, "failed to create smtp sender")
		}
		s.SetDefaults(doc.SubjectPrefix(), doc.Email.Recipients)
		c.smtp = s
		return s, nil
	case senderMQTT:
		if !viper.GetBool(config.ControllerEnableMQTT) {
			return nil, errors.New("mqtt notification sender requires controller.enable_mqtt")
		}
		return notify.NewMQTTSender(mqtt_client.Client(), mqtt_client.TopicPrefix(), mqtt_client.QoS(), doc.SystemName()), nil
	case senderNATS:
		if !viper.GetBool(config.ControllerEnableNATS) {
			return nil, errors.New("nats notification sender requires controller.enable_nats")
		}
		return notify.NewNATSSender(nats_client.Conn(), config.String(config.NatsSubject, defaultNatsSubject), doc.SystemName()), nil
	case senderLog:
		return notify.NewLogSender(log.Component("notify")), nil
	default:
		return nil, fmt.Errorf("unknown notification sender %q", name)
	}
}

func (c *controller) newRebootTrigger() (reboot.Trigger, error) {
	if config.Bool(config.ControllerRebootDryRun, false) {
		return reboot.NewDryRunTrigger(log.Component("reboot")), nil
	}
	t, err := reboot.NewCommandTrigger(config.String(config.ControllerRebootCommand, "systemctl reboot"), log.Component("reboot"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create reboot trigger")
	}
	return t, nil
}

func (c *controller) newScheduleStore(ctx context.Context) (schedule_store.Store, error) {
	controllerID := config.String(config.ControllerID, constants.DefaultSystemName)
	name := strings.ToLower(config.String(config.ControllerScheduleStore, storeFile))
	switch name {
	case storeFile:
		return schedule_store.NewFileStore(config.String(config.ControllerScheduleStorePath, constants.DefaultScheduleStorePath)), nil
	case storeS3:
		if !viper.GetBool(config.ControllerEnableS3) {
			return nil, errors.New("s3 schedule store requires controller.enable_s3")
		}
		return schedule_store.NewS3Store(s3_client.Client(), viper.GetString(config.S3Bucket), viper.GetString(config.S3KeyPrefix), controllerID), nil
	case storePostgres:
		if !viper.GetBool(config.ControllerEnablePostgres) {
			return nil, errors.New("postgres schedule store requires controller.enable_postgres")
		}
		store := schedule_store.NewPostgresStore(pg_client.Pool(), controllerID)
		err := utilities.RetryWithBackoff(ctx, func() error {
			schemaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return store.EnsureSchema(schemaCtx)
		}, 5, 500*time.Millisecond, 5*time.Second)
		if err != nil {
			return nil, errors.Wrap(err, "failed to prepare schedule store schema")
		}
		return store, nil
	case storeMemory:
		c.logger.Warn("Using the in-memory schedule store, daily reboot state is lost on restart")
		return schedule_store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown schedule store %q", name)
	}
}

// onDeviceConfig runs after every applied document, the initial one included.
func (c *controller) onDeviceConfig(doc *device_config.Document) {
	enabled, at := doc.DailyReboot()
	c.scheduler.SetDailyReboot(enabled, at)
	if c.smtp != nil {
		c.smtp.SetDefaults(doc.SubjectPrefix(), doc.Email.Recipients)
	}
	c.hub.Publish(constants.EventReload, c.registry.Status())
}

func (c *controller) publishRuleEvent(ev evaluator.Event) {
	switch ev.Type {
	case evaluator.EventRuleFired:
		c.hub.Publish(constants.EventRuleFired, ev)
	case evaluator.EventActionOutcome:
		c.hub.Publish(constants.EventActionResult, ev)
	}
}

func (c *controller) appState() *routers.AppState {
	v1 := routers.NewV1RestState()
	v1.SetHealthcheckService(restful.NewHealthcheckService(restful.WithHealthRelays(c.relays)))
	v1.SetRelayService(restful.NewRelayService(restful.WithRelayController(c.relays)))
	v1.SetRuleService(restful.NewRuleService(
		restful.WithRuleCatalog(c.registry),
		restful.WithRuleReporter(c.evaluator),
		restful.WithRuleReloader(c.reloader),
	))
	v1.SetSystemService(restful.NewSystemService(
		restful.WithSystemName(c.reloader.Current().SystemName()),
		restful.WithSystemRegistry(c.registry),
		restful.WithSystemRelays(c.relays),
		restful.WithSystemScheduler(c.scheduler),
		restful.WithSystemDispatcher(c.dispatcher),
		restful.WithSystemTelemetry(c.buffer),
		restful.WithSystemEvents(c.hub),
	))

	wsState := routers.NewWebsocketState()
	wsState.SetEventService(ws.NewEventService(ws.WithEventHub(c.hub)))

	appState := routers.NewAppState()
	appState.SetV1RestState(v1)
	appState.SetWebsocketState(wsState)
	appState.SetMetricsHandler(c.metrics.Handler())
	return appState
}

// run drives every component until ctx is done or one of them fails, then
// drains the dispatcher for its grace period.
func (c *controller) run(parentCtx context.Context) error {
	g, ctx := errgroup.WithContext(parentCtx)

	g.Go(func() error {
		c.hub.Run(ctx)
		return nil
	})

	c.relays.Start(ctx)
	if err := c.dispatcher.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start action dispatcher")
	}
	go c.evaluator.Supervise(ctx, c.dispatcher.Results())

	if c.source != nil {
		g.Go(func() error {
			return c.buffer.Pump(ctx, c.source)
		})
	}

	g.Go(func() error {
		return c.scheduler.Run(ctx)
	})

	if config.Bool(config.ControllerWatchDeviceConfig, true) {
		g.Go(func() error {
			w := device_config.NewWatcher(c.loader, func(ctx context.Context) {
				_, _ = c.reloader.Reload(ctx)
			}, 0)
			return w.Run(ctx)
		})
	}

	g.Go(func() error {
		return grpc_server.NewGRPCServer(ctx, c.health, func(s *grpc.Server) {})
	})

	if config.Bool(config.ControllerEnableMonitoring, false) {
		g.Go(func() error {
			return monitoring.NewMonitoringServer(ctx, c.metrics.Handler())
		})
	}

	g.Go(func() error {
		return rest_server.NewHTTPServer(ctx, func(engine *gin.Engine) {
			routers.NewRootRouter(c.appState()).InitRouters(engine)
		})
	})

	err := g.Wait()
	grace := config.Duration(config.DispatcherGracePeriod, constants.DispatcherDefaultGracePeriod)
	if sErr := c.dispatcher.Stop(grace); sErr != nil {
		c.logger.Warn("Action dispatcher stopped with abandoned work", zap.Error(sErr))
	}
	c.logger.Info(fmt.Sprintf("Stopped controller %s", c.reloader.Current().SystemName()))
	return err
}
