package constants

import "time"

const (
	ControllerDefaultHTTPPort       = 8080
	ControllerDefaultGRPCPort       = 7070
	ControllerDefaultMonitoringPort = 6060
)

const (
	DefaultHTTPRequestTimeout = 10
	DefaultOutboundProbeAddr  = "8.8.8.8:80"
	GraceWaitPeriod           = 10 * time.Second
)

const (
	DefaultDeviceConfigPath     = "conf/device.yaml"
	DefaultScheduleStorePath    = "data/schedule_state.json"
	DefaultSystemName           = "relay-controller"
	DefaultRebootTime           = "04:00"
	DefaultPulseDuration        = 5 * time.Second
	DefaultHardwareWriteTimeout = 2 * time.Second
	DefaultRebootDedupeWindow   = 60 * time.Second
)

const (
	DefaultTickPeriod           = 5 * time.Second
	DefaultScheduleCheckPeriod  = 60 * time.Second
	DefaultOverrunWarnThreshold = 3
	DefaultRebootCatchUp        = 15 * time.Minute
	// A sample not refreshed for this many ticks is treated as unknown.
	DefaultTelemetryMaxAgeTicks = 3
)

const (
	DefaultFiringPolicy = "edge_or_cooldown"
	DefaultCooldown     = 60 * time.Second
)

const (
	DispatcherDefaultWorkers        = 5
	DispatcherDefaultQueueSize      = 256
	DispatcherDefaultMaxAttempts    = 4
	DispatcherDefaultInitialBackoff = 500 * time.Millisecond
	DispatcherDefaultMaxBackoff     = 10 * time.Second
	DispatcherDefaultCallTimeout    = 10 * time.Second
	DispatcherDefaultGracePeriod    = 5 * time.Second
)

const (
	MqttDefaultWriteTimeout         = 10 * time.Second
	MqttDefaultKeepAlive            = 30 * time.Second
	MqttDefaultPingTimeout          = 5 * time.Second
	MqttDefaultMaxReconnectInterval = 30 * time.Second
	MqttDefaultConnectTimeout       = 10 * time.Second
	MqttDefaultConnectRetryInterval = 10 * time.Second
	MqttDefaultTopicPrefix          = "relayctl"
)

const (
	SmtpDefaultPort   = 587
	SmtpDefaultSecure = "tls"
)
