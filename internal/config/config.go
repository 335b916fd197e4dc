package config

const (
	ControllerID                   = "controller.id"
	ControllerSystemName           = "controller.system_name"
	ControllerLogLevel             = "controller.log_level"
	ControllerDeviceConfigPath     = "controller.device_config_path"
	ControllerWatchDeviceConfig    = "controller.watch_device_config"
	ControllerHardwareWriteTimeout = "controller.hardware_write_timeout"
	ControllerRebootDedupeWindow   = "controller.reboot_dedupe_window"
	ControllerRebootCommand        = "controller.reboot_command"
	ControllerRebootDryRun         = "controller.reboot_dry_run"
	ControllerScheduleStore        = "controller.schedule_store"
	ControllerScheduleStorePath    = "controller.schedule_store_path"
	ControllerNotificationSender   = "controller.notification_sender"
	ControllerRelayDriver          = "controller.relay_driver"
	ControllerEnableMonitoring     = "controller.enable_monitoring"
	ControllerMonitoringPort       = "controller.monitoring_port"
	ControllerHTTPPort             = "controller.http_port"
	ControllerHTTPMode             = "controller.http_mode"
	ControllerHTTPRequestTimeout   = "controller.http_request_timeout"
	ControllerGRPCPort             = "controller.grpc_port"
	ControllerTLSCertFile          = "controller.tls_cert_file"
	ControllerTLSKeyFile           = "controller.tls_key_file"
	ControllerTLSClientCAFile      = "controller.tls_client_ca_file"
	ControllerEnableMQTT           = "controller.enable_mqtt"
	ControllerEnableTracing        = "controller.enable_tracing"
	ControllerEnableS3             = "controller.enable_s3"
	ControllerEnableNATS           = "controller.enable_nats"
	ControllerEnablePostgres       = "controller.enable_postgres"
)

const (
	SchedulerTickPeriod           = "scheduler.tick_period"
	SchedulerScheduleCheckPeriod  = "scheduler.schedule_check_period"
	SchedulerOverrunWarnThreshold = "scheduler.overrun_warn_threshold"
	SchedulerRebootCatchUp        = "scheduler.reboot_catch_up"
)

const (
	EvaluatorFiringPolicy = "evaluator.firing_policy"
	EvaluatorCooldown     = "evaluator.cooldown"
)

const (
	DispatcherWorkers        = "dispatcher.workers"
	DispatcherQueueSize      = "dispatcher.queue_size"
	DispatcherMaxAttempts    = "dispatcher.max_attempts"
	DispatcherInitialBackoff = "dispatcher.initial_backoff"
	DispatcherMaxBackoff     = "dispatcher.max_backoff"
	DispatcherCallTimeout    = "dispatcher.call_timeout"
	DispatcherGracePeriod    = "dispatcher.grace_period"
)

const (
	MqttEndpoint              = "mqtt.endpoint"
	MqttCleanSession          = "mqtt.clean_session"
	MqttClientId              = "mqtt.client_id"
	MqttAutoReconnect         = "mqtt.auto_reconnect"
	MqttConnectRetry          = "mqtt.connect_retry"
	MqttMaxConnectInterval    = "mqtt.max_connect_interval"
	MqttWriteTimeout          = "mqtt.write_timeout"
	MqttPingTimeout           = "mqtt.ping_timeout"
	MqttKeepAliveDuration     = "mqtt.keep_alive_duration"
	MqttResumeSubs            = "mqtt.resume_subs"
	MqttConnectTimeout        = "mqtt.connect_timeout"
	MqttConnectRetryInterval  = "mqtt.connect_retry_interval"
	MqttTLSInsecureSkipVerify = "mqtt.tls_insecure_skip_verify"
	MqttTopicPrefix           = "mqtt.topic_prefix"
	MqttQoS                   = "mqtt.qos"
	MqttUsername              = "mqtt.username"
	MqttPassword              = "mqtt.password" // #nosec G101
)

const (
	TelemetryBufferSize       = "telemetry.buffer_size"
	TelemetrySubscribeTimeout = "telemetry.subscribe_timeout"
	TelemetryMaxAge           = "telemetry.max_age"
)

const (
	S3Region                = "s3.region"
	S3Endpoint              = "s3.endpoint"
	S3AccessKey             = "s3.access_key"
	S3SecretKey             = "s3.secret_key"
	S3UsePathStyle          = "s3.use_path_style"
	S3TLSInsecureSkipVerify = "s3.tls_insecure_skip_verify"
	S3Bucket                = "s3.bucket"
	S3KeyPrefix             = "s3.key_prefix"
)

const (
	NatsURL           = "nats.url"
	NatsSubject       = "nats.notification_subject"
	NatsMaxReconnects = "nats.max_reconnects"
	NatsReconnectWait = "nats.reconnect_wait"
	NatsTimeout       = "nats.timeout"
)

const (
	PostgresDSN      = "postgres.dsn"
	PostgresMaxConns = "postgres.max_conns"
)

const (
	SmtpServer      = "smtp.server"
	SmtpPort        = "smtp.port"
	SmtpUser        = "smtp.user"
	SmtpPassword    = "smtp.password"
	SmtpSecure      = "smtp.secure"
	SmtpReturnEmail = "smtp.return_email"
)

const (
	TracingEndpoint    = "tracing.endpoint"
	TracingInsecure    = "tracing.insecure"
	TracingServiceName = "tracing.service_name"
	TracingSampleRatio = "tracing.sample_ratio"
)
