// Package mqtt_client holds the broker connection shared by the telemetry
// source, the relay driver and the MQTT notification sender.
package mqtt_client

import (
	"crypto/tls"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Availability payloads, retained on <prefix>/status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type Options struct {
	Username             string
	Password             string
	CleanSession         bool
	AutoReconnect        bool
	ConnectRetry         bool
	ResumeSubs           bool
	TLSInsecureSkip      bool
	WriteTimeout         time.Duration
	KeepAlive            time.Duration
	PingTimeout          time.Duration
	MaxReconnectInterval time.Duration
	ConnectTimeout       time.Duration
	ConnectRetryInterval time.Duration
	TopicPrefix          string
	QoS                  byte
	TLSConfig            *tls.Config
}

type Option func(*Options)

// OptionsFromViper reads the mqtt.* keys.
func OptionsFromViper() Options {
	return Options{
		Username:             viper.GetString(config.MqttUsername),
		Password:             viper.GetString(config.MqttPassword),
		CleanSession:         config.Bool(config.MqttCleanSession, true),
		AutoReconnect:        config.Bool(config.MqttAutoReconnect, true),
		ConnectRetry:         config.Bool(config.MqttConnectRetry, true),
		ResumeSubs:           config.Bool(config.MqttResumeSubs, true),
		TLSInsecureSkip:      config.Bool(config.MqttTLSInsecureSkipVerify, false),
		WriteTimeout:         config.Duration(config.MqttWriteTimeout, constants.MqttDefaultWriteTimeout),
		KeepAlive:            config.Duration(config.MqttKeepAliveDuration, constants.MqttDefaultKeepAlive),
		PingTimeout:          config.Duration(config.MqttPingTimeout, constants.MqttDefaultPingTimeout),
		MaxReconnectInterval: config.Duration(config.MqttMaxConnectInterval, constants.MqttDefaultMaxReconnectInterval),
		ConnectTimeout:       config.Duration(config.MqttConnectTimeout, constants.MqttDefaultConnectTimeout),
		ConnectRetryInterval: config.Duration(config.MqttConnectRetryInterval, constants.MqttDefaultConnectRetryInterval),
		TopicPrefix:          TopicPrefix(),
		QoS:                  QoS(),
	}
}

func isSecureScheme(u string) bool {
	s := strings.ToLower(u)
	return strings.HasPrefix(s, "mqtts://") || strings.HasPrefix(s, "ssl://") ||
		strings.HasPrefix(s, "tls://") || strings.HasPrefix(s, "wss://")
}

// StatusTopic is where the controller announces its availability.
func StatusTopic(prefix string) string { return prefix + "/status" }

// clientOptions maps Options onto paho. The broker publishes the retained
// offline will when the connection drops without a clean disconnect.
func clientOptions(endpoint, clientID string, o Options) *mqtt.ClientOptions {
	lg := log.Component("mqtt")
	status := StatusTopic(o.TopicPrefix)

	opts := mqtt.NewClientOptions().
		AddBroker(endpoint).
		SetClientID(clientID).
		SetCleanSession(o.CleanSession).
		SetAutoReconnect(o.AutoReconnect).
		SetConnectRetry(o.ConnectRetry).
		SetConnectRetryInterval(o.ConnectRetryInterval).
		SetMaxReconnectInterval(o.MaxReconnectInterval).
		SetWriteTimeout(o.WriteTimeout).
		SetKeepAlive(o.KeepAlive).
		SetPingTimeout(o.PingTimeout).
		SetResumeSubs(o.ResumeSubs).
		SetConnectTimeout(o.ConnectTimeout).
		SetBinaryWill(status, []byte(StatusOffline), o.QoS, true).
		SetOnConnectHandler(func(c mqtt.Client) {
			lg.Info("MQTT connected", zap.String("status_topic", status))
			c.Publish(status, o.QoS, true, StatusOnline)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			lg.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			lg.Info("MQTT reconnecting")
		})
	if o.Username != "" {
		opts.SetUsername(o.Username).SetPassword(o.Password)
	}
	switch {
	case o.TLSConfig != nil:
		opts.SetTLSConfig(o.TLSConfig)
	case isSecureScheme(endpoint):
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: o.TLSInsecureSkip}) // #nosec G402
	}
	return opts
}

var (
	mu     sync.RWMutex
	client mqtt.Client
	opts   Options
)

// NewMQTTClient connects the process-wide client.
func NewMQTTClient(endpoint, clientID string, optFns ...Option) error {
	o := OptionsFromViper()
	for _, fn := range optFns {
		fn(&o)
	}

	c := mqtt.NewClient(clientOptions(endpoint, clientID, o))
	tok := c.Connect()
	if !tok.WaitTimeout(o.ConnectTimeout) {
		return errors.Errorf("mqtt connect timeout after %s", o.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return errors.Wrap(err, "mqtt connect")
	}

	mu.Lock()
	client, opts = c, o
	mu.Unlock()
	return nil
}

// TopicPrefix is the root of every topic the controller publishes or subscribes to.
func TopicPrefix() string {
	return strings.TrimSuffix(config.String(config.MqttTopicPrefix, constants.MqttDefaultTopicPrefix), "/")
}

// QoS returns the configured quality of service, clamped to 0..2.
func QoS() byte {
	q := config.Int(config.MqttQoS, 1)
	switch {
	case q < 0:
		q = 0
	case q > 2:
		q = 2
	}
	return byte(q)
}

func Client() mqtt.Client {
	mu.RLock()
	defer mu.RUnlock()
	if client == nil {
		panic("mqtt client not initialized")
	}
	return client
}

// Disconnect announces offline, waits up to quiesce for in-flight work, then
// closes the connection.
func Disconnect(quiesce time.Duration) {
	mu.Lock()
	c, o := client, opts
	client = nil
	mu.Unlock()
	if c == nil || !c.IsConnected() {
		return
	}
	c.Publish(StatusTopic(o.TopicPrefix), o.QoS, true, StatusOffline).WaitTimeout(quiesce)
	c.Disconnect(uint(quiesce.Milliseconds()))
}
