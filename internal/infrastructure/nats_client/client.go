package nats_client

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"go.uber.org/zap"
)

var (
	once    sync.Once
	conn    *nats.Conn
	initErr error
)

type Options struct {
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

type Option func(*Options)

func WithName(name string) Option { return func(o *Options) { o.Name = name } }

func WithReconnect(max int, wait time.Duration) Option {
	return func(o *Options) { o.MaxReconnects, o.ReconnectWait = max, wait }
}

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

// NewNATSClient connects the process-wide NATS connection.
func NewNATSClient(url string, opts ...Option) error {
	once.Do(func() {
		conf := Options{
			Name:          "relay-controller",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		}
		for _, fn := range opts {
			fn(&conf)
		}

		lg := log.Component("nats")
		conn, initErr = nats.Connect(url,
			nats.Name(conf.Name),
			nats.MaxReconnects(conf.MaxReconnects),
			nats.ReconnectWait(conf.ReconnectWait),
			nats.Timeout(conf.Timeout),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				lg.Warn("NATS disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				lg.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
			}),
		)
	})
	return initErr
}

func Conn() *nats.Conn {
	if conn == nil {
		panic("nats client not initialized; call NewNATSClient first")
	}
	return conn
}

// Close drains pending publishes and closes the connection.
func Close() {
	if conn != nil && !conn.IsClosed() {
		_ = conn.Drain()
	}
}
