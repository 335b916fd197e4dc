package dispatcher

import (
	"time"

	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
)

type Config struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
	GracePeriod    time.Duration
	RebootDedupe   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:        constants.DispatcherDefaultWorkers,
		QueueSize:      constants.DispatcherDefaultQueueSize,
		MaxAttempts:    constants.DispatcherDefaultMaxAttempts,
		InitialBackoff: constants.DispatcherDefaultInitialBackoff,
		MaxBackoff:     constants.DispatcherDefaultMaxBackoff,
		CallTimeout:    constants.DispatcherDefaultCallTimeout,
		GracePeriod:    constants.DispatcherDefaultGracePeriod,
		RebootDedupe:   constants.DefaultRebootDedupeWindow,
	}
}

func ConfigFromViper() Config {
	d := DefaultConfig()
	return Config{
		Workers:        config.Int(config.DispatcherWorkers, d.Workers),
		QueueSize:      config.Int(config.DispatcherQueueSize, d.QueueSize),
		MaxAttempts:    config.Int(config.DispatcherMaxAttempts, d.MaxAttempts),
		InitialBackoff: config.Duration(config.DispatcherInitialBackoff, d.InitialBackoff),
		MaxBackoff:     config.Duration(config.DispatcherMaxBackoff, d.MaxBackoff),
		CallTimeout:    config.Duration(config.DispatcherCallTimeout, d.CallTimeout),
		GracePeriod:    config.Duration(config.DispatcherGracePeriod, d.GracePeriod),
		RebootDedupe:   config.Duration(config.ControllerRebootDedupeWindow, d.RebootDedupe),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.RebootDedupe <= 0 {
		c.RebootDedupe = d.RebootDedupe
	}
	return c
}
