package scheduler

import (
	"time"

	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/utilities"
)

type Config struct {
	TickPeriod           time.Duration
	ScheduleCheckPeriod  time.Duration
	OverrunWarnThreshold int
	// RebootCatchUp is how long after the reboot time a missed daily reboot
	// is still fired, e.g. when the process was down at 04:00.
	RebootCatchUp time.Duration
	RebootEnabled bool
	RebootTime    utilities.ClockTime
}

func DefaultConfig() Config {
	return Config{
		TickPeriod:           constants.DefaultTickPeriod,
		ScheduleCheckPeriod:  constants.DefaultScheduleCheckPeriod,
		OverrunWarnThreshold: constants.DefaultOverrunWarnThreshold,
		RebootCatchUp:        constants.DefaultRebootCatchUp,
		RebootTime:           utilities.MustParseClock(constants.DefaultRebootTime),
	}
}

// ConfigFromViper reads the periods. The daily reboot comes from the device
// document and is set with SetDailyReboot.
func ConfigFromViper() Config {
	d := DefaultConfig()
	d.TickPeriod = config.Duration(config.SchedulerTickPeriod, d.TickPeriod)
	d.ScheduleCheckPeriod = config.Duration(config.SchedulerScheduleCheckPeriod, d.ScheduleCheckPeriod)
	d.OverrunWarnThreshold = config.Int(config.SchedulerOverrunWarnThreshold, d.OverrunWarnThreshold)
	d.RebootCatchUp = config.Duration(config.SchedulerRebootCatchUp, d.RebootCatchUp)
	return d
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickPeriod <= 0 {
		c.TickPeriod = d.TickPeriod
	}
	if c.ScheduleCheckPeriod <= 0 {
		c.ScheduleCheckPeriod = d.ScheduleCheckPeriod
	}
	if c.OverrunWarnThreshold <= 0 {
		c.OverrunWarnThreshold = d.OverrunWarnThreshold
	}
	if c.RebootCatchUp <= 0 {
		c.RebootCatchUp = d.RebootCatchUp
	}
	return c
}
