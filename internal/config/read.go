package config

import (
	"time"

	"github.com/okieraised/relay-controller/internal/utilities"
	"github.com/spf13/viper"
)

func Bool(key string, def bool) bool {
	if !viper.IsSet(key) {
		return def
	}
	return viper.GetBool(key)
}

func Int(key string, def int) int {
	if !viper.IsSet(key) {
		return def
	}
	return viper.GetInt(key)
}

func Float(key string, def float64) float64 {
	if !viper.IsSet(key) {
		return def
	}
	return viper.GetFloat64(key)
}

func String(key, def string) string {
	if s := viper.GetString(key); s != "" {
		return s
	}
	return def
}

// Duration accepts "10s"/"500ms", a bare number of seconds, or a native duration.
func Duration(key string, def time.Duration) time.Duration {
	if !viper.IsSet(key) {
		return def
	}
	if s := viper.GetString(key); s != "" {
		if d, err := utilities.Parse(s); err == nil && d > 0 {
			return d
		}
	}
	if d := viper.GetDuration(key); d > 0 {
		return d
	}
	return def
}
