// Package debug holds the process-wide debug logger. It stays silent unless
// RPCPROVIDER_DEBUG is set to a true value or Enable is called.
package debug

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const envVar = "RPCPROVIDER_DEBUG"

var (
	enabled atomic.Bool
	base    = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

func init() {
	debugEnv, exists := os.LookupEnv(envVar)
	if exists {
		if val, err := strconv.ParseBool(debugEnv); err == nil {
			enabled.Store(val)
		}
	}
}

// Logger returns the shared logger. When debugging is disabled the returned
// logger discards everything.
func Logger() zerolog.Logger {
	if !enabled.Load() {
		return zerolog.Nop()
	}
	return base
}

// Component returns Logger tagged with a component field.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// SetOutput replaces the shared logger's sink.
func SetOutput(logger zerolog.Logger) {
	base = logger
}

func Enabled() bool {
	return enabled.Load()
}

func Enable() {
	enabled.Store(true)
}

func Disable() {
	enabled.Store(false)
}
