// Package config loads daemon configuration from /etc/daqctl.toml (or the
// file named by DAQCTL_CONFIG), with command-line flags taking precedence
// over file values.
package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/sverin/daqctl/internal/errors"
)

const DefaultLogLevel = "info"

const (
	defaultPeriodUS       = 100
	defaultMinPeriodUS    = 50
	defaultCapacity       = 1000
	defaultRows           = 128
	defaultChannels       = 64
	defaultProcessCadence = 100
	defaultControlCadence = 200
	defaultDispatchPolicy = "skip"
	defaultTelemetryDB    = "/var/lib/daqctl/telemetry.db"
)

type Config struct {
	// Acquisition timing, in microseconds.
	PeriodUS    int `mapstructure:"period_us"`
	MinPeriodUS int `mapstructure:"min_period_us"`

	// Buffer geometry.
	Capacity int `mapstructure:"capacity"`
	Rows     int `mapstructure:"rows"`
	Channels int `mapstructure:"channels"`

	// Dispatch cadences relative to the acquisition counter.
	ProcessCadence int    `mapstructure:"process_cadence"`
	ControlCadence int    `mapstructure:"control_cadence"`
	DispatchPolicy string `mapstructure:"dispatch_policy"`

	LogLevel    string `mapstructure:"log_level"`
	Telemetry   bool   `mapstructure:"telemetry"`
	TelemetryDB string `mapstructure:"database"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	fs := pflag.NewFlagSet("daqctl", pflag.ContinueOnError)
	fs.Int("period-us", defaultPeriodUS, "Inter-acquisition period in microseconds")
	fs.Int("capacity", defaultCapacity, "Frame buffer capacity in slots")
	fs.Int("process-cadence", defaultProcessCadence, "Dispatch one frame every N acquisitions")
	fs.Int("control-cadence", defaultControlCadence, "Yield to the supervisor every N acquisitions")
	fs.String("dispatch-policy", defaultDispatchPolicy, "Busy-sink policy: skip or replace")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning or error")
	fs.Bool("telemetry", false, "Enable telemetry collection")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetDefault("period_us", defaultPeriodUS)
	v.SetDefault("min_period_us", defaultMinPeriodUS)
	v.SetDefault("capacity", defaultCapacity)
	v.SetDefault("rows", defaultRows)
	v.SetDefault("channels", defaultChannels)
	v.SetDefault("process_cadence", defaultProcessCadence)
	v.SetDefault("control_cadence", defaultControlCadence)
	v.SetDefault("dispatch_policy", defaultDispatchPolicy)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("telemetry", false)
	v.SetDefault("database", defaultTelemetryDB)

	if path := os.Getenv("DAQCTL_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err).
				WithMessage("Failed to read config file")
		}
	} else {
		v.SetConfigName("daqctl")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err).
					WithMessage("Failed to read config file")
			}
		}
	}

	// Flags set on the command line override file values.
	fs.Visit(func(f *pflag.Flag) {
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.MinPeriodUS <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "min_period_us must be positive")
	}
	if c.PeriodUS < c.MinPeriodUS {
		return errFactory.WithData(errors.ErrPeriodTooShort, c.PeriodUS)
	}
	if c.Capacity <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "capacity must be positive")
	}
	if c.Rows <= 0 || c.Channels <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "rows and channels must be positive")
	}
	if c.ProcessCadence < 1 || c.ControlCadence < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "cadences must be >= 1")
	}
	if c.DispatchPolicy != "skip" && c.DispatchPolicy != "replace" {
		return errFactory.WithData(errors.ErrInvalidConfig, c.DispatchPolicy)
	}
	if !isValidLogLevel(c.LogLevel) {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Telemetry && c.TelemetryDB == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "telemetry enabled without database path")
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warning", "error":
		return true
	default:
		return false
	}
}
