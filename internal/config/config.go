// Package config loads devlink settings from devlink.yaml and DEVLINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Station-Manager/devlink"
)

// EnvPrefix prefixes environment overrides, e.g. DEVLINK_SERIAL_BAUD_RATE.
const EnvPrefix = "DEVLINK"

// Config is the file configuration.
type Config struct {
	Serial SerialConfig `mapstructure:"serial"`
	Expect ExpectConfig `mapstructure:"expect"`
	// Devices maps logical device names to port overrides.
	Devices map[string]string `mapstructure:"devices"`
	Log     LogConfig         `mapstructure:"log"`
}

// SerialConfig holds link parameters shared by every device.
type SerialConfig struct {
	BaudRate     int           `mapstructure:"baud_rate" validate:"required,gt=0"`
	DataBits     int           `mapstructure:"data_bits" validate:"oneof=5 6 7 8"`
	Parity       string        `mapstructure:"parity"`
	StopBits     string        `mapstructure:"stop_bits"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	VerifyPort   bool          `mapstructure:"verify_port"`
}

// ExpectConfig tunes Expect polling.
type ExpectConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// LogConfig configures internal/logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	// File enables rotated file output in addition to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

var validate = validator.New()

// Load reads configuration from path, or from devlink.yaml in . or ./config
// when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("devlink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.baud_rate", devlink.DefaultBaudRate.Int())
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", "1")
	v.SetDefault("serial.read_timeout", devlink.DefaultReadTimeout)
	v.SetDefault("serial.write_timeout", 0)
	v.SetDefault("serial.verify_port", false)

	v.SetDefault("expect.timeout", devlink.DefaultExpectTimeout)
	v.SetDefault("expect.poll_interval", devlink.DefaultPollInterval)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

// Validate checks struct constraints and the serial parameters that need parsing.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := devlink.ParseParity(c.Serial.Parity); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := devlink.ParseStopBits(c.Serial.StopBits); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DeviceOverrides returns the devices section keyed by upper-case device
// name. Keys are lower-cased by the loader, device names are not.
func (c *Config) DeviceOverrides() map[string]string {
	out := make(map[string]string, len(c.Devices))
	for name, port := range c.Devices {
		out[strings.ToUpper(name)] = port
	}
	return out
}

// Resolver returns a resolver for the current platform that consults the
// devices section after the environment.
func (c *Config) Resolver() *devlink.Resolver {
	return devlink.NewResolver().WithOverrides(c.DeviceOverrides())
}

// DeviceConfig builds a connection config for port from the serial and expect sections.
func (c *Config) DeviceConfig(port string) (devlink.Config, error) {
	parity, err := devlink.ParseParity(c.Serial.Parity)
	if err != nil {
		return devlink.Config{}, err
	}
	stopBits, err := devlink.ParseStopBits(c.Serial.StopBits)
	if err != nil {
		return devlink.Config{}, err
	}

	return devlink.Config{
		PortName:      port,
		BaudRate:      devlink.BaudRate(c.Serial.BaudRate),
		DataBits:      devlink.DataBits(c.Serial.DataBits),
		Parity:        parity,
		StopBits:      stopBits,
		ReadTimeout:   c.Serial.ReadTimeout,
		WriteTimeout:  c.Serial.WriteTimeout,
		VerifyPort:    c.Serial.VerifyPort,
		PollInterval:  c.Expect.PollInterval,
		ExpectTimeout: c.Expect.Timeout,
	}, nil
}
