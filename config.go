package devlink

import (
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate      = Baud115200
	DefaultReadTimeout   = time.Second
	DefaultExpectTimeout = 5 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond

	// NoTimeout makes reads block until data arrives. Equal to serial.NoTimeout.
	NoTimeout time.Duration = -1
)

// Config holds configuration for a device connection.
type Config struct {
	// PortName is the path to the serial device, e.g. /dev/ttyUSB0 or COM3.
	PortName string

	BaudRate BaudRate
	DataBits DataBits
	Parity   Parity
	StopBits StopBits

	// ReadTimeout bounds Receive and each Expect poll. Zero selects
	// DefaultReadTimeout, NoTimeout blocks.
	ReadTimeout time.Duration

	// WriteTimeout bounds Send. Zero means no bound.
	WriteTimeout time.Duration

	// VerifyPort makes Connect check the port against AvailablePorts first.
	VerifyPort bool

	// PollInterval is the pause between Expect polls.
	PollInterval time.Duration

	// ExpectTimeout is used by Expect when the caller passes no timeout.
	ExpectTimeout time.Duration
}

// DefaultConfig returns a 115200 8N1 config for the given port.
func DefaultConfig(port string) Config {
	return withDefaults(Config{PortName: port})
}

// withDefaults fills zero-valued fields.
func withDefaults(cfg Config) Config {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = DataBits8
	}
	// parity is left as-is; zero value is ParityNone.
	if cfg.StopBits == 0 {
		cfg.StopBits = StopBits1
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ExpectTimeout <= 0 {
		cfg.ExpectTimeout = DefaultExpectTimeout
	}
	return cfg
}

func (cfg Config) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: cfg.BaudRate.Int(),
		DataBits: cfg.DataBits.Int(),
		Parity:   cfg.Parity.Get(),
		StopBits: cfg.StopBits.Get(),
	}
}
