package devlink

import (
	"fmt"
	"slices"
)

// ValidateConfig validates serial port configuration parameters
func ValidateConfig(cfg Config) error {
	// Validate port name
	if cfg.PortName == "" {
		return fmt.Errorf("port name cannot be empty")
	}
	if err := checkPortName(cfg.PortName); err != nil {
		return err
	}

	// Validate baud rate
	if !slices.Contains(validBaudRates, cfg.BaudRate) {
		return fmt.Errorf("invalid baud rate %d, must be one of: %v", cfg.BaudRate, validBaudRates)
	}

	// Validate data bits
	if cfg.DataBits < DataBits5 || cfg.DataBits > DataBits8 {
		return fmt.Errorf("data bits must be 5-8, got: %d", cfg.DataBits)
	}

	// Validate parity
	validParity := []Parity{ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace}
	if !slices.Contains(validParity, cfg.Parity) {
		return fmt.Errorf("invalid parity value: %d", cfg.Parity)
	}

	// Validate stop bits
	validStopBits := []StopBits{StopBits1, StopBits1Half, StopBits2}
	if !slices.Contains(validStopBits, cfg.StopBits) {
		return fmt.Errorf("invalid stop bits value: %d", cfg.StopBits)
	}

	// Validate timeouts
	if cfg.ReadTimeout < 0 && cfg.ReadTimeout != NoTimeout {
		return fmt.Errorf("read timeout cannot be negative: %v", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout < 0 {
		return fmt.Errorf("write timeout cannot be negative: %v", cfg.WriteTimeout)
	}

	return nil
}
