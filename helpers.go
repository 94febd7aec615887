package devlink

import (
	"fmt"
	"slices"
	"strings"
)

// checkPortName rejects names that try to escape the device namespace.
func checkPortName(portName string) error {
	if strings.Contains(portName, "..") {
		return fmt.Errorf("%w: %q contains path traversal", ErrInvalidPortName, portName)
	}
	if strings.ContainsAny(portName, "*?[") {
		return fmt.Errorf("%w: %q is an unexpanded pattern", ErrInvalidPortName, portName)
	}
	return nil
}

func isPortAvailable(portName string) (bool, error) {
	if err := checkPortName(portName); err != nil {
		return false, err
	}
	if !isValidPortPattern(portName) {
		return false, fmt.Errorf("%w: %s doesn't match expected pattern", ErrInvalidPortName, portName)
	}

	ports, err := AvailablePorts()
	if err != nil {
		return false, err
	}
	return slices.Contains(ports, portName), nil
}

func isValidPortPattern(portName string) bool {
	// Windows: COM1-COM999 (must have at least one digit after COM)
	if strings.HasPrefix(portName, "COM") && len(portName) >= 4 && len(portName) <= 6 {
		return true
	}
	// Unix/Linux: /dev/tty* or /dev/cu* (macOS)
	if strings.HasPrefix(portName, "/dev/tty") || strings.HasPrefix(portName, "/dev/cu") {
		return true
	}
	return false
}
