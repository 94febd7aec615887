package devlink

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform selects a row of the default port table.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformUnknown Platform = "unknown"
)

// Logical device names understood by the default table.
const (
	DeviceESP32       = "ESP32_1"
	DeviceSecondESP32 = "ESP32_2"
	DeviceArduino     = "ARDUINO"
)

// Devices lists the logical device names in a stable order.
var Devices = []string{DeviceESP32, DeviceSecondESP32, DeviceArduino}

// DefaultPorts is the per-platform table consulted when no override is set.
// Entries containing '*' are expanded with a glob.
var DefaultPorts = map[Platform]map[string]string{
	PlatformWindows: {
		DeviceESP32:       "COM3",
		DeviceSecondESP32: "COM4",
		DeviceArduino:     "COM5",
	},
	PlatformLinux: {
		DeviceESP32:       "/dev/ttyUSB0",
		DeviceSecondESP32: "/dev/ttyUSB1",
		DeviceArduino:     "/dev/ttyACM0",
	},
	PlatformDarwin: {
		DeviceESP32:       "/dev/tty.SLAB_USBtoUART",
		DeviceSecondESP32: "/dev/tty.SLAB_USBtoUART2",
		DeviceArduino:     "/dev/tty.usbmodem*",
	},
}

// CurrentPlatform maps runtime.GOOS onto a Platform.
func CurrentPlatform() Platform {
	return platformFor(runtime.GOOS)
}

func platformFor(goos string) Platform {
	switch {
	case strings.HasPrefix(goos, "win"):
		return PlatformWindows
	case strings.HasPrefix(goos, "linux"):
		return PlatformLinux
	case strings.HasPrefix(goos, "darwin"):
		return PlatformDarwin
	}
	return PlatformUnknown
}

// EnvVar returns the environment variable that overrides a device's port.
func EnvVar(device string) string {
	return device + "_PORT"
}

// Resolver maps logical device names to port paths.
//
// Lookup order: the <device>_PORT environment variable, Overrides, then the
// platform row of Table. A table entry containing '*' resolves to its first
// glob match, or to the pattern itself when nothing matches.
type Resolver struct {
	Platform  Platform
	Table     map[Platform]map[string]string
	Overrides map[string]string

	// LookupEnv and Glob are replaceable for tests.
	LookupEnv func(key string) (string, bool)
	Glob      func(pattern string) ([]string, error)
}

// NewResolver returns a resolver for the current platform using DefaultPorts.
func NewResolver() *Resolver {
	return &Resolver{
		Platform:  CurrentPlatform(),
		Table:     DefaultPorts,
		LookupEnv: os.LookupEnv,
		Glob:      filepath.Glob,
	}
}

// WithOverrides returns a copy of r that consults overrides after the environment.
func (r *Resolver) WithOverrides(overrides map[string]string) *Resolver {
	cp := *r
	cp.Overrides = overrides
	return &cp
}

// Resolve returns the port for device, or ErrNoPort when none is known.
func (r *Resolver) Resolve(device string) (string, error) {
	lookupEnv := r.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	if port, ok := lookupEnv(EnvVar(device)); ok {
		return port, nil
	}

	if port, ok := r.Overrides[device]; ok && port != "" {
		return port, nil
	}

	pattern, ok := r.Table[r.Platform][device]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrNoPort, device, r.Platform)
	}

	if strings.Contains(pattern, "*") {
		glob := r.Glob
		if glob == nil {
			glob = filepath.Glob
		}
		// A malformed pattern is treated like no match.
		if matches, err := glob(pattern); err == nil && len(matches) > 0 {
			return matches[0], nil
		}
	}

	return pattern, nil
}

// ResolvePort resolves device with a default resolver.
func ResolvePort(device string) (string, error) {
	return NewResolver().Resolve(device)
}
