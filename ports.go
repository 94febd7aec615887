package devlink

import (
	"fmt"
	"io"
	"sort"
	"strings"

	gobug "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// allow tests to override external dependencies
var (
	getPortsList         = gobug.GetPortsList
	getDetailedPortsList = enumerator.GetDetailedPortsList
)

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name        string
	Description string
	HWID        string
	IsUSB       bool
}

func (pi PortInfo) String() string {
	return fmt.Sprintf("%s: %s [%s]", pi.Name, pi.Description, pi.HWID)
}

// AvailablePorts returns the names of the serial ports present on the host.
func AvailablePorts() ([]string, error) {
	ports, err := getPortsList()
	if err != nil {
		return nil, err
	}
	sort.Strings(ports)
	return ports, nil
}

// ListPorts returns detailed information for every port, sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := getDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		ports = append(ports, portInfoFrom(d))
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

func portInfoFrom(d *enumerator.PortDetails) PortInfo {
	pi := PortInfo{Name: d.Name, IsUSB: d.IsUSB, Description: "n/a", HWID: "n/a"}
	if d.Product != "" {
		pi.Description = d.Product
	}
	if d.IsUSB {
		hwid := fmt.Sprintf("USB VID:PID=%s:%s", strings.ToUpper(d.VID), strings.ToUpper(d.PID))
		if d.SerialNumber != "" {
			hwid += " SER=" + d.SerialNumber
		}
		pi.HWID = hwid
	}
	return pi
}

// PrintPorts writes a human readable port listing to w.
func PrintPorts(w io.Writer, ports []PortInfo) error {
	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "No serial ports found!")
		return err
	}
	if _, err := fmt.Fprintln(w, "Available serial ports:"); err != nil {
		return err
	}
	for _, p := range ports {
		if _, err := fmt.Fprintln(w, p.String()); err != nil {
			return err
		}
	}
	return nil
}
