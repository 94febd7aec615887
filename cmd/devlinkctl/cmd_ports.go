package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Station-Manager/devlink"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := devlink.ListPorts()
			if err != nil {
				return err
			}
			return devlink.PrintPorts(cmd.OutOrStdout(), ports)
		},
	}
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [device...]",
		Short: "Show the port each logical device resolves to",
		Long: `Prints the resolved port for each device, all known devices by default.

Example:
  devlinkctl resolve
  ESP32_1_PORT=/dev/ttyUSB3 devlinkctl resolve ESP32_1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = devlink.Devices
			}
			r := cfg.Resolver()
			out := cmd.OutOrStdout()
			for _, name := range args {
				port, err := r.Resolve(name)
				if err != nil {
					fmt.Fprintf(out, "%s\t%v\n", name, err)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", name, port)
			}
			return nil
		},
	}
}
