package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Station-Manager/devlink"
)

func newSendCmd() *cobra.Command {
	var (
		asHex   bool
		framed  bool
		newline bool
		expect  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <payload>",
		Short: "Send a payload to a board",
		Long: `Sends payload as UTF-8 text, or as raw bytes with --hex.

Examples:
  devlinkctl send --device ESP32_1 --newline PING
  devlinkctl send --port /dev/ttyACM0 --hex --frame 0102ff
  devlinkctl send --newline --expect PONG STATUS`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(args[0])
			if asHex {
				var err error
				if payload, err = hex.DecodeString(strings.ReplaceAll(args[0], " ", "")); err != nil {
					return fmt.Errorf("decoding hex payload: %w", err)
				}
			}
			if newline {
				payload = append(payload, '\n')
			}

			dev, err := openDevice(cmd.Context())
			if err != nil {
				return err
			}
			defer dev.Disconnect()

			var n int
			if framed {
				n, err = dev.SendFrame(payload)
			} else {
				n, err = dev.Send(payload)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s\n", n, dev.Port())

			if expect == "" {
				return nil
			}
			return runExpect(cmd, dev, expect, timeout)
		},
	}

	addDeviceFlags(cmd)
	cmd.Flags().BoolVar(&asHex, "hex", false, "payload is hex encoded")
	cmd.Flags().BoolVar(&framed, "frame", false, "wrap payload in AA55 ... 55AA markers")
	cmd.Flags().BoolVarP(&newline, "newline", "n", false, "append a newline")
	cmd.Flags().StringVar(&expect, "expect", "", "wait for this text after sending")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", devlink.DefaultExpectTimeout, "how long to wait with --expect")
	return cmd
}

func newExpectCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "expect <text>",
		Short: "Wait until a board prints text",
		Long:  `Exits 0 when text arrives within --timeout and 1 otherwise.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := openDevice(cmd.Context())
			if err != nil {
				return err
			}
			defer dev.Disconnect()
			return runExpect(cmd, dev, args[0], timeout)
		},
	}

	addDeviceFlags(cmd)
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", devlink.DefaultExpectTimeout, "how long to wait")
	return cmd
}

func runExpect(cmd *cobra.Command, dev *devlink.Device, text string, timeout time.Duration) error {
	ok, err := dev.ExpectString(text, timeout)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "%q not received within %s\n", text, timeout)
		return errExpectMiss
	}
	fmt.Fprintf(cmd.OutOrStdout(), "matched %q\n", text)
	return nil
}

func newListenCmd() *cobra.Command {
	var (
		duration time.Duration
		delim    string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print lines from a board until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}
			defer dev.Disconnect()

			var d byte
			if delim != "" {
				d = delim[0]
			}
			mon := devlink.NewMonitor(dev, d)
			defer mon.Close()

			log.Info().Str("port", dev.Port()).Msg("listening")
			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-mon.Lines():
					if !ok {
						return nil
					}
					fmt.Fprintln(out, line)
				case err, ok := <-mon.Errors():
					if !ok {
						return nil
					}
					if errors.Is(err, devlink.ErrLineTooLong) {
						log.Warn().Err(err).Msg("line dropped")
						continue
					}
					return err
				}
			}
		},
	}

	addDeviceFlags(cmd)
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long")
	cmd.Flags().StringVar(&delim, "delim", "\n", "line delimiter")
	return cmd
}
