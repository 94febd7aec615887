package main

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Station-Manager/devlink"
)

// maxProbes bounds concurrent port opens.
const maxProbes = 4

type probeResult struct {
	device string
	port   string
	err    error
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [device...]",
		Short: "Resolve and open every known board",
		Long: `Probes each device concurrently by opening and closing its port.
Exits non-zero when any device is unavailable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = devlink.Devices
			}
			results, err := probeAll(cmd.Context(), args)
			if err != nil {
				return err
			}

			failed := 0
			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.err != nil {
					failed++
					fmt.Fprintf(out, "%-8s %-28s FAIL %v\n", r.device, r.port, r.err)
					continue
				}
				fmt.Fprintf(out, "%-8s %-28s ok\n", r.device, r.port)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d devices unavailable", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&waitFor, "wait", 0, "wait this long for each port to appear")
	return cmd
}

// probeAll keeps per-device failures in the results; only cancellation of
// ctx fails the group.
func probeAll(ctx context.Context, devices []string) ([]probeResult, error) {
	r := cfg.Resolver()

	var (
		mu      sync.Mutex
		results []probeResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxProbes)
	for _, name := range devices {
		name := name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := probe(gctx, r, name)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].device < results[j].device })
	return results, nil
}

func probe(ctx context.Context, r *devlink.Resolver, name string) probeResult {
	res := probeResult{device: name}
	if res.port, res.err = r.Resolve(name); res.err != nil {
		return res
	}
	if res.err = waitPort(ctx, res.port); res.err != nil {
		return res
	}
	var dev *devlink.Device
	if dev, res.err = connectPort(name, res.port); res.err == nil {
		res.err = dev.Disconnect()
	}
	return res
}
