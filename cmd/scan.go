package cmd

import (
	"fmt"

	"github.com/smazurov/streamgrab/internal/discovery"
	"github.com/smazurov/streamgrab/internal/events"
	"github.com/smazurov/streamgrab/internal/logging"
	"github.com/spf13/cobra"
)

type scanOutput struct {
	discovery.Result
	StreamURL string `json:"stream_url,omitempty"`
}

// CreateScanCmd creates the scan command.
func CreateScanCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find a streaming device on the local subnet",
		Long: `Probes {subnet}.{from} through {subnet}.{to} with HTTP HEAD requests, one at a time, ` +
			`and prints the first address that answers. The subnet is the /24 of the local IPv4 ` +
			`address unless --ip is given. Exits non-zero when nothing answers.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			logger := logging.GetLogger("discovery")

			policy, err := discovery.ParsePolicy(opts.DiscoveryPolicy)
			if err != nil {
				return err
			}

			bus := events.New()
			unsub := bus.Subscribe(func(e events.DeviceDiscoveredEvent) {
				logger.Debug("Device discovered event", "address", e.Address)
			})
			defer unsub()

			scanner := discovery.NewScanner(
				discovery.WithProber(discovery.NewHTTPProber(policy)),
				discovery.WithTimeout(opts.DiscoveryTimeout),
				discovery.WithRateLimit(opts.DiscoveryRate),
				discovery.WithEventBus(bus),
				discovery.WithLogger(logger),
			)

			ctx, stop := interruptContext(c.Context())
			defer stop()

			var result discovery.Result
			if opts.DiscoveryIP != "" {
				result, err = scanner.Scan(ctx, opts.DiscoveryIP, opts.DiscoveryFrom, opts.DiscoveryTo)
			} else {
				result, err = scanner.ScanLocal(ctx, opts.DiscoveryFrom, opts.DiscoveryTo)
			}
			if err != nil {
				return err
			}

			out := scanOutput{Result: result}
			text := "No device found"
			if result.Found {
				out.StreamURL = streamURL(opts, result.Address)
				text = fmt.Sprintf("Device found at %s\nStream URL: %s", result.Address, out.StreamURL)
			}
			if err := printResult(c.OutOrStdout(), opts.JSON, out, text); err != nil {
				return err
			}
			return result.Err()
		},
	}

	cmd.Flags().StringVar(&opts.DiscoveryIP, "ip", "", "Local IPv4 address whose /24 is scanned (default: detected)")
	cmd.Flags().IntVar(&opts.DiscoveryFrom, "from", 100, "First host number to probe")
	cmd.Flags().IntVar(&opts.DiscoveryTo, "to", 200, "Last host number to probe")
	cmd.Flags().DurationVar(&opts.DiscoveryTimeout, "timeout", discovery.DefaultProbeTimeout, "Per-host probe timeout")
	cmd.Flags().StringVar(&opts.DiscoveryPolicy, "policy", "success",
		"Which responses count as a device: success (2xx) or reachable (any)")
	cmd.Flags().Float64Var(&opts.DiscoveryRate, "rate", 0, "Maximum probes per second (0 = unlimited)")

	return cmd
}
