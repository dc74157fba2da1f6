package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/smazurov/streamgrab/internal/config"
	"github.com/smazurov/streamgrab/internal/ffmpeg"
	"github.com/smazurov/streamgrab/internal/logging"
	"github.com/smazurov/streamgrab/internal/metrics"
	"github.com/smazurov/streamgrab/internal/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the streamgrab command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}
	var metricsServer *http.Server

	root := &cobra.Command{
		Use:   "streamgrab",
		Short: "Find, probe and record a network camera stream",
		Long: `streamgrab locates an HTTP camera on the local subnet, measures its stream ` +
			`with ffmpeg and records it to a numbered file under the downloads folder.`,
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			if err := config.LoadConfig(opts, c); err != nil {
				return err
			}
			initLogging(opts)

			info := version.Get()
			metrics.SetBuildInfo(info.Version, info.GitCommit)
			if opts.MetricsAddr != "" {
				srv, err := startMetricsServer(opts.MetricsAddr)
				if err != nil {
					return err
				}
				metricsServer = srv
			}
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if metricsServer == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return metricsServer.Shutdown(ctx)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.Config, "config", "c", "streamgrab.toml", "Path to configuration file")
	flags.BoolVar(&opts.JSON, "json", false, "Print results as JSON")
	flags.StringVar(&opts.LoggingLevel, "log-level", "info", "Global logging level (debug, info, warn, error)")
	flags.StringVar(&opts.LoggingFormat, "log-format", "text", "Logging format (text, json)")
	flags.BoolVar(&opts.LoggingJournal, "log-journal", false, "Also log to the systemd journal when available")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9108)")
	flags.StringVar(&opts.StreamPath, "stream-path", "stream", "Path appended to a bare device address")
	flags.StringVar(&opts.FFmpegBinary, "ffmpeg", "ffmpeg", "ffmpeg command, may include a wrapper (e.g. \"nice -n 10 ffmpeg\")")
	flags.DurationVar(&opts.FFmpegProbeWindow, "probe-window", ffmpeg.DefaultProbeWindow, "How long a probe reads the stream")
	flags.DurationVar(&opts.FFmpegGracefulTimeout, "graceful-timeout", 5*time.Second,
		"How long ffmpeg gets to finish after an interrupt before it is killed")

	root.AddCommand(
		CreateScanCmd(opts),
		CreateProbeCmd(opts),
		CreateDownloadCmd(opts),
		CreateVersionCmd(opts),
		CreateUpdateCmd(opts),
	)
	return root
}

// initLogging applies the merged options. Per-module levels come from the
// [logging] table of the config file.
func initLogging(opts *Options) {
	fileCfg := config.LoadLoggingConfig(opts.Config)
	logging.Initialize(logging.Config{
		Level:   opts.LoggingLevel,
		Format:  opts.LoggingFormat,
		Journal: opts.LoggingJournal,
		Modules: fileCfg.Modules,
	})
}

func startMetricsServer(addr string) (*http.Server, error) {
	logger := logging.GetLogger("main")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	logger.Info("Serving metrics", "addr", ln.Addr().String())
	return srv, nil
}
