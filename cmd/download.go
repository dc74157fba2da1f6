package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/streamgrab/internal/config"
	"github.com/smazurov/streamgrab/internal/events"
	"github.com/smazurov/streamgrab/internal/logging"
	"github.com/smazurov/streamgrab/internal/session"
	"github.com/spf13/cobra"
)

type downloadOutput struct {
	URL        string  `json:"url"`
	FrameRate  float64 `json:"frame_rate"`
	OutputPath string  `json:"output_path"`
	State      string  `json:"state"`
	ExitCode   int     `json:"exit_code"`
	Elapsed    string  `json:"elapsed"`
	Error      string  `json:"error,omitempty"`
}

// CreateDownloadCmd creates the download command.
func CreateDownloadCmd(opts *Options) *cobra.Command {
	var (
		fps      string
		autoFPS  bool
		progress bool
	)

	cmd := &cobra.Command{
		Use:   "download <url|address>",
		Short: "Record a stream to a new numbered file",
		Long: `Transcodes the stream at the given frame rate into ` +
			`<downloads-root>/<folder>/<base-name>[n].<extension>, never overwriting an existing file. ` +
			`With --auto-fps the stream is probed first and the suggested frame rate is used. ` +
			`Ctrl-C stops ffmpeg and keeps the partial file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			logger := logging.GetLogger("main")
			bus := events.New()

			sess, err := newSession(opts, bus)
			if err != nil {
				return err
			}

			ctx, stop := interruptContext(c.Context())
			defer stop()

			url := streamURL(opts, args[0])
			if autoFPS {
				result, err := sess.Probe(ctx, url)
				if err != nil {
					return fmt.Errorf("probe for --auto-fps: %w", err)
				}
				if result.EstimatedFrameRate <= 0 {
					return errors.New("probe saw no frames; pass --fps explicitly")
				}
				fps = strconv.Itoa(result.EstimatedFrameRate)
				logger.Info("Using suggested frame rate", "fps", fps, "real_fps", result.RealFPS)
			}

			if progress {
				lines := make(chan events.LogLineEvent, 64)
				defer events.SubscribeToChannel(bus, lines)()
				go printProgress(c.ErrOrStderr(), lines)
			}

			if stopWatch := watchLogLevels(opts.Config, logger); stopWatch != nil {
				defer func() { _ = stopWatch() }()
			}

			job, err := sess.Download(url, fps)
			if err != nil {
				return err
			}

			select {
			case <-job.Done():
			case <-ctx.Done():
				logger.Info("Interrupted, stopping download", "output", job.OutputPath)
				sess.Cancel()
				<-job.Done()
			}
			result, _ := job.Result()

			out := downloadOutput{
				URL:        url,
				FrameRate:  job.FrameRate,
				OutputPath: result.OutputPath,
				State:      string(result.State),
				ExitCode:   result.ExitCode,
				Elapsed:    result.Elapsed.Round(time.Millisecond).String(),
			}
			if result.Err != nil {
				out.Error = result.Err.Error()
			}
			if err := printResult(c.OutOrStdout(), opts.JSON, out, formatDownload(result)); err != nil {
				return err
			}
			return result.Err
		},
	}

	cmd.Flags().StringVar(&fps, "fps", "", "Output frame rate (any positive number)")
	cmd.Flags().BoolVar(&autoFPS, "auto-fps", false, "Probe first and use the suggested frame rate")
	cmd.Flags().BoolVar(&progress, "progress", false, "Show ffmpeg progress on stderr")
	cmd.Flags().StringVar(&opts.DownloadsRoot, "downloads-root", "", "Parent directory of the downloads folder (default: working directory)")
	cmd.Flags().StringVar(&opts.DownloadsFolder, "folder", session.DefaultFolder, "Downloads folder name")
	cmd.Flags().StringVar(&opts.DownloadsBaseName, "base-name", session.DefaultBaseName, "Output file base name")
	cmd.Flags().StringVar(&opts.DownloadsExtension, "extension", session.DefaultExtension, "Output file extension")
	cmd.MarkFlagsMutuallyExclusive("fps", "auto-fps")
	cmd.MarkFlagsOneRequired("fps", "auto-fps")

	return cmd
}

func formatDownload(r session.JobResult) string {
	switch r.State {
	case session.StateCompleted:
		return "Saved " + r.OutputPath
	case session.StateCancelled:
		return "Cancelled, partial file kept at " + r.OutputPath
	default:
		text := fmt.Sprintf("Download failed (exit code %d), output %s", r.ExitCode, r.OutputPath)
		if len(r.Diagnostics) > 0 {
			text += "\n" + strings.Join(r.Diagnostics, "\n")
		}
		return text
	}
}

// printProgress rewrites a single status line with ffmpeg's progress output.
func printProgress(w io.Writer, lines <-chan events.LogLineEvent) {
	for ev := range lines {
		if strings.HasPrefix(ev.Line, "frame=") {
			fmt.Fprintf(w, "\r%s", ev.Line)
		}
	}
}

// watchLogLevels hot-reloads [logging] levels while a download runs.
// Returns nil when there is no config file to watch.
func watchLogLevels(path string, logger logging.Logger) func() error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	stop, err := config.WatchLogging(path, logging.GetLogger("config"))
	if err != nil {
		logger.Warn("Failed to start config watcher, log level reload disabled", "error", err)
		return nil
	}
	return stop
}
