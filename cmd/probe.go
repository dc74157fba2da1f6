package cmd

import (
	"fmt"

	"github.com/smazurov/streamgrab/internal/events"
	"github.com/smazurov/streamgrab/internal/ffmpeg"
	"github.com/spf13/cobra"
)

type probeOutput struct {
	URL string `json:"url"`
	ffmpeg.StreamMetrics
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <url|address>",
		Short: "Measure a stream's frame rate, resolution, duration and bitrate",
		Long: `Reads the stream with ffmpeg for the probe window and reports what it saw. ` +
			`A bare address such as 192.168.1.105 is expanded to http://192.168.1.105/stream.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			sess, err := newSession(opts, events.New())
			if err != nil {
				return err
			}

			ctx, stop := interruptContext(c.Context())
			defer stop()

			url := streamURL(opts, args[0])
			result, err := sess.Probe(ctx, url)
			if err != nil {
				return err
			}

			return printResult(c.OutOrStdout(), opts.JSON, probeOutput{URL: url, StreamMetrics: result}, formatMetrics(result))
		},
	}
}

func formatMetrics(m ffmpeg.StreamMetrics) string {
	return fmt.Sprintf("Real FPS: %.1f\nSuggested frame rate: %d\nResolution: %s\nDuration: %s\nBitrate: %s",
		m.RealFPS, m.EstimatedFrameRate, m.Resolution, m.Duration, m.Bitrate)
}
