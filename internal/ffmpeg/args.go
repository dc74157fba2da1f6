package ffmpeg

import (
	"strconv"
	"time"
)

// DefaultProbeWindow is how long a probe reads from the stream.
const DefaultProbeWindow = 10 * time.Second

// baseArgs prefixes every invocation. level+info makes ParseLogLevel work.
func baseArgs() []string {
	return []string{"-hide_banner", "-loglevel", "level+info"}
}

// ProbeArgs builds the arguments for a bounded diagnostic run that reads
// the stream for window and discards the output.
func ProbeArgs(url string, window time.Duration) []string {
	if window <= 0 {
		window = DefaultProbeWindow
	}
	args := baseArgs()
	args = append(args,
		"-re",
		"-analyzeduration", "1M",
		"-probesize", "1M",
		"-i", url,
		"-t", formatSeconds(window),
		"-f", "null", "-",
	)
	return args
}

// DownloadArgs builds the arguments for transcoding url into output at the
// given frame rate. -n makes ffmpeg refuse to overwrite an existing file.
func DownloadArgs(url string, frameRate float64, output string) []string {
	args := baseArgs()
	args = append(args,
		"-n",
		"-i", url,
		"-r", strconv.FormatFloat(frameRate, 'f', -1, 64),
		output,
	)
	return args
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
