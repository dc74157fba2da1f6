package cmd

import (
	"fmt"
	"time"

	"github.com/smazurov/streamgrab/internal/discovery"
	"github.com/smazurov/streamgrab/internal/events"
	"github.com/smazurov/streamgrab/internal/logging"
	"github.com/smazurov/streamgrab/internal/process"
	"github.com/smazurov/streamgrab/internal/session"
)

// Options for the CLI - flat structure with toml mapping.
// Precedence is flag > STREAMGRAB_* env > config file > flag default.
type Options struct {
	Config string `flag:"config"`

	// Output
	JSON bool `flag:"json"`

	// Logging settings
	LoggingLevel   string `toml:"logging.level" env:"LOGGING_LEVEL" flag:"log-level"`
	LoggingFormat  string `toml:"logging.format" env:"LOGGING_FORMAT" flag:"log-format"`
	LoggingJournal bool   `toml:"logging.journal" env:"LOGGING_JOURNAL" flag:"log-journal"`

	// Metrics settings
	MetricsAddr string `toml:"metrics.addr" env:"METRICS_ADDR" flag:"metrics-addr"`

	// Discovery settings
	DiscoveryIP      string        `toml:"discovery.ip" env:"DISCOVERY_IP" flag:"ip"`
	DiscoveryFrom    int           `toml:"discovery.from" env:"DISCOVERY_FROM" flag:"from"`
	DiscoveryTo      int           `toml:"discovery.to" env:"DISCOVERY_TO" flag:"to"`
	DiscoveryTimeout time.Duration `toml:"discovery.timeout" env:"DISCOVERY_TIMEOUT" flag:"timeout"`
	DiscoveryPolicy  string        `toml:"discovery.policy" env:"DISCOVERY_POLICY" flag:"policy"`
	DiscoveryRate    float64       `toml:"discovery.rate" env:"DISCOVERY_RATE" flag:"rate"`
	StreamPath       string        `toml:"discovery.stream_path" env:"DISCOVERY_STREAM_PATH" flag:"stream-path"`

	// FFmpeg settings
	FFmpegBinary          string        `toml:"ffmpeg.binary" env:"FFMPEG_BINARY" flag:"ffmpeg"`
	FFmpegProbeWindow     time.Duration `toml:"ffmpeg.probe_window" env:"FFMPEG_PROBE_WINDOW" flag:"probe-window"`
	FFmpegGracefulTimeout time.Duration `toml:"ffmpeg.graceful_timeout" env:"FFMPEG_GRACEFUL_TIMEOUT" flag:"graceful-timeout"`

	// Download settings
	DownloadsRoot      string `toml:"downloads.root" env:"DOWNLOADS_ROOT" flag:"downloads-root"`
	DownloadsFolder    string `toml:"downloads.folder" env:"DOWNLOADS_FOLDER" flag:"folder"`
	DownloadsBaseName  string `toml:"downloads.base_name" env:"DOWNLOADS_BASE_NAME" flag:"base-name"`
	DownloadsExtension string `toml:"downloads.extension" env:"DOWNLOADS_EXTENSION" flag:"extension"`

	// Self-update settings
	UpdateRepository string `toml:"update.repository" env:"UPDATE_REPOSITORY" flag:"repository"`
	UpdatePrerelease bool   `toml:"update.prerelease" env:"UPDATE_PRERELEASE" flag:"prerelease"`
}

// newSession builds a session from the ffmpeg and downloads settings.
func newSession(opts *Options, bus *events.Bus) (*session.Session, error) {
	command, err := process.SplitCommand(opts.FFmpegBinary)
	if err != nil {
		return nil, fmt.Errorf("invalid ffmpeg command %q: %w", opts.FFmpegBinary, err)
	}
	if len(command) == 0 {
		command = []string{"ffmpeg"}
	}

	return session.New(session.Options{
		Command:         command,
		DownloadsRoot:   opts.DownloadsRoot,
		Folder:          opts.DownloadsFolder,
		BaseName:        opts.DownloadsBaseName,
		Extension:       opts.DownloadsExtension,
		ProbeWindow:     opts.FFmpegProbeWindow,
		GracefulTimeout: opts.FFmpegGracefulTimeout,
		EventBus:        bus,
		Logger:          logging.GetLogger("session"),
	}), nil
}

// streamURL expands a bare device address into its stream URL.
func streamURL(opts *Options, input string) string {
	path := opts.StreamPath
	if path == "" {
		path = discovery.DefaultStreamPath
	}
	return discovery.StreamURL(input, path)
}
