// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package. Console logs go to stderr so
// that stdout stays free for command results. When enabled, records are also
// sent to the systemd journal.
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"session": "debug",  // Per-module overrides
//			"ffmpeg":  "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("discovery")
//	logger.Info("Scanning subnet", "prefix", "192.168.1")
//
// Levels can be changed later without recreating loggers:
//
//	logging.SetLevels("debug", nil)
//
// # Journal
//
// With Journal enabled and journald reachable
// ([github.com/coreos/go-systemd/v22/journal.Enabled]):
//
//	journalctl -t streamgrab MODULE=session
//
// # Configuration
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	journal = false
//	session = "debug"   # any other key sets a module level
//	ffmpeg = "warn"
package logging
