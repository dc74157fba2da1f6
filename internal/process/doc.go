// Package process provides subprocess lifecycle management.
//
// Process wraps os/exec for a single run of an external tool such as ffmpeg:
//   - Output streaming to an OutputHandler, split on '\n' and '\r'
//   - Pluggable log parsing so tool output is re-logged at the right level
//   - Graceful shutdown with SIGINT to the process group and a configurable timeout
//   - Force kill with SIGKILL if graceful shutdown times out
//
// Example:
//
//	p := process.NewProcessWithOutput("probe", argv, logger, handler)
//	p.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
//	go func() { <-ctx.Done(); p.Shutdown() }()
//	exitCode, err := p.Run()
package process
