package session

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/streamgrab/internal/events"
	"github.com/smazurov/streamgrab/internal/ffmpeg"
	"github.com/smazurov/streamgrab/internal/logging"
	"github.com/smazurov/streamgrab/internal/metrics"
	"github.com/smazurov/streamgrab/internal/naming"
	"github.com/smazurov/streamgrab/internal/process"
)

// Defaults for Options.
const (
	DefaultFolder    = "DownloadedVideos"
	DefaultBaseName  = "output"
	DefaultExtension = "mp4"

	diagnosticLines = 20
)

// Options configures a Session.
type Options struct {
	ID string

	// Command is the ffmpeg invocation prefix, e.g. {"ffmpeg"} or
	// {"nice", "-n", "10", "ffmpeg"}. Operation arguments are appended.
	Command []string

	// DownloadsRoot is the parent of Folder. Defaults to the working directory.
	DownloadsRoot string
	Folder        string
	BaseName      string
	Extension     string

	ProbeWindow     time.Duration
	GracefulTimeout time.Duration

	// Exists overrides the filesystem check used for name allocation.
	Exists naming.ExistsFunc

	EventBus *events.Bus
	Logger   logging.Logger
}

// Session owns at most one ffmpeg subprocess at a time.
type Session struct {
	opts         Options
	logger       logging.Logger
	ffmpegLogger logging.Logger
	bus          *events.Bus

	mu         sync.Mutex
	state      State
	generation uint64
	proc       *process.Process
	job        *Job
	logs       LogBuffer
}

// New creates an idle session.
func New(opts Options) *Session {
	if opts.ID == "" {
		opts.ID = "default"
	}
	if len(opts.Command) == 0 {
		opts.Command = []string{"ffmpeg"}
	}
	if opts.Folder == "" {
		opts.Folder = DefaultFolder
	}
	if opts.BaseName == "" {
		opts.BaseName = DefaultBaseName
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	if opts.ProbeWindow <= 0 {
		opts.ProbeWindow = ffmpeg.DefaultProbeWindow
	}
	if opts.Exists == nil {
		opts.Exists = naming.OSExists
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("session")
	}

	return &Session{
		opts:         opts,
		logger:       logger,
		ffmpegLogger: logging.GetLogger("ffmpeg"),
		bus:          opts.EventBus,
		state:        StateIdle,
	}
}

// ID returns the session identifier used in events.
func (s *Session) ID() string {
	return s.opts.ID
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Logs returns a copy of the current attempt's output.
func (s *Session) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs.Lines()
}

// Current returns the running download, or nil.
func (s *Session) Current() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// OutputDir is the folder downloads are written to.
func (s *Session) OutputDir() string {
	return filepath.Join(s.opts.DownloadsRoot, s.opts.Folder)
}

// ParseFrameRate accepts any finite positive number.
func ParseFrameRate(value string) (float64, error) {
	fps, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, newError(ErrCodeInvalidFrameRate, fmt.Sprintf("invalid frame rate %q", value), err)
	}
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return 0, newError(ErrCodeInvalidFrameRate, fmt.Sprintf("invalid frame rate %q", value), nil)
	}
	return fps, nil
}

// Probe runs a bounded ffmpeg read of url and parses the complete output.
// Cancelling ctx stops the subprocess. The session is idle again when Probe
// returns.
func (s *Session) Probe(ctx context.Context, url string) (ffmpeg.StreamMetrics, error) {
	if strings.TrimSpace(url) == "" {
		metrics.ObserveOperation(metrics.OperationProbe, metrics.OutcomeRejected)
		return ffmpeg.StreamMetrics{}, newError(ErrCodeProbeFailed, "empty stream URL", nil)
	}

	argv := s.argv(ffmpeg.ProbeArgs(url, s.opts.ProbeWindow))

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		metrics.ObserveOperation(metrics.OperationProbe, metrics.OutcomeRejected)
		return ffmpeg.StreamMetrics{}, ErrBusy
	}
	gen := s.begin()
	proc := s.newProcess(fmt.Sprintf("probe-%d", gen), argv, gen, metrics.OperationProbe)
	s.proc = proc
	changed := s.transition(StateProbing)
	s.mu.Unlock()

	s.bus.Publish(changed)
	metrics.SetActive(metrics.OperationProbe, true)
	defer metrics.SetActive(metrics.OperationProbe, false)
	s.logger.Info("Probing stream", "url", url, "window", s.opts.ProbeWindow)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			proc.Shutdown()
		case <-stop:
		}
	}()
	exitCode, runErr := proc.Run()
	close(stop)

	s.mu.Lock()
	snapshot := s.logs.String()
	diagnostics := s.logs.Tail(diagnosticLines)
	s.proc = nil
	changed = s.transition(StateIdle)
	s.mu.Unlock()
	s.bus.Publish(changed)

	var (
		result ffmpeg.StreamMetrics
		err    error
	)
	switch {
	case runErr != nil:
		err = newError(ErrCodeLaunchFailed, "failed to launch ffmpeg", runErr)
	case ctx.Err() != nil:
		err = newError(ErrCodeCancelled, "probe cancelled", ctx.Err())
	case exitCode != 0:
		err = newExitError(ErrCodeProbeFailed, "ffmpeg exited with an error", exitCode, diagnostics)
	default:
		result = ffmpeg.ParseMetrics(snapshot)
	}

	completed := events.ProbeCompletedEvent{
		SessionID: s.opts.ID,
		URL:       url,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		s.logger.Warn("Probe failed", "url", url, "error", err)
		completed.Error = err.Error()
		outcome := metrics.OutcomeFailed
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCancelled
		}
		metrics.ObserveOperation(metrics.OperationProbe, outcome)
		s.bus.Publish(completed)
		return ffmpeg.StreamMetrics{}, err
	}

	s.logger.Info("Probe finished", "url", url, "real_fps", result.RealFPS,
		"estimated_frame_rate", result.EstimatedFrameRate, "resolution", result.Resolution)
	completed.RealFPS = result.RealFPS
	completed.EstimatedFrameRate = result.EstimatedFrameRate
	completed.Resolution = result.Resolution
	completed.Duration = result.Duration
	completed.Bitrate = result.Bitrate
	metrics.ObserveOperation(metrics.OperationProbe, metrics.OutcomeSuccess)
	metrics.SetProbeFPS(result.RealFPS)
	s.bus.Publish(completed)
	return result, nil
}

// Download starts transcoding url at frameRate into a new file under the
// downloads folder and returns without waiting for ffmpeg. frameRate must be
// a finite positive number.
func (s *Session) Download(url, frameRate string) (*Job, error) {
	fps, err := ParseFrameRate(frameRate)
	if err != nil {
		metrics.ObserveOperation(metrics.OperationDownload, metrics.OutcomeRejected)
		return nil, err
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		metrics.ObserveOperation(metrics.OperationDownload, metrics.OutcomeRejected)
		return nil, ErrBusy
	}

	// Directory creation and allocation happen under the lock so two
	// downloads can never pick the same name.
	dir := s.OutputDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.mu.Unlock()
		metrics.ObserveOperation(metrics.OperationDownload, metrics.OutcomeFailed)
		return nil, newError(ErrCodeDirectoryCreate, fmt.Sprintf("failed to create %s", dir), err)
	}
	outputPath, err := naming.Allocate(s.opts.Exists, dir, s.opts.BaseName, s.opts.Extension)
	if err != nil {
		s.mu.Unlock()
		metrics.ObserveOperation(metrics.OperationDownload, metrics.OutcomeFailed)
		return nil, newError(ErrCodeAllocate, "failed to allocate output file name", err)
	}

	gen := s.begin()
	id := fmt.Sprintf("download-%d", gen)
	job := newJob(id, url, fps, outputPath)
	proc := s.newProcess(id, s.argv(ffmpeg.DownloadArgs(url, fps, outputPath)), gen, metrics.OperationDownload)
	s.proc = proc
	s.job = job
	changed := s.transition(StateDownloading)
	s.mu.Unlock()

	s.bus.Publish(changed)
	s.bus.Publish(events.DownloadStartedEvent{
		SessionID:  s.opts.ID,
		URL:        url,
		FrameRate:  fps,
		OutputPath: outputPath,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
	metrics.SetActive(metrics.OperationDownload, true)
	s.logger.Info("Download started", "url", url, "frame_rate", fps, "output", outputPath)

	go s.runDownload(gen, proc, job)
	return job, nil
}

// Cancel stops the running download. It is a no-op unless a download is in
// progress. The session is idle when Cancel returns; the job resolves as
// cancelled once ffmpeg has exited.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state != StateDownloading {
		s.mu.Unlock()
		return
	}
	proc := s.proc
	job := s.job
	// Bumping the generation drops any output the old process still emits.
	s.generation++
	s.proc = nil
	s.job = nil
	toCancelled := s.transition(StateCancelled)
	toIdle := s.transition(StateIdle)
	s.mu.Unlock()

	s.bus.Publish(toCancelled)
	s.bus.Publish(toIdle)
	s.logger.Info("Cancelling download", "id", job.ID, "output", job.OutputPath)
	proc.Shutdown()
}

func (s *Session) runDownload(gen uint64, proc *process.Process, job *Job) {
	exitCode, runErr := proc.Run()
	elapsed := time.Since(job.StartedAt)
	metrics.SetActive(metrics.OperationDownload, false)
	metrics.ObserveDownloadDuration(elapsed.Seconds())

	result := JobResult{
		OutputPath: job.OutputPath,
		ExitCode:   exitCode,
		Elapsed:    elapsed,
	}

	s.mu.Lock()
	if gen != s.generation {
		// Cancelled; the session has already moved on.
		s.mu.Unlock()
		result.State = StateCancelled
		result.Err = ErrCancelled
		s.finishDownload(job, result)
		return
	}

	result.Diagnostics = s.logs.Tail(diagnosticLines)
	switch {
	case runErr != nil:
		result.State = StateFailed
		result.Err = newError(ErrCodeLaunchFailed, "failed to launch ffmpeg", runErr)
	case exitCode != 0:
		result.State = StateFailed
		result.Err = newExitError(ErrCodeDownloadFailed, "ffmpeg exited with an error", exitCode, result.Diagnostics)
	default:
		result.State = StateCompleted
	}
	s.proc = nil
	s.job = nil
	toTerminal := s.transition(result.State)
	toIdle := s.transition(StateIdle)
	s.mu.Unlock()

	s.bus.Publish(toTerminal)
	s.bus.Publish(toIdle)
	s.finishDownload(job, result)
}

func (s *Session) finishDownload(job *Job, result JobResult) {
	outcome := metrics.OutcomeSuccess
	switch result.State {
	case StateCancelled:
		outcome = metrics.OutcomeCancelled
		s.logger.Info("Download cancelled", "output", job.OutputPath, "exit_code", result.ExitCode)
	case StateFailed:
		outcome = metrics.OutcomeFailed
		s.logger.Warn("Download failed", "output", job.OutputPath, "error", result.Err)
	default:
		s.logger.Info("Download completed", "output", job.OutputPath, "elapsed", result.Elapsed)
	}
	metrics.ObserveOperation(metrics.OperationDownload, outcome)

	finished := events.DownloadFinishedEvent{
		SessionID:  s.opts.ID,
		URL:        job.SourceURL,
		OutputPath: job.OutputPath,
		State:      string(result.State),
		ExitCode:   result.ExitCode,
		Timestamp:  time.Now().Format(time.RFC3339),
	}
	if result.Err != nil {
		finished.Error = result.Err.Error()
	}
	s.bus.Publish(finished)

	job.resolve(result)
}

// begin starts a new attempt. Caller holds s.mu.
func (s *Session) begin() uint64 {
	s.generation++
	s.logs.Reset()
	return s.generation
}

// transition sets the state and returns the event to publish once s.mu is
// released. Caller holds s.mu.
func (s *Session) transition(to State) events.SessionStateChangedEvent {
	from := s.state
	s.state = to
	s.logger.Debug("State transition", "from", from, "to", to)
	return events.SessionStateChangedEvent{
		SessionID: s.opts.ID,
		From:      string(from),
		To:        string(to),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func (s *Session) argv(args []string) []string {
	argv := make([]string, 0, len(s.opts.Command)+len(args))
	argv = append(argv, s.opts.Command...)
	return append(argv, args...)
}

func (s *Session) newProcess(id string, argv []string, gen uint64, operation string) *process.Process {
	handler := process.OutputHandlerFunc(func(_, line string) {
		s.appendLine(gen, operation, line)
	})
	proc := process.NewProcessWithOutput(id, argv, logging.GetLogger("process"), handler)
	proc.SetLogParser(s.ffmpegLogger, ffmpeg.ParseLogLevel)
	proc.SetTimeouts(s.opts.GracefulTimeout, 0)
	return proc
}

// appendLine records a line for attempt gen. Lines from a superseded
// attempt are dropped.
func (s *Session) appendLine(gen uint64, operation, line string) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	seq := s.logs.Append(line)
	s.mu.Unlock()

	s.bus.Publish(events.LogLineEvent{
		SessionID: s.opts.ID,
		Operation: operation,
		Seq:       seq,
		Line:      line,
	})
}
