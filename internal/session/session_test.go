package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/streamgrab/internal/events"
)

// fakeFFmpeg returns a command prefix that runs script with the ffmpeg
// arguments as "$@".
func fakeFFmpeg(script string) []string {
	return []string{"sh", "-c", script, "ffmpeg"}
}

const writeOutput = `for last; do :; done; [ "$last" = "-" ] || echo data > "$last"`

func newTestSession(t *testing.T, script string) *Session {
	t.Helper()
	return New(Options{
		ID:              "test",
		Command:         fakeFFmpeg(script),
		DownloadsRoot:   t.TempDir(),
		GracefulTimeout: 2 * time.Second,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func waitJob(t *testing.T, job *Job) JobResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := job.Wait(ctx)
	if err != nil {
		t.Fatalf("timeout waiting for job: %v", err)
	}
	return result
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestProbeParsesOutput(t *testing.T) {
	script := `
echo "[info] Input #0, mjpeg, from '${10}':" >&2
echo "[info]   Duration: 00:01:05.00, start: 0.000000, bitrate: 512.0 kb/s" >&2
echo "[info]   Stream #0:0: Video: mjpeg, yuvj422p(pc), 1920x1080, 25 tbr" >&2
printf 'frame=    0 fps=0.0 q=0.0 size=N/A\rframe=   30 fps= 28 q=-0.0\rframe=   60 fps= 32 q=-0.0\n' >&2
`
	s := newTestSession(t, script)

	got, err := s.Probe(context.Background(), "http://192.168.1.105/stream")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	if got.RealFPS != 30.0 {
		t.Errorf("RealFPS = %v, want 30.0", got.RealFPS)
	}
	if got.EstimatedFrameRate != 15 {
		t.Errorf("EstimatedFrameRate = %d, want 15", got.EstimatedFrameRate)
	}
	if got.Resolution != "1920x1080" {
		t.Errorf("Resolution = %q, want 1920x1080", got.Resolution)
	}
	if got.Duration != "00:01:05.00" {
		t.Errorf("Duration = %q, want 00:01:05.00", got.Duration)
	}
	if got.Bitrate != "512.0 kb/s" {
		t.Errorf("Bitrate = %q, want 512.0 kb/s", got.Bitrate)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle after probe, got %s", s.State())
	}

	logs := s.Logs()
	if len(logs) != 6 {
		t.Fatalf("expected 6 log lines (progress split on CR), got %d: %q", len(logs), logs)
	}
	if !strings.Contains(logs[0], "http://192.168.1.105/stream") {
		t.Errorf("expected URL passed after -i, got %q", logs[0])
	}
}

func TestProbeFailure(t *testing.T) {
	s := newTestSession(t, `echo "[error] Connection refused" >&2; exit 1`)

	_, err := s.Probe(context.Background(), "http://192.168.1.105/stream")
	if !errors.Is(err, ErrProbeFailed) {
		t.Fatalf("expected ErrProbeFailed, got %v", err)
	}

	var sessErr *Error
	if !errors.As(err, &sessErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if sessErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", sessErr.ExitCode)
	}
	if !slices.Contains(sessErr.Diagnostics, "[error] Connection refused") {
		t.Errorf("diagnostics missing ffmpeg error: %q", sessErr.Diagnostics)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle after failed probe, got %s", s.State())
	}
}

func TestProbeLaunchFailure(t *testing.T) {
	s := New(Options{
		Command:       []string{"/nonexistent/ffmpeg"},
		DownloadsRoot: t.TempDir(),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := s.Probe(context.Background(), "http://192.168.1.105/stream")
	if !errors.Is(err, ErrLaunchFailed) {
		t.Fatalf("expected ErrLaunchFailed, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle, got %s", s.State())
	}
}

func TestProbeEmptyURL(t *testing.T) {
	s := newTestSession(t, `exit 0`)

	if _, err := s.Probe(context.Background(), "  "); !errors.Is(err, ErrProbeFailed) {
		t.Errorf("expected ErrProbeFailed, got %v", err)
	}
}

func TestProbeContextCancel(t *testing.T) {
	s := newTestSession(t, `exec sleep 10`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Probe(ctx, "http://192.168.1.105/stream")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected cause context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("probe took too long to stop: %v", elapsed)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle, got %s", s.State())
	}
}

func TestDownloadInvalidFrameRate(t *testing.T) {
	s := newTestSession(t, writeOutput)

	for _, fps := range []string{"abc", "", "0", "-5", "NaN", "Inf"} {
		job, err := s.Download("http://192.168.1.105/stream", fps)
		if !errors.Is(err, ErrInvalidFrameRate) {
			t.Errorf("fps %q: expected ErrInvalidFrameRate, got %v", fps, err)
		}
		if job != nil {
			t.Errorf("fps %q: expected no job", fps)
		}
		if s.State() != StateIdle {
			t.Errorf("fps %q: expected idle, got %s", fps, s.State())
		}
	}

	if _, err := os.Stat(s.OutputDir()); !os.IsNotExist(err) {
		t.Errorf("downloads folder should not be created for a rejected request")
	}
}

func TestDownloadCompletes(t *testing.T) {
	s := newTestSession(t, writeOutput)

	job, err := s.Download("http://192.168.1.105/stream", "15")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	want := filepath.Join(s.OutputDir(), "output.mp4")
	if job.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", job.OutputPath, want)
	}
	if job.FrameRate != 15 {
		t.Errorf("FrameRate = %v, want 15", job.FrameRate)
	}

	result := waitJob(t, job)
	if result.State != StateCompleted {
		t.Fatalf("expected completed, got %s (err %v)", result.State, result.Err)
	}
	if result.ExitCode != 0 || result.Err != nil {
		t.Errorf("unexpected failure: exit %d err %v", result.ExitCode, result.Err)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("output file missing: %v", err)
	}
	waitFor(t, func() bool { return s.State() == StateIdle })
	if s.Current() != nil {
		t.Error("expected no current job after completion")
	}

	// Second download must not reuse the name.
	job2, err := s.Download("http://192.168.1.105/stream", "15")
	if err != nil {
		t.Fatalf("second Download failed: %v", err)
	}
	if want := filepath.Join(s.OutputDir(), "output1.mp4"); job2.OutputPath != want {
		t.Errorf("second OutputPath = %q, want %q", job2.OutputPath, want)
	}
	waitJob(t, job2)
}

func TestDownloadSkipsExistingFiles(t *testing.T) {
	s := newTestSession(t, writeOutput)

	if err := os.MkdirAll(s.OutputDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"output.mp4", "output1.mp4"} {
		if err := os.WriteFile(filepath.Join(s.OutputDir(), name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	job, err := s.Download("http://192.168.1.105/stream", "15")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if want := filepath.Join(s.OutputDir(), "output2.mp4"); job.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", job.OutputPath, want)
	}
	waitJob(t, job)
}

func TestDownloadPassesArguments(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	s := newTestSession(t, `echo "$@" > `+argsFile)

	job, err := s.Download("http://192.168.1.105/stream", "12.5")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	waitJob(t, job)

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	want := "-hide_banner -loglevel level+info -n -i http://192.168.1.105/stream -r 12.5 " + job.OutputPath
	if got := strings.TrimSpace(string(data)); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestDownloadFailure(t *testing.T) {
	s := newTestSession(t, `echo "[error] Server returned 404 Not Found" >&2; exit 1`)

	job, err := s.Download("http://192.168.1.105/stream", "15")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	result := waitJob(t, job)
	if result.State != StateFailed {
		t.Fatalf("expected failed, got %s", result.State)
	}
	if !errors.Is(result.Err, ErrDownloadFailed) {
		t.Errorf("expected ErrDownloadFailed, got %v", result.Err)
	}
	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode)
	}
	if result.OutputPath != job.OutputPath {
		t.Errorf("result path %q != job path %q", result.OutputPath, job.OutputPath)
	}
	waitFor(t, func() bool { return s.State() == StateIdle })
}

func TestDownloadBusy(t *testing.T) {
	s := newTestSession(t, `exec sleep 10`)

	job, err := s.Download("http://192.168.1.105/stream", "15")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if s.State() != StateDownloading {
		t.Fatalf("expected downloading, got %s", s.State())
	}

	if _, err := s.Download("http://192.168.1.105/stream", "15"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy for second download, got %v", err)
	}
	if _, err := s.Probe(context.Background(), "http://192.168.1.105/stream"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy for probe, got %v", err)
	}
	if s.Current() != job {
		t.Error("in-flight job must be untouched by rejected requests")
	}

	s.Cancel()
	if s.State() != StateIdle {
		t.Errorf("expected idle right after Cancel, got %s", s.State())
	}

	result := waitJob(t, job)
	if result.State != StateCancelled {
		t.Errorf("expected cancelled, got %s", result.State)
	}
	if !errors.Is(result.Err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", result.Err)
	}
}

func TestCancelIdleIsNoop(t *testing.T) {
	bus := events.New()
	changes := make(chan events.SessionStateChangedEvent, 8)
	unsub := events.SubscribeToChannel(bus, changes)
	defer unsub()

	s := New(Options{
		Command:       fakeFFmpeg(writeOutput),
		DownloadsRoot: t.TempDir(),
		EventBus:      bus,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.Cancel()

	if s.State() != StateIdle {
		t.Errorf("expected idle, got %s", s.State())
	}
	select {
	case ev := <-changes:
		t.Errorf("unexpected state change %s -> %s", ev.From, ev.To)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelDropsLateLines(t *testing.T) {
	script := `trap 'echo late-line >&2; exit 0' INT
echo early-line >&2
while true; do sleep 0.05; done`
	s := newTestSession(t, script)

	job, err := s.Download("http://192.168.1.105/stream", "15")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	waitFor(t, func() bool { return slices.Contains(s.Logs(), "early-line") })

	s.Cancel()
	result := waitJob(t, job)
	if result.State != StateCancelled {
		t.Errorf("expected cancelled, got %s", result.State)
	}
	if slices.Contains(s.Logs(), "late-line") {
		t.Errorf("line emitted after Cancel reached the log buffer: %q", s.Logs())
	}
}

func TestDownloadDirectoryCreateFailed(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(root, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(Options{
		Command:       fakeFFmpeg(writeOutput),
		DownloadsRoot: root,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := s.Download("http://192.168.1.105/stream", "15")
	if !errors.Is(err, ErrDirectoryCreate) {
		t.Fatalf("expected ErrDirectoryCreate, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle, got %s", s.State())
	}
}

func TestDownloadAllocateFailed(t *testing.T) {
	boom := errors.New("stat failed")
	s := New(Options{
		Command:       fakeFFmpeg(writeOutput),
		DownloadsRoot: t.TempDir(),
		Exists:        func(string) (bool, error) { return false, boom },
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := s.Download("http://192.168.1.105/stream", "15")
	if !errors.Is(err, ErrAllocate) {
		t.Fatalf("expected ErrAllocate, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
}

func TestDownloadEvents(t *testing.T) {
	bus := events.New()
	started := make(chan events.DownloadStartedEvent, 1)
	finished := make(chan events.DownloadFinishedEvent, 1)
	lines := make(chan events.LogLineEvent, 16)
	defer events.SubscribeToChannel(bus, started)()
	defer events.SubscribeToChannel(bus, finished)()
	defer events.SubscribeToChannel(bus, lines)()

	s := New(Options{
		ID:            "cam",
		Command:       fakeFFmpeg(`echo one >&2; echo two >&2; ` + writeOutput),
		DownloadsRoot: t.TempDir(),
		EventBus:      bus,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	job, err := s.Download("http://192.168.1.105/stream", "15")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	waitJob(t, job)

	select {
	case ev := <-started:
		if ev.SessionID != "cam" || ev.OutputPath != job.OutputPath || ev.FrameRate != 15 {
			t.Errorf("unexpected started event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for DownloadStartedEvent")
	}

	select {
	case ev := <-finished:
		if ev.State != string(StateCompleted) || ev.ExitCode != 0 {
			t.Errorf("unexpected finished event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for DownloadFinishedEvent")
	}

	var got []events.LogLineEvent
	for len(got) < 2 {
		select {
		case ev := <-lines:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for log lines, got %d", len(got))
		}
	}
	if got[0].Line != "one" || got[0].Seq != 1 || got[1].Line != "two" || got[1].Seq != 2 {
		t.Errorf("unexpected log line events %+v", got)
	}
	if got[0].Operation != "download" {
		t.Errorf("Operation = %q, want download", got[0].Operation)
	}
}

func TestLogsResetPerAttempt(t *testing.T) {
	s := newTestSession(t, `echo "run $$" >&2; `+writeOutput)

	job, err := s.Download("http://192.168.1.105/stream", "15")
	if err != nil {
		t.Fatal(err)
	}
	waitJob(t, job)
	waitFor(t, func() bool { return s.State() == StateIdle })

	if _, err := s.Probe(context.Background(), "http://192.168.1.105/stream"); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Logs()); n != 1 {
		t.Errorf("expected only the probe's line, got %q", s.Logs())
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"15", 15, false},
		{" 29.97 ", 29.97, false},
		{"1e1", 10, false},
		{"abc", 0, true},
		{"0", 0, true},
		{"-1", 0, true},
		{"+Inf", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFrameRate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFrameRate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
