package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/streamgrab/internal/discovery"
	"github.com/smazurov/streamgrab/internal/session"
)

// run executes the command tree with an isolated config path.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)

	hasConfig := false
	for _, a := range args {
		if a == "--config" {
			hasConfig = true
		}
	}
	if !hasConfig {
		args = append([]string{"--config", filepath.Join(t.TempDir(), "none.toml")}, args...)
	}
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

const probeScript = `sh -c 'echo "[info]   Stream #0:0: Video: mjpeg, yuvj422p(pc), 640x480, 25 tbr" >&2; echo "frame=   10 fps= 20 q=-0.0" >&2' ffmpeg`

func TestProbeCommand(t *testing.T) {
	out, err := run(t, "--ffmpeg", probeScript, "probe", "192.168.1.105")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}

	for _, want := range []string{"Real FPS: 20.0", "Suggested frame rate: 10", "Resolution: 640x480", "Duration: N/A"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestProbeCommandJSON(t *testing.T) {
	out, err := run(t, "--json", "--ffmpeg", probeScript, "probe", "192.168.1.105")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}

	var got struct {
		URL                string  `json:"url"`
		RealFPS            float64 `json:"real_fps"`
		EstimatedFrameRate int     `json:"estimated_frame_rate"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if got.URL != "http://192.168.1.105/stream" {
		t.Errorf("URL = %q", got.URL)
	}
	if got.RealFPS != 20 || got.EstimatedFrameRate != 10 {
		t.Errorf("unexpected metrics %+v", got)
	}
}

func TestProbeCommandFailure(t *testing.T) {
	_, err := run(t, "--ffmpeg", `sh -c 'exit 1' ffmpeg`, "probe", "http://cam.local/stream")
	if !errors.Is(err, session.ErrProbeFailed) {
		t.Errorf("expected ErrProbeFailed, got %v", err)
	}
}

func downloadScript(argsFile string) string {
	return `sh -c 'for last; do :; done; ` +
		`if [ "$last" = "-" ]; then echo "frame= 1 fps= 20" >&2; exit 0; fi; ` +
		`echo "$@" > ` + argsFile + `; echo data > "$last"' ffmpeg`
}

func TestDownloadCommand(t *testing.T) {
	root := t.TempDir()
	argsFile := filepath.Join(t.TempDir(), "args")

	out, err := run(t, "--ffmpeg", downloadScript(argsFile), "download", "192.168.1.105",
		"--fps", "15", "--downloads-root", root)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	want := filepath.Join(root, "DownloadedVideos", "output.mp4")
	if !strings.Contains(out, "Saved "+want) {
		t.Errorf("output = %q, want Saved %s", out, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("output file missing: %v", err)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(args), "-i http://192.168.1.105/stream -r 15 ") {
		t.Errorf("unexpected ffmpeg args %q", args)
	}
}

func TestDownloadAutoFPS(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")

	_, err := run(t, "--ffmpeg", downloadScript(argsFile), "download", "192.168.1.105",
		"--auto-fps", "--downloads-root", t.TempDir())
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(args), "-r 10 ") {
		t.Errorf("expected suggested frame rate 10 in args %q", args)
	}
}

func TestDownloadRequiresFrameRate(t *testing.T) {
	if _, err := run(t, "download", "192.168.1.105"); err == nil {
		t.Error("expected error without --fps or --auto-fps")
	}
	if _, err := run(t, "download", "192.168.1.105", "--fps", "10", "--auto-fps"); err == nil {
		t.Error("expected error for --fps with --auto-fps")
	}
}

func TestDownloadInvalidFrameRate(t *testing.T) {
	root := t.TempDir()
	_, err := run(t, "download", "192.168.1.105", "--fps", "abc", "--downloads-root", root)
	if !errors.Is(err, session.ErrInvalidFrameRate) {
		t.Errorf("expected ErrInvalidFrameRate, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "DownloadedVideos")); !os.IsNotExist(err) {
		t.Error("downloads folder must not be created for an invalid frame rate")
	}
}

func TestDownloadFailureReported(t *testing.T) {
	out, err := run(t, "--ffmpeg", `sh -c 'echo "[error] 404 Not Found" >&2; exit 1' ffmpeg`,
		"download", "192.168.1.105", "--fps", "15", "--downloads-root", t.TempDir())
	if !errors.Is(err, session.ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	if !strings.Contains(out, "exit code 1") || !strings.Contains(out, "404 Not Found") {
		t.Errorf("expected exit code and diagnostics in output, got %q", out)
	}
}

func TestConfigFileAndEnvApplied(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "streamgrab.toml")
	content := "[downloads]\nroot = \"" + dir + "\"\nfolder = \"Clips\"\nbase_name = \"fromfile\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STREAMGRAB_DOWNLOADS_BASE_NAME", "fromenv")

	argsFile := filepath.Join(t.TempDir(), "args")
	out, err := run(t, "--config", configPath, "--ffmpeg", downloadScript(argsFile),
		"download", "192.168.1.105", "--fps", "15")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	// folder from the file, base name from env.
	want := filepath.Join(dir, "Clips", "fromenv.mp4")
	if !strings.Contains(out, want) {
		t.Errorf("output = %q, want path %s", out, want)
	}

	// A flag beats both.
	out, err = run(t, "--config", configPath, "--ffmpeg", downloadScript(argsFile),
		"download", "192.168.1.105", "--fps", "15", "--base-name", "fromflag")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if want := filepath.Join(dir, "Clips", "fromflag.mp4"); !strings.Contains(out, want) {
		t.Errorf("output = %q, want path %s", out, want)
	}
}

func TestScanInvalidRange(t *testing.T) {
	_, err := run(t, "scan", "--ip", "192.168.1.2", "--from", "200", "--to", "100")
	if !errors.Is(err, discovery.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestScanBadPolicy(t *testing.T) {
	if _, err := run(t, "scan", "--ip", "192.168.1.2", "--policy", "sometimes"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "streamgrab ") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestStreamURL(t *testing.T) {
	opts := &Options{StreamPath: "live"}
	if got := streamURL(opts, "10.0.0.5"); got != "http://10.0.0.5/live" {
		t.Errorf("streamURL = %q", got)
	}
	if got := streamURL(&Options{}, "10.0.0.5"); got != "http://10.0.0.5/stream" {
		t.Errorf("streamURL default = %q", got)
	}
}

func TestUpdateCheckAndRollbackExclusive(t *testing.T) {
	_, err := run(t, "update", "--check", "--rollback")
	if err == nil || !strings.Contains(err.Error(), "none of the others can be") {
		t.Fatalf("expected mutually exclusive flag error, got %v", err)
	}
}
