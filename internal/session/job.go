package session

import (
	"context"
	"sync"
	"time"
)

// JobResult is the final outcome of a download.
type JobResult struct {
	State       State         `json:"state"`
	OutputPath  string        `json:"output_path"`
	ExitCode    int           `json:"exit_code"`
	Elapsed     time.Duration `json:"elapsed"`
	Diagnostics []string      `json:"diagnostics,omitempty"`
	Err         error         `json:"-"`
}

// Job is one background download. Its fields are fixed before ffmpeg is
// launched.
type Job struct {
	ID         string
	SourceURL  string
	FrameRate  float64
	OutputPath string
	StartedAt  time.Time

	done   chan struct{}
	once   sync.Once
	result JobResult
}

func newJob(id, url string, frameRate float64, outputPath string) *Job {
	return &Job{
		ID:         id,
		SourceURL:  url,
		FrameRate:  frameRate,
		OutputPath: outputPath,
		StartedAt:  time.Now(),
		done:       make(chan struct{}),
	}
}

// Done is closed once the download has finished, failed or been cancelled
// and the subprocess has exited.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the outcome and true once Done is closed.
func (j *Job) Result() (JobResult, bool) {
	select {
	case <-j.done:
		return j.result, true
	default:
		return JobResult{}, false
	}
}

// Wait blocks until the job resolves or ctx is done.
func (j *Job) Wait(ctx context.Context) (JobResult, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}
}

func (j *Job) resolve(result JobResult) {
	j.once.Do(func() {
		j.result = result
		close(j.done)
	})
}
