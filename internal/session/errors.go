package session

import (
	"fmt"
)

// Error codes for session operations.
const (
	ErrCodeBusy             = "SESSION_BUSY"
	ErrCodeInvalidFrameRate = "INVALID_FRAME_RATE"
	ErrCodeDirectoryCreate  = "DIRECTORY_CREATE_FAILED"
	ErrCodeAllocate         = "ALLOCATE_FAILED"
	ErrCodeProbeFailed      = "PROBE_FAILED"
	ErrCodeDownloadFailed   = "DOWNLOAD_FAILED"
	ErrCodeLaunchFailed     = "LAUNCH_FAILED"
	ErrCodeCancelled        = "CANCELLED"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrBusy             = &Error{Code: ErrCodeBusy, Message: "another operation is in progress"}
	ErrInvalidFrameRate = &Error{Code: ErrCodeInvalidFrameRate, Message: "frame rate must be a positive number"}
	ErrDirectoryCreate  = &Error{Code: ErrCodeDirectoryCreate, Message: "failed to create downloads folder"}
	ErrAllocate         = &Error{Code: ErrCodeAllocate, Message: "failed to allocate output file name"}
	ErrProbeFailed      = &Error{Code: ErrCodeProbeFailed, Message: "probe failed"}
	ErrDownloadFailed   = &Error{Code: ErrCodeDownloadFailed, Message: "download failed"}
	ErrLaunchFailed     = &Error{Code: ErrCodeLaunchFailed, Message: "failed to launch ffmpeg"}
	ErrCancelled        = &Error{Code: ErrCodeCancelled, Message: "operation cancelled"}
)

// Error represents a session error with a code. Subprocess failures carry
// the exit code and the tail of the captured log.
type Error struct {
	Code        string
	Message     string
	ExitCode    int
	Diagnostics []string
	Cause       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a session error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func newExitError(code, message string, exitCode int, diagnostics []string) *Error {
	return &Error{
		Code:        code,
		Message:     message,
		ExitCode:    exitCode,
		Diagnostics: diagnostics,
	}
}
