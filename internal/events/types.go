package events

// Event type constants for kelindar/event.
const (
	TypeDeviceDiscovered uint32 = iota + 1
	TypeSessionStateChanged
	TypeLogLine
	TypeProbeCompleted
	TypeDownloadStarted
	TypeDownloadFinished
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceDiscoveredEvent is published when a subnet scan finds a responder.
type DeviceDiscoveredEvent struct {
	Address   string `json:"address"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveredEvent.
func (e DeviceDiscoveredEvent) Type() uint32 { return TypeDeviceDiscovered }

// SessionStateChangedEvent is published on every session state transition.
type SessionStateChangedEvent struct {
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// LogLineEvent carries one line of subprocess output. Seq restarts at 1 for
// every probe or download.
type LogLineEvent struct {
	SessionID string `json:"session_id"`
	Operation string `json:"operation"`
	Seq       int    `json:"seq"`
	Line      string `json:"line"`
}

// Type returns the event type identifier for LogLineEvent.
func (e LogLineEvent) Type() uint32 { return TypeLogLine }

// ProbeCompletedEvent is published when a probe finishes, successfully or not.
type ProbeCompletedEvent struct {
	SessionID          string  `json:"session_id"`
	URL                string  `json:"url"`
	RealFPS            float64 `json:"real_fps"`
	EstimatedFrameRate int     `json:"estimated_frame_rate"`
	Resolution         string  `json:"resolution"`
	Duration           string  `json:"duration"`
	Bitrate            string  `json:"bitrate"`
	Error              string  `json:"error,omitempty"`
	Timestamp          string  `json:"timestamp"`
}

// Type returns the event type identifier for ProbeCompletedEvent.
func (e ProbeCompletedEvent) Type() uint32 { return TypeProbeCompleted }

// DownloadStartedEvent is published once the output path is fixed and the
// transcoder is about to launch.
type DownloadStartedEvent struct {
	SessionID  string  `json:"session_id"`
	URL        string  `json:"url"`
	FrameRate  float64 `json:"frame_rate"`
	OutputPath string  `json:"output_path"`
	Timestamp  string  `json:"timestamp"`
}

// Type returns the event type identifier for DownloadStartedEvent.
func (e DownloadStartedEvent) Type() uint32 { return TypeDownloadStarted }

// DownloadFinishedEvent is published when a download completes, fails or
// is cancelled.
type DownloadFinishedEvent struct {
	SessionID  string `json:"session_id"`
	URL        string `json:"url"`
	OutputPath string `json:"output_path"`
	State      string `json:"state"`
	ExitCode   int    `json:"exit_code"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for DownloadFinishedEvent.
func (e DownloadFinishedEvent) Type() uint32 { return TypeDownloadFinished }
