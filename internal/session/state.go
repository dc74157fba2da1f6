package session

// State is the lifecycle state of a Session.
type State string

// Session states. Cancelled, completed and failed are terminal for an
// attempt; the session moves on to idle right after entering them.
const (
	StateIdle        State = "idle"
	StateProbing     State = "probing"
	StateDownloading State = "downloading"
	StateCancelled   State = "cancelled"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Active reports whether an operation owns the session in this state.
func (s State) Active() bool {
	return s == StateProbing || s == StateDownloading
}
