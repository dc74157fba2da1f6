package session

import "strings"

// LogBuffer is an ordered, append-only record of subprocess output for the
// current attempt. It is not safe for concurrent use; Session guards it.
type LogBuffer struct {
	lines []string
}

// Append adds a line and returns its 1-based sequence number.
func (b *LogBuffer) Append(line string) int {
	b.lines = append(b.lines, line)
	return len(b.lines)
}

// Reset drops all lines.
func (b *LogBuffer) Reset() {
	b.lines = nil
}

// Len returns the number of lines.
func (b *LogBuffer) Len() int {
	return len(b.lines)
}

// Lines returns a copy of all lines.
func (b *LogBuffer) Lines() []string {
	return append([]string(nil), b.lines...)
}

// Tail returns a copy of the last n lines.
func (b *LogBuffer) Tail(n int) []string {
	if n <= 0 {
		return nil
	}
	start := len(b.lines) - n
	if start < 0 {
		start = 0
	}
	return append([]string(nil), b.lines[start:]...)
}

// String joins all lines with newlines.
func (b *LogBuffer) String() string {
	return strings.Join(b.lines, "\n")
}
