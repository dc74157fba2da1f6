// Package session runs ffmpeg against a single stream source.
//
// A Session performs at most one operation at a time: a bounded probe that
// yields ffmpeg.StreamMetrics, or a background download into a
// collision-free file under the downloads folder. Downloads can be
// cancelled; output from a cancelled run never reaches the session's log
// buffer after Cancel returns.
package session
