// Package naming allocates output file names that never collide with files
// already present in a directory.
//
// Candidates are tried in order:
//
//	output.mp4, output1.mp4, output2.mp4, ...
//
// The first name that does not exist is returned. Allocation only observes
// the directory; it does not create the file. Callers that may allocate
// concurrently for the same directory and base name must serialize
// allocate-then-create themselves, otherwise two callers can observe the same
// free name.
package naming
