// Package discovery finds a streaming device on the local /24 by probing
// candidate addresses with HTTP HEAD requests.
//
// Hosts are probed one at a time in ascending order, each bounded by its own
// timeout, and the scan stops at the first responder. Worst-case latency is
// (hi-lo+1) * timeout, so ranges are kept narrow (a typical DHCP pool rather
// than the full subnet).
package discovery
