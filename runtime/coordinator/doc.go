// Package coordinator ties audio I/O, the realtime session, the
// conversation cache and the resource monitor into one conversation state
// machine.
//
// In manual mode the caller drives turns with StartTurn and Commit and the
// service's turn detection is off. While the assistant speaks, capture runs
// monitor-only: frames reach the local interrupt detector but not the
// network. In continuous mode capture always streams and remote VAD events
// mark turn boundaries.
//
// Interrupts flush local playback before the cancel is sent, so the
// assistant goes quiet without waiting for the service. Deltas for a
// cancelled response are dropped.
package coordinator
