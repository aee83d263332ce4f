package stt

import "time"

// Snapshot is the entire transcript of a call as known at one point in time,
// not a delta. Downstream code compares snapshot lengths to work out what is
// new since the last dispatch.
type Snapshot struct {
	// Text is the full transcript so far.
	Text string

	// Stable reports whether this snapshot came from the committed stream.
	// Stable snapshots only grow; interim snapshots may revise earlier text.
	Stable bool

	// At marks when the provider received this snapshot from the engine.
	At time.Time
}
