package copilot

import "strings"

// TranscriptBuffer holds the latest stabilized snapshot of a call transcript.
//
// The transcription engine always delivers the entire transcript-so-far, not
// a delta, so Update replaces the held text wholesale. Suffix extraction
// against a recorded dispatch offset is how the pipeline recovers "what is
// new since the agent last saw this call".
//
// A TranscriptBuffer is owned by a single session loop and is not safe for
// concurrent use.
type TranscriptBuffer struct {
	text string
}

// Update replaces the buffer's current snapshot with full.
func (b *TranscriptBuffer) Update(full string) {
	b.text = full
}

// Text returns the current snapshot.
func (b *TranscriptBuffer) Text() string {
	return b.text
}

// Len returns the byte length of the current snapshot. Dispatch offsets are
// recorded as Len at dispatch time.
func (b *TranscriptBuffer) Len() int {
	return len(b.text)
}

// NewSuffix returns the part of the current snapshot beyond offset, trimmed
// of surrounding whitespace.
//
// The engine may revise earlier text on stabilization, so a new snapshot can
// be shorter than a previously recorded offset. The offset is clamped to the
// snapshot bounds: a shrinking revision yields an empty suffix rather than a
// panic, and the next growth is measured from the clamped point.
func (b *TranscriptBuffer) NewSuffix(offset int) string {
	if offset < 0 {
		offset = 0
	}
	if offset > len(b.text) {
		offset = len(b.text)
	}
	return strings.TrimSpace(b.text[offset:])
}
