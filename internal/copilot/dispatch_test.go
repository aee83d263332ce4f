package copilot

import "testing"

func TestWordCountPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		minWords int
		suffix   string
		want     bool
	}{
		{"empty suffix never triggers", 2, "", false},
		{"one word is below gate", 2, "ja", false},
		{"two words equal gate", 2, "ja genau", false},
		{"three words pass gate", 2, "ich suche etwas", true},
		{"custom gate of one", 1, "zwei Worte", true},
		{"zero falls back to default", 0, "ja genau", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewWordCountPolicy(tt.minWords)
			if got := p.ShouldDispatch(tt.suffix, tt.suffix); got != tt.want {
				t.Errorf("ShouldDispatch(%q) = %v, want %v", tt.suffix, got, tt.want)
			}
		})
	}
}

func TestSentenceStridePolicyCrossesOnceForMultiSentenceUpdate(t *testing.T) {
	t.Parallel()

	p := NewSentenceStridePolicy(3)

	// Two updates without sentence terminators stay below the stride.
	if p.ShouldDispatch("Hello", "Hello") {
		t.Error("dispatched with zero sentences")
	}
	if p.ShouldDispatch("there", "Hello there") {
		t.Error("dispatched with zero sentences")
	}

	// A single update carrying three sentence endings crosses the stride
	// exactly once.
	full := "Hello there, how are you today? I have a question. Let's continue."
	suffix := ", how are you today? I have a question. Let's continue."
	if !p.ShouldDispatch(suffix, full) {
		t.Fatal("expected dispatch after three sentences")
	}
	p.Commit(full)

	// The same snapshot consulted again does not re-trigger.
	if p.ShouldDispatch("", full) {
		t.Error("re-dispatched after commit with no new text")
	}
}

func TestSentenceStridePolicyEmptySuffixNeverTriggers(t *testing.T) {
	t.Parallel()

	p := NewSentenceStridePolicy(1)
	if p.ShouldDispatch("   ", "Erster Satz. Zweiter Satz.") {
		t.Error("dispatched on whitespace-only suffix")
	}
}

func TestSentenceStridePolicyMeasuresFromCommit(t *testing.T) {
	t.Parallel()

	p := NewSentenceStridePolicy(2)
	p.Commit("Eins. Zwei. Drei.")

	if p.ShouldDispatch("Vier.", "Eins. Zwei. Drei. Vier.") {
		t.Error("dispatched one sentence past commit point with stride 2")
	}
	if !p.ShouldDispatch("Vier. Fünf.", "Eins. Zwei. Drei. Vier. Fünf.") {
		t.Error("expected dispatch two sentences past commit point")
	}
}

func TestCountSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"kein Terminator", 0},
		{"Ein Satz.", 1},
		{"Wirklich?! Ja.", 2},
		{"Moment... gut. Weiter!", 3},
	}

	for _, tt := range tests {
		if got := countSentences(tt.text); got != tt.want {
			t.Errorf("countSentences(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
