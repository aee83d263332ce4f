package copilot

import "strings"

// Policy decides whether a transcript update warrants invoking the agent.
//
// ShouldDispatch is consulted on every stabilized snapshot with the new
// suffix since the last dispatch and the full snapshot. Commit is called by
// the session loop at the moment of dispatch so stateful policies can record
// their reference point. A forced flush at session stop bypasses the policy
// entirely.
//
// Policies are owned by a single session loop and need not be safe for
// concurrent use.
type Policy interface {
	ShouldDispatch(suffix, full string) bool
	Commit(full string)
}

// WordCountPolicy triggers a dispatch when the new suffix contains more than
// a minimum number of words.
type WordCountPolicy struct {
	minWords int
}

var _ Policy = (*WordCountPolicy)(nil)

// defaultMinWords matches the tightest gate observed in live operation:
// anything up to two words is noise ("ja", "mhm, genau").
const defaultMinWords = 2

// NewWordCountPolicy creates a word-count gate. minWords values below 1 fall
// back to the default of 2.
func NewWordCountPolicy(minWords int) *WordCountPolicy {
	if minWords < 1 {
		minWords = defaultMinWords
	}
	return &WordCountPolicy{minWords: minWords}
}

// ShouldDispatch implements Policy.
func (p *WordCountPolicy) ShouldDispatch(suffix, full string) bool {
	return len(strings.Fields(suffix)) > p.minWords
}

// Commit implements Policy. The word gate is stateless; the suffix reset is
// handled by the session's dispatch offset.
func (p *WordCountPolicy) Commit(full string) {}

// SentenceStridePolicy triggers a dispatch when the number of sentences in
// the full snapshot has grown by at least a configured stride since the last
// dispatch. Several sentences arriving in one update still trigger only one
// dispatch.
type SentenceStridePolicy struct {
	stride    int
	lastCount int
}

var _ Policy = (*SentenceStridePolicy)(nil)

const defaultStride = 3

// NewSentenceStridePolicy creates a sentence-count gate. stride values below
// 1 fall back to the default of 3.
func NewSentenceStridePolicy(stride int) *SentenceStridePolicy {
	if stride < 1 {
		stride = defaultStride
	}
	return &SentenceStridePolicy{stride: stride}
}

// ShouldDispatch implements Policy.
func (p *SentenceStridePolicy) ShouldDispatch(suffix, full string) bool {
	if strings.TrimSpace(suffix) == "" {
		return false
	}
	return countSentences(full)-p.lastCount >= p.stride
}

// Commit implements Policy.
func (p *SentenceStridePolicy) Commit(full string) {
	p.lastCount = countSentences(full)
}

// countSentences counts sentence terminators in text. A run of consecutive
// terminators ("?!", "...") counts as a single sentence end.
func countSentences(text string) int {
	count := 0
	inRun := false
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			if !inRun {
				count++
				inRun = true
			}
		default:
			inRun = false
		}
	}
	return count
}
