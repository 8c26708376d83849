package book

// Verdict classifies an incoming delta against the last applied sequence.
type Verdict int

const (
	// VerdictApply means the delta is the expected next update.
	VerdictApply Verdict = iota
	// VerdictDuplicate means the delta was already applied and must be ignored.
	VerdictDuplicate
	// VerdictGap means at least one update was missed and the book can no
	// longer be trusted.
	VerdictGap
)

// SequenceRule encodes a venue's numbering contract. Venues disagree on what
// "next" means, so the book takes the predicate from the adapter instead of
// hardcoding one rule.
type SequenceRule func(last, start, end uint64) Verdict

// SpanRule matches Binance depth-diff numbering: each event covers the update
// id range [start, end], and the expected next event satisfies
// start <= last+1 <= end.
func SpanRule(last, start, end uint64) Verdict {
	switch {
	case end <= last:
		return VerdictDuplicate
	case start <= last+1 && last+1 <= end:
		return VerdictApply
	default:
		return VerdictGap
	}
}

// StrictRule matches venues with a single strictly increasing per-book update
// id (Bybit). Consecutive ids are not guaranteed, only monotonicity, so any
// id above the last applied one is accepted.
func StrictRule(last, _, end uint64) Verdict {
	if end <= last {
		return VerdictDuplicate
	}
	return VerdictApply
}

// ConsecutiveRule is the textbook rule: exactly last+1 applies, anything
// beyond it is a gap. Used by tests and venues with dense numbering.
func ConsecutiveRule(last, start, end uint64) Verdict {
	switch {
	case end <= last:
		return VerdictDuplicate
	case start == last+1:
		return VerdictApply
	default:
		return VerdictGap
	}
}
