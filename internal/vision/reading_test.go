package vision

import "testing"

func TestReduceBestReading(t *testing.T) {
	const minConf = 0.02

	// First clearing reading is accepted.
	best := ReduceBestReading(nil, Reading{Text: "KJF-9371", Confidence: 0.30}, minConf)
	if best == nil || best.Text != "KJF-9371" || best.Confidence != 0.30 {
		t.Fatalf("first reading not accepted: %+v", best)
	}

	// Lower confidence never replaces the best, even with different text.
	next := ReduceBestReading(best, Reading{Text: "KJF-937I", Confidence: 0.10}, minConf)
	if next != best {
		t.Fatalf("lower-confidence reading replaced best: %+v", next)
	}

	// Equal confidence keeps the first-accepted text.
	next = ReduceBestReading(best, Reading{Text: "XXX-0000", Confidence: 0.30}, minConf)
	if next != best {
		t.Fatalf("equal-confidence reading replaced best: %+v", next)
	}

	// Strictly higher confidence replaces.
	next = ReduceBestReading(best, Reading{Text: "KJF-9371", Confidence: 0.55}, minConf)
	if next == best || next.Confidence != 0.55 {
		t.Fatalf("higher-confidence reading not accepted: %+v", next)
	}
}

func TestReduceBestReadingThreshold(t *testing.T) {
	const minConf = 0.02

	// Below the threshold: discarded even with no best yet.
	if got := ReduceBestReading(nil, Reading{Text: "ABC-1234", Confidence: 0.01}, minConf); got != nil {
		t.Fatalf("sub-threshold reading accepted: %+v", got)
	}
	// Exactly at the threshold: still discarded, the bound is strict.
	if got := ReduceBestReading(nil, Reading{Text: "ABC-1234", Confidence: 0.02}, minConf); got != nil {
		t.Fatalf("at-threshold reading accepted: %+v", got)
	}
	if got := ReduceBestReading(nil, Reading{Text: "ABC-1234", Confidence: 0.021}, minConf); got == nil {
		t.Fatal("reading just above threshold rejected")
	}
}

func TestReduceBestReadingDoesNotAliasCandidate(t *testing.T) {
	candidate := Reading{Text: "ABC-1234", Confidence: 0.5}
	best := ReduceBestReading(nil, candidate, 0.02)
	candidate.Text = "mutated"
	if best.Text != "ABC-1234" {
		t.Fatalf("reducer aliased the candidate: %+v", best)
	}
}
