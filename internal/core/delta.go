package core

import (
	"sort"
)

// Delta is the change applied to one phrase_statistics row
type Delta struct {
	Occurrences    int `json:"occurrences"`
	EmailsAffected int `json:"emails_affected"`
}

// PhraseDelta pairs a phrase with its delta
type PhraseDelta struct {
	Phrase string `json:"phrase"`
	Delta  Delta  `json:"delta"`
}

// ComputeDelta returns the ledger change for a phrase whose count within a
// single email moves from oldCount to newCount.
func ComputeDelta(oldCount, newCount int) Delta {
	d := Delta{Occurrences: newCount - oldCount}
	switch {
	case oldCount == 0 && newCount > 0:
		d.EmailsAffected = 1
	case oldCount > 0 && newCount == 0:
		d.EmailsAffected = -1
	}
	return d
}

// IsZero reports whether applying the delta would change nothing
func (d Delta) IsZero() bool {
	return d.Occurrences == 0 && d.EmailsAffected == 0
}

// Additive reports whether the delta adds to either counter. Only additive
// deltas move last_seen.
func (d Delta) Additive() bool {
	return d.Occurrences > 0 || d.EmailsAffected > 0
}

// Negate returns the delta with both counters sign flipped
func (d Delta) Negate() Delta {
	return Delta{Occurrences: -d.Occurrences, EmailsAffected: -d.EmailsAffected}
}

// PhraseDeltas computes the deltas for every phrase present in either count
// map. Zero deltas are dropped and the result is ordered by phrase so that
// concurrent transactions touch ledger rows in the same order.
func PhraseDeltas(old, updated PhraseCounts) []PhraseDelta {
	phrases := make(map[string]struct{}, len(old)+len(updated))
	for p := range old {
		phrases[p] = struct{}{}
	}
	for p := range updated {
		phrases[p] = struct{}{}
	}

	deltas := make([]PhraseDelta, 0, len(phrases))
	for p := range phrases {
		d := ComputeDelta(old[p], updated[p])
		if d.IsZero() {
			continue
		}
		deltas = append(deltas, PhraseDelta{Phrase: p, Delta: d})
	}
	sortDeltas(deltas)
	return deltas
}

// RemovalDeltas returns the deltas that remove a whole email's findings
func RemovalDeltas(counts PhraseCounts) []PhraseDelta {
	return PhraseDeltas(counts, nil)
}

// TallyDeltas returns the negative deltas for a retention sweep
func TallyDeltas(tallies []PhraseTally) []PhraseDelta {
	deltas := make([]PhraseDelta, 0, len(tallies))
	for _, t := range tallies {
		d := Delta{Occurrences: -t.Occurrences, EmailsAffected: -t.Emails}
		if d.IsZero() {
			continue
		}
		deltas = append(deltas, PhraseDelta{Phrase: t.Phrase, Delta: d})
	}
	sortDeltas(deltas)
	return deltas
}

func sortDeltas(deltas []PhraseDelta) {
	sort.Slice(deltas, func(i, j int) bool {
		return deltas[i].Phrase < deltas[j].Phrase
	})
}
