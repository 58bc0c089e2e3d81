package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeDelta(t *testing.T) {
	tests := []struct {
		name          string
		before, after int
		want          Delta
	}{
		{"phrase appears", 0, 3, Delta{Occurrences: 3, EmailsAffected: 1}},
		{"phrase disappears", 2, 0, Delta{Occurrences: -2, EmailsAffected: -1}},
		{"count grows", 1, 4, Delta{Occurrences: 3}},
		{"count shrinks", 4, 1, Delta{Occurrences: -3}},
		{"count unchanged", 2, 2, Delta{}},
		{"absent both times", 0, 0, Delta{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeDelta(tt.before, tt.after))
		})
	}
}

func TestDeltaPredicates(t *testing.T) {
	assert.True(t, Delta{}.IsZero())
	assert.True(t, Delta{Occurrences: 1}.Additive())
	assert.True(t, Delta{EmailsAffected: 1}.Additive())
	assert.False(t, Delta{Occurrences: -1, EmailsAffected: -1}.Additive())
	assert.Equal(t, Delta{Occurrences: 2, EmailsAffected: 1}, Delta{Occurrences: -2, EmailsAffected: -1}.Negate())
}

func TestPhraseDeltasCoversUnionInPhraseOrder(t *testing.T) {
	old := PhraseCounts{"urgent_action": 2, "click_here": 1, "steady": 1}
	updated := PhraseCounts{"urgent_action": 1, "new_phrase": 2, "steady": 1}

	got := PhraseDeltas(old, updated)

	assert.Equal(t, []PhraseDelta{
		{Phrase: "click_here", Delta: Delta{Occurrences: -1, EmailsAffected: -1}},
		{Phrase: "new_phrase", Delta: Delta{Occurrences: 2, EmailsAffected: 1}},
		{Phrase: "urgent_action", Delta: Delta{Occurrences: -1}},
	}, got)
}

func TestRemovalAndTallyDeltas(t *testing.T) {
	assert.Equal(t, []PhraseDelta{
		{Phrase: "a", Delta: Delta{Occurrences: -2, EmailsAffected: -1}},
		{Phrase: "b", Delta: Delta{Occurrences: -1, EmailsAffected: -1}},
	}, RemovalDeltas(PhraseCounts{"b": 1, "a": 2}))

	assert.Equal(t, []PhraseDelta{
		{Phrase: "x", Delta: Delta{Occurrences: -5, EmailsAffected: -3}},
	}, TallyDeltas([]PhraseTally{{Phrase: "x", Occurrences: 5, Emails: 3}, {Phrase: "empty"}}))
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Fingerprint(nil))
	assert.Len(t, Fingerprint([]byte("hello")), 64)
	assert.Equal(t, Fingerprint([]byte("same")), Fingerprint([]byte("same")))
	assert.NotEqual(t, Fingerprint([]byte("same")), Fingerprint([]byte("same ")))
}

func TestCountFindings(t *testing.T) {
	counts := CountFindings([]FindingInput{{Phrase: "a"}, {Phrase: "b"}, {Phrase: "a"}})
	assert.Equal(t, PhraseCounts{"a": 2, "b": 1}, counts)
}
