package stream

import (
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

const (
	// DefaultMinFragmentLength is the fragment length below which only
	// exact-equality dedup applies.
	DefaultMinFragmentLength = 10

	// DefaultSimilarityThreshold is the normalized edit-distance ratio at or
	// above which two fragments are considered duplicates.
	DefaultSimilarityThreshold = 0.85
)

// Deduplicator suppresses content fragments that exactly or approximately
// repeat fragments already emitted within the same response.
//
// Short fragments (fewer than minLength runes) are checked by exact string
// equality. Longer fragments are compared against every previously accepted
// fragment: long priors by normalized Levenshtein similarity, short priors by
// exact equality. The scan over all priors is quadratic in the number of
// fragments per response, which stays in the tens to low hundreds.
//
// A Deduplicator is scoped to one response stream and must not be shared.
type Deduplicator struct {
	minLength int
	threshold float64
	params    *levenshtein.Params

	// sent holds the fragments accepted so far, in emission order.
	sent []string
}

// NewDeduplicator returns a Deduplicator with the given tunables.
// Non-positive values fall back to the defaults.
func NewDeduplicator(minLength int, threshold float64) *Deduplicator {
	if minLength <= 0 {
		minLength = DefaultMinFragmentLength
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	return &Deduplicator{
		minLength: minLength,
		threshold: threshold,
		params:    levenshtein.NewParams(),
	}
}

// Accept reports whether fragment is new, remembering it when it is. A false
// return means the fragment repeats (exactly or approximately) a previously
// accepted one and must not be emitted.
func (d *Deduplicator) Accept(fragment string) bool {
	if d.isDuplicate(fragment) {
		return false
	}

	d.sent = append(d.sent, fragment)
	return true
}

func (d *Deduplicator) isDuplicate(fragment string) bool {
	if utf8.RuneCountInString(fragment) < d.minLength {
		for _, prior := range d.sent {
			if prior == fragment {
				return true
			}
		}
		return false
	}

	for _, prior := range d.sent {
		if utf8.RuneCountInString(prior) < d.minLength {
			if prior == fragment {
				return true
			}
			continue
		}

		if levenshtein.Similarity(fragment, prior, d.params) >= d.threshold {
			return true
		}
	}

	return false
}
