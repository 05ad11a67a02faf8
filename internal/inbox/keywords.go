package inbox

import (
	"errors"
	"slices"
	"strings"
)

// ErrEmptyKeyword is returned when a keyword is blank after trimming.
var ErrEmptyKeyword = errors.New("keyword is empty")

// DefaultKeywords is the default of the -keywords flag.
var DefaultKeywords = []string{"AI", "startup", "generative AI"}

// KeywordSet is an insertion-ordered set of non-empty keywords.
// Deduplication is case-sensitive. It is not safe for concurrent use;
// the Inbox loop owns it.
type KeywordSet struct {
	items []string
}

// NewKeywordSet builds a set from seed, skipping blanks and duplicates.
func NewKeywordSet(seed ...string) *KeywordSet {
	ks := &KeywordSet{}
	for _, kw := range seed {
		_, _ = ks.Add(kw)
	}
	return ks
}

// Add trims kw and inserts it. It reports whether the keyword was new.
func (ks *KeywordSet) Add(kw string) (bool, error) {
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return false, ErrEmptyKeyword
	}
	if slices.Contains(ks.items, kw) {
		return false, nil
	}
	ks.items = append(ks.items, kw)
	return true, nil
}

// Remove deletes kw and reports whether it was present.
func (ks *KeywordSet) Remove(kw string) bool {
	i := slices.Index(ks.items, kw)
	if i < 0 {
		return false
	}
	ks.items = slices.Delete(ks.items, i, i+1)
	return true
}

// List returns a copy of the keywords in insertion order.
func (ks *KeywordSet) List() []string {
	return slices.Clone(ks.items)
}

// Len returns the number of keywords.
func (ks *KeywordSet) Len() int { return len(ks.items) }
