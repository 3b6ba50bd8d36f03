// Package dedup filters listing entries against the identifiers already
// archived.
package dedup

import (
	"strings"

	"github.com/sells-group/valueup-cli/internal/model"
)

// IDSet is a set of archived unique identifiers. The zero value is not
// usable; create one with NewIDSet.
type IDSet struct {
	ids map[string]struct{}
}

// NewIDSet builds a set from ids, ignoring blanks.
func NewIDSet(ids ...string) *IDSet {
	s := &IDSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id. Surrounding whitespace is ignored.
func (s *IDSet) Add(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.ids[id] = struct{}{}
}

// Has reports whether id is in the set.
func (s *IDSet) Has(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids[strings.TrimSpace(id)]
	return ok
}

// Len returns the number of identifiers.
func (s *IDSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// FilterNew returns entries whose UniqueID is not in existing, preserving
// order. Repeats within entries are kept once.
func FilterNew(entries []model.DisclosureEntry, existing *IDSet) []model.DisclosureEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]model.DisclosureEntry, 0, len(entries))
	for _, e := range entries {
		if existing.Has(e.UniqueID) {
			continue
		}
		if _, dup := seen[e.UniqueID]; dup {
			continue
		}
		seen[e.UniqueID] = struct{}{}
		out = append(out, e)
	}
	return out
}
