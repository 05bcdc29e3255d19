package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeTitle returns the collision key for a title: trimmed, NFC
// normalized and Unicode case folded, so "Café " and "CAFÉ" collide.
func NormalizeTitle(title string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(title)))
}

// titleIndex maps normalized titles to the local entries carrying them.
type titleIndex map[string][]LocalEntry

func newTitleIndex(entries []LocalEntry) titleIndex {
	idx := make(titleIndex, len(entries))
	for _, e := range entries {
		key := NormalizeTitle(e.Title)
		idx[key] = append(idx[key], e)
	}

	return idx
}

// lookup returns a copy of the entries colliding with title.
func (idx titleIndex) lookup(title string) []LocalEntry {
	matches := idx[NormalizeTitle(title)]
	if len(matches) == 0 {
		return nil
	}

	out := make([]LocalEntry, len(matches))
	copy(out, matches)

	return out
}

// remove drops a deleted local entry.
func (idx titleIndex) remove(id string) {
	for key, entries := range idx {
		kept := entries[:0]
		for _, e := range entries {
			if e.ID != id {
				kept = append(kept, e)
			}
		}

		if len(kept) == 0 {
			delete(idx, key)
		} else {
			idx[key] = kept
		}
	}
}
