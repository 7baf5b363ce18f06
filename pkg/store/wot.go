package store

import "github.com/dpc/rostra/pkg/identity"

// WotData is the recomputed web-of-trust snapshot: the local
// identity's followees and, transitively, their followees, one hop
// deep (spec.md §4.4.3, §4.7.5). It is immutable once published —
// callers get a fresh snapshot from the Wot watch after every
// follow-graph change rather than mutating this one in place.
type WotData struct {
	// Direct is the set of identities the local identity follows.
	Direct map[identity.Id]struct{}
	// Extended additionally includes every identity any Direct
	// followee follows — the one-hop trust extension that the WoT
	// periodic sweep and new-head fetcher iterate over.
	Extended map[identity.Id]struct{}
}

// Contains reports whether id is anywhere in the web of trust.
func (w *WotData) Contains(id identity.Id) bool {
	if w == nil {
		return false
	}
	if _, ok := w.Direct[id]; ok {
		return true
	}
	_, ok := w.Extended[id]
	return ok
}

// All returns every identity in the web of trust, self excluded.
func (w *WotData) All() []identity.Id {
	if w == nil {
		return nil
	}
	seen := make(map[identity.Id]struct{}, len(w.Direct)+len(w.Extended))
	for id := range w.Direct {
		seen[id] = struct{}{}
	}
	for id := range w.Extended {
		seen[id] = struct{}{}
	}
	out := make([]identity.Id, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}
