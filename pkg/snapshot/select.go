package snapshot

import (
	"github.com/3leaps/filecast/pkg/store"
)

// Normalized is the result of normalizing a list of requested identifiers.
type Normalized struct {
	// IDs are canonical, deduplicated, in first-seen order.
	IDs []string

	// Rejected holds inputs that are not valid identifiers.
	Rejected []string
}

// NormalizeIDs canonicalizes and deduplicates requested identifiers.
func NormalizeIDs(requested []string) Normalized {
	var out Normalized
	seen := make(map[string]struct{}, len(requested))
	for _, raw := range requested {
		id, ok := store.NormalizeID(raw)
		if !ok {
			out.Rejected = append(out.Rejected, raw)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out.IDs = append(out.IDs, id)
	}
	return out
}

// Selection is the result of filtering a snapshot to requested ids.
type Selection struct {
	// Objects present in the snapshot, in snapshot order.
	Objects []store.RemoteObject

	// Requested are the normalized ids that were looked up.
	Requested []string

	// Missing are normalized ids absent from the snapshot.
	Missing []string

	// Rejected are inputs that could not be normalized.
	Rejected []string
}

// Select filters a snapshot to the requested identifiers.
//
// Missing and rejected identifiers are reported, never fatal.
func Select(snap *Snapshot, requested []string) Selection {
	norm := NormalizeIDs(requested)
	sel := Selection{
		Objects:   []store.RemoteObject{},
		Requested: norm.IDs,
		Rejected:  norm.Rejected,
	}

	wanted := make(map[string]struct{}, len(norm.IDs))
	for _, id := range norm.IDs {
		wanted[id] = struct{}{}
	}

	found := make(map[string]struct{}, len(norm.IDs))
	if snap != nil {
		for _, obj := range snap.Objects {
			if _, ok := wanted[obj.ID]; ok {
				sel.Objects = append(sel.Objects, obj)
				found[obj.ID] = struct{}{}
			}
		}
	}

	for _, id := range norm.IDs {
		if _, ok := found[id]; !ok {
			sel.Missing = append(sel.Missing, id)
		}
	}
	return sel
}
