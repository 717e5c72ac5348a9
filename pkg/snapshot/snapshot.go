package snapshot

import (
	"time"

	"github.com/3leaps/filecast/pkg/store"
)

// Snapshot is a point-in-time listing of remote objects.
type Snapshot struct {
	// Objects in page arrival order.
	Objects []store.RemoteObject

	// Pages is the number of list calls that produced this snapshot.
	Pages int

	// FetchedAt is when the first page was requested.
	FetchedAt time.Time
}

// Len returns the number of objects.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Objects)
}

// IDs returns object ids in snapshot order.
func (s *Snapshot) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Objects))
	for _, obj := range s.Objects {
		ids = append(ids, obj.ID)
	}
	return ids
}

// Index returns the objects keyed by id.
func (s *Snapshot) Index() map[string]store.RemoteObject {
	idx := make(map[string]store.RemoteObject, s.Len())
	if s == nil {
		return idx
	}
	for _, obj := range s.Objects {
		idx[obj.ID] = obj
	}
	return idx
}
