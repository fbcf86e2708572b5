package feed

import (
	"slices"

	"atpark/internal/domain"
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateError   State = "error"
)

// Snapshot is an immutable view of the feed. Records are newest first in
// repository insertion order and are never re-sorted.
type Snapshot struct {
	Records    []domain.PhotoRecord
	Cursor     string
	HasMore    bool
	State      State
	Degraded   bool
	LastError  string
	Generation uint64
}

// Exhausted reports a loaded feed with nothing left to page through.
func (s Snapshot) Exhausted() bool {
	return s.State == StateLoaded && !s.HasMore
}

func (s Snapshot) clone() Snapshot {
	s.Records = slices.Clone(s.Records)
	return s
}

// The functions below are the feed's reducer. Each returns a new snapshot
// and leaves its input untouched.

func initial() Snapshot {
	return Snapshot{State: StateIdle, HasMore: true}
}

func startRefresh(s Snapshot) Snapshot {
	return Snapshot{State: StateLoading, HasMore: true, Generation: s.Generation + 1}
}

func startMore(s Snapshot) Snapshot {
	next := s.clone()
	next.State = StateLoading
	next.LastError = ""
	return next
}

func reset(s Snapshot) Snapshot {
	next := initial()
	next.Generation = s.Generation + 1
	return next
}

// applyPage appends page behind the held records. Records already held,
// such as an optimistic create, win over their copy in the page. Paging
// follows the fetched page, not the decoded records.
func applyPage(s Snapshot, page domain.PhotoPage, limit int) Snapshot {
	next := s.clone()
	seen := make(map[string]struct{}, len(next.Records)+len(page.Records))
	for _, rec := range next.Records {
		seen[rec.URI] = struct{}{}
	}
	for _, rec := range page.Records {
		if _, ok := seen[rec.URI]; ok {
			continue
		}
		seen[rec.URI] = struct{}{}
		next.Records = append(next.Records, rec)
	}

	next.State = StateLoaded
	next.LastError = ""
	next.HasMore = page.Fetched > 0 && page.Fetched == limit
	if page.Fetched > 0 {
		next.Cursor = page.Cursor
	}
	return next
}

// applyFailure either degrades to the synthetic batch or surfaces err.
// A degraded feed stops paging until the next refresh.
func applyFailure(s Snapshot, err error, degrade bool, synthetic []domain.PhotoRecord) Snapshot {
	next := s.clone()
	if !degrade {
		next.State = StateError
		next.LastError = err.Error()
		return next
	}
	next.State = StateLoaded
	next.Degraded = true
	next.HasMore = false
	next.LastError = ""
	if len(next.Records) == 0 {
		next.Records = synthetic
		next.Cursor = ""
	}
	return next
}

// prepend puts a freshly created record in front. A successful create
// proves the repository is reachable, so synthetic entries go away.
func prepend(s Snapshot, rec domain.PhotoRecord) Snapshot {
	next := s.clone()
	if next.Degraded {
		next.Records = slices.DeleteFunc(next.Records, IsSynthetic)
		next.Degraded = false
	}
	next.Records = slices.DeleteFunc(next.Records, func(r domain.PhotoRecord) bool {
		return r.URI == rec.URI
	})
	next.Records = append([]domain.PhotoRecord{rec}, next.Records...)
	if next.State == StateIdle {
		next.State = StateLoaded
	}
	return next
}
