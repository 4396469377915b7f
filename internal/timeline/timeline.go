package timeline

import (
	"iter"
	"sort"
	"time"
)

// Timeline is the ordered set of timesteps for one layer.
// Records are strictly ascending by time with at most one record per instant.
// When two records claim the same instant, the one with the smaller index in
// its file wins (shorter forecast lead time).
//
// NOT THREAD-SAFE: a Timeline is built by a single refresh and is only shared
// with readers after it has been published. Published timelines are never
// mutated again.
type Timeline struct {
	records []Record
}

// New creates an empty timeline with the given capacity
func New(capacity int) *Timeline {
	return &Timeline{records: make([]Record, 0, capacity)}
}

// Insert adds a timestep, applying the shorter-lead-time rule on duplicates.
// Returns true if the timeline changed.
func (tl *Timeline) Insert(t time.Time, file string, index int) (bool, error) {
	rec, err := NewRecord(t, file, index)
	if err != nil {
		return false, err
	}
	return tl.InsertRecord(rec), nil
}

// InsertRecord inserts an already-validated record.
// O(log N) search, O(N) insert; appends in O(1) when records arrive in order.
func (tl *Timeline) InsertRecord(rec Record) bool {
	n := len(tl.records)

	if n == 0 || rec.time.After(tl.records[n-1].time) {
		tl.records = append(tl.records, rec)
		return true
	}

	idx := tl.search(rec.time)
	if idx < n && tl.records[idx].time.Equal(rec.time) {
		if rec.index < tl.records[idx].index {
			tl.records[idx] = rec
			return true
		}
		return false
	}

	tl.records = append(tl.records, Record{})
	copy(tl.records[idx+1:], tl.records[idx:])
	tl.records[idx] = rec
	return true
}

// search returns the first position whose time is >= t
func (tl *Timeline) search(t time.Time) int {
	return sort.Search(len(tl.records), func(i int) bool {
		return !tl.records[i].time.Before(t)
	})
}

// Find returns the position of the record for instant t, or -1
func (tl *Timeline) Find(t time.Time) int {
	t = t.UTC().Truncate(time.Millisecond)
	idx := tl.search(t)
	if idx < len(tl.records) && tl.records[idx].time.Equal(t) {
		return idx
	}
	return -1
}

// Lookup returns the record for instant t
func (tl *Timeline) Lookup(t time.Time) (Record, bool) {
	idx := tl.Find(t)
	if idx < 0 {
		return Record{}, false
	}
	return tl.records[idx], true
}

// At returns the i-th record
func (tl *Timeline) At(i int) Record {
	return tl.records[i]
}

// Len returns the number of records
func (tl *Timeline) Len() int {
	return len(tl.records)
}

// Records returns a copy of the records
func (tl *Timeline) Records() []Record {
	out := make([]Record, len(tl.records))
	copy(out, tl.records)
	return out
}

// TimeValues yields the instants of the timeline in ascending order.
// The sequence is derived from the timeline each time it is ranged over.
func (tl *Timeline) TimeValues() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for _, rec := range tl.records {
			if !yield(rec.time) {
				return
			}
		}
	}
}

// Times returns the instants as a fresh slice
func (tl *Timeline) Times() []time.Time {
	out := make([]time.Time, 0, len(tl.records))
	for t := range tl.TimeValues() {
		out = append(out, t)
	}
	return out
}

// Range returns the records within [start, end]
func (tl *Timeline) Range(start, end time.Time) []Record {
	from := tl.search(start)
	to := sort.Search(len(tl.records), func(i int) bool {
		return tl.records[i].time.After(end)
	})
	if from >= to {
		return nil
	}
	out := make([]Record, to-from)
	copy(out, tl.records[from:to])
	return out
}

// First returns the earliest record
func (tl *Timeline) First() (Record, bool) {
	if len(tl.records) == 0 {
		return Record{}, false
	}
	return tl.records[0], true
}

// Last returns the latest record
func (tl *Timeline) Last() (Record, bool) {
	if len(tl.records) == 0 {
		return Record{}, false
	}
	return tl.records[len(tl.records)-1], true
}
