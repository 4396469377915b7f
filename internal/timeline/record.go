package timeline

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingFile is returned when a record is built without a file reference
	ErrMissingFile = errors.New("timestep record requires a file reference")

	// ErrNegativeIndex is returned when a record is built with indexInFile < 0
	ErrNegativeIndex = errors.New("timestep record requires a non-negative index")
)

// Record is one timestep of a layer: the instant, the file that holds it and
// the position of that instant within the file.
//
// Records are values. Timestamps are truncated to millisecond precision so two
// files reporting the same instant with different sub-millisecond noise still
// collide.
type Record struct {
	time  time.Time
	file  string
	index int
}

// NewRecord validates and builds a Record
func NewRecord(t time.Time, file string, index int) (Record, error) {
	if file == "" {
		return Record{}, ErrMissingFile
	}
	if index < 0 {
		return Record{}, fmt.Errorf("%w: %d", ErrNegativeIndex, index)
	}
	return Record{time: t.UTC().Truncate(time.Millisecond), file: file, index: index}, nil
}

// Time returns the instant of the record
func (r Record) Time() time.Time { return r.time }

// File returns the file (or URL) holding the timestep
func (r Record) File() string { return r.file }

// Index returns the index of the timestep within File
func (r Record) Index() int { return r.index }

func (r Record) String() string {
	return fmt.Sprintf("%s@%s[%d]", r.time.Format(time.RFC3339Nano), r.file, r.index)
}
