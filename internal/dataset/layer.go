package dataset

import (
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/soltixdb/gridcat/internal/aggregation"
	"github.com/soltixdb/gridcat/internal/timeline"
)

// Layer is one variable of a dataset. Layers are rebuilt by every successful
// refresh and never modified afterwards.
type Layer struct {
	id       string
	title    string
	units    string
	scanner  string
	timeline *timeline.Timeline

	// file answering requests for layers without a time axis
	defaultFile string
}

// ID returns the variable id
func (l *Layer) ID() string { return l.id }

// Title returns the human-readable name
func (l *Layer) Title() string { return l.title }

// Units returns the units of the variable
func (l *Layer) Units() string { return l.units }

// Scanner returns the name of the scanner that produced the layer
func (l *Layer) Scanner() string { return l.scanner }

// Timeline returns the layer's timeline. It must not be modified.
func (l *Layer) Timeline() *timeline.Timeline { return l.timeline }

// HasTimeAxis reports whether the layer varies in time
func (l *Layer) HasTimeAxis() bool { return l.timeline.Len() > 0 }

// TimeValues yields the layer's instants in ascending order
func (l *Layer) TimeValues() iter.Seq[time.Time] { return l.timeline.TimeValues() }

// FindFileAndIndexForTime resolves an instant to the file holding it and the
// index within that file. Layers without a time axis resolve to the dataset's
// single location with index -1, whatever t is. A zero t selects the latest
// timestep.
func (l *Layer) FindFileAndIndexForTime(t time.Time) (string, int, error) {
	if l.timeline.Len() == 0 {
		return l.defaultFile, -1, nil
	}

	var (
		rec timeline.Record
		ok  bool
	)
	if t.IsZero() {
		rec, ok = l.timeline.Last()
	} else {
		rec, ok = l.timeline.Lookup(t)
	}
	if !ok {
		return "", 0, fmt.Errorf("%w: layer %s at %s", ErrTimeNotFound, l.id, t.UTC().Format(time.RFC3339Nano))
	}
	return rec.File(), rec.Index(), nil
}

// layerSet is the immutable unit swapped in by a refresh
type layerSet struct {
	byID  map[string]*Layer
	order []string
}

var emptyLayers = &layerSet{byID: map[string]*Layer{}}

func newLayerSet(vars map[string]*aggregation.Variable, scannerName, defaultFile string) *layerSet {
	set := &layerSet{byID: make(map[string]*Layer, len(vars)), order: make([]string, 0, len(vars))}
	for id, v := range vars {
		title := v.Title
		if title == "" {
			title = id
		}
		set.byID[id] = &Layer{
			id:          id,
			title:       title,
			units:       v.Units,
			scanner:     scannerName,
			timeline:    v.Timeline,
			defaultFile: defaultFile,
		}
		set.order = append(set.order, id)
	}
	sort.Strings(set.order)
	return set
}

func (s *layerSet) list() []*Layer {
	out := make([]*Layer, len(s.order))
	for i, id := range s.order {
		out[i] = s.byID[id]
	}
	return out
}
