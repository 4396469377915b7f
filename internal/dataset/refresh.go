package dataset

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/soltixdb/gridcat/internal/aggregation"
	"github.com/soltixdb/gridcat/internal/scanner"
)

// Outcome reports one call to Refresh
type Outcome struct {
	DatasetID string
	// Attempted is false when the dataset did not need a refresh
	Attempted bool
	State     State
	Err       error
	Layers    int
	Started   time.Time
	Finished  time.Time
}

// Succeeded reports whether a refresh ran and installed new layers
func (o Outcome) Succeeded() bool {
	return o.Attempted && o.Err == nil
}

// NeedsRefresh reports whether the scheduler should refresh the dataset now
func (d *Dataset) NeedsRefresh() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.needsRefreshLocked(d.now())
}

func (d *Dataset) needsRefreshLocked(now time.Time) bool {
	if d.def.Disabled || d.refreshing {
		return false
	}
	switch d.state {
	case Loading, Updating:
		return false
	case NeedsRefresh:
		return true
	case Error:
		return !now.Before(d.lastFailure.Add(BackoffDelay(d.errCount)))
	}
	if d.def.UpdateInterval < 0 {
		return false
	}
	return !now.Before(d.lastSuccess.Add(time.Duration(d.def.UpdateInterval) * time.Minute))
}

// Refresh rescans the dataset if it needs it. On success the new layers
// replace the old ones in a single step; on failure the previous layers stay
// published and the dataset enters Error with backoff. Refresh never runs
// concurrently with itself: a second caller returns without attempting.
func (d *Dataset) Refresh(ctx context.Context) Outcome {
	d.mu.Lock()
	started := d.now()
	if !d.needsRefreshLocked(started) {
		out := Outcome{DatasetID: d.def.ID, State: d.state, Err: d.lastErr}
		d.mu.Unlock()
		return out
	}
	if d.lastSuccess.IsZero() {
		d.state = Loading
	} else {
		d.state = Updating
	}
	d.refreshing = true
	d.progress = d.progress[:0]
	id, location, scannerName := d.def.ID, d.def.Location, d.def.Scanner
	d.mu.Unlock()

	log := d.logger.With("dataset_id", id)
	log.Debug("Refreshing dataset", "location", scanner.Redact(location))

	set, err := d.load(ctx, location, scannerName)

	d.mu.Lock()
	defer d.mu.Unlock()
	finished := d.now()
	d.refreshing = false

	if err != nil {
		prevKind := Classify(d.lastErr)
		d.lastErr = err
		d.errCount++
		d.lastFailure = finished
		d.state = Error
		d.addProgressLocked("Refresh failed: " + err.Error())
		if kind := Classify(err); kind != prevKind {
			log.Error("Dataset refresh failed", "error", err, "kind", string(kind), "consecutive_errors", d.errCount)
		} else {
			log.Debug("Dataset refresh failed again", "error", err, "kind", string(kind), "consecutive_errors", d.errCount)
		}
	} else {
		d.layers.Store(set)
		d.lastErr = nil
		d.errCount = 0
		d.lastSuccess = finished
		d.state = Ready
		d.addProgressLocked("Finished loading metadata")
		log.Info("Dataset refreshed", "layers", len(set.order), "duration", finished.Sub(started).String())
	}

	out := Outcome{
		DatasetID: id,
		Attempted: true,
		State:     d.state,
		Err:       err,
		Layers:    len(d.layers.Load().order),
		Started:   started,
		Finished:  finished,
	}
	if !d.def.Disabled {
		d.applyPendingLocked()
	}
	return out
}

// load builds a new layer set without touching published state
func (d *Dataset) load(ctx context.Context, location, scannerName string) (set *layerSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic during dataset refresh", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	d.addProgress("Resolving location")
	files, err := scanner.Resolve(location)
	if err != nil {
		return nil, err
	}
	d.addProgress(fmt.Sprintf("Found %d files", len(files)))

	var scanned int
	d.addProgress(fmt.Sprintf("Scanned 0 of %d files", len(files)))
	agg := &aggregation.Aggregator{
		Scanner:     d.scanner,
		Parallelism: d.parallelism,
		OnScanned: func(string) {
			d.mu.Lock()
			scanned++
			if n := len(d.progress); n > 0 {
				d.progress[n-1] = fmt.Sprintf("Scanned %d of %d files", scanned, len(files))
			}
			d.mu.Unlock()
		},
	}
	vars, err := agg.Aggregate(ctx, files)
	if err != nil {
		return nil, err
	}

	if scannerName == "" {
		scannerName = scanner.Default
	}
	set = newLayerSet(vars, scannerName, files[0])
	d.addProgress(fmt.Sprintf("Loaded %d layers", len(set.order)))
	return set, nil
}

func (d *Dataset) addProgress(stage string) {
	d.mu.Lock()
	d.addProgressLocked(stage)
	d.mu.Unlock()
}

func (d *Dataset) addProgressLocked(stage string) {
	d.progress = append(d.progress, stage)
}
