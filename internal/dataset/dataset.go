// Package dataset implements the lifecycle of one dataset: the refresh state
// machine, error backoff and the atomically published layer set.
//
// Readers (ID, State, Layers, Layer, ...) never block on an in-flight
// refresh: a refresh builds a complete new layer set and installs it with a
// single pointer swap. Administrative setters only influence the next
// scheduling decision.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soltixdb/gridcat/internal/logging"
	"github.com/soltixdb/gridcat/internal/models"
	"github.com/soltixdb/gridcat/internal/scanner"
)

// Options configure a dataset
type Options struct {
	// Scanner reads each concrete location of the dataset (required)
	Scanner scanner.MetadataScanner
	// Parallelism bounds concurrent file scans within one refresh
	Parallelism int
	// Timeout bounds a whole refresh; zero means no limit
	Timeout time.Duration
	// Clock defaults to time.Now
	Clock  func() time.Time
	Logger *logging.Logger
}

// pending records a refresh request that arrived while it could not be
// applied (refresh in flight or dataset disabled)
type pending int

const (
	pendingNone pending = iota
	pendingInvalidate
	pendingForce
)

// Dataset is a named collection of files exposed as layers
type Dataset struct {
	scanner     scanner.MetadataScanner
	parallelism int
	timeout     time.Duration
	now         func() time.Time
	logger      *logging.Logger

	mu          sync.RWMutex
	def         models.DatasetDefinition
	state       State
	refreshing  bool
	pending     pending
	lastSuccess time.Time
	lastFailure time.Time
	errCount    int
	lastErr     error
	progress    []string

	layers atomic.Pointer[layerSet]
}

// New creates a dataset in state NeedsRefresh
func New(def models.DatasetDefinition, opts Options) (*Dataset, error) {
	if strings.TrimSpace(def.ID) == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidDefinition)
	}
	if err := scanner.Validate(def.Location); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", def.ID, err)
	}
	if opts.Scanner == nil {
		return nil, fmt.Errorf("%w: dataset %s has no scanner", ErrInvalidDefinition, def.ID)
	}
	if def.Title == "" {
		def.Title = def.ID
	}

	d := &Dataset{
		scanner:     opts.Scanner,
		parallelism: opts.Parallelism,
		timeout:     opts.Timeout,
		now:         opts.Clock,
		logger:      logging.OrGlobal(opts.Logger),
		def:         def,
		state:       NeedsRefresh,
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.layers.Store(emptyLayers)
	return d, nil
}

// ID returns the dataset id
func (d *Dataset) ID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.def.ID
}

// Definition returns a copy of the dataset definition
func (d *Dataset) Definition() models.DatasetDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.def
}

// Title returns the display title
func (d *Dataset) Title() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.def.Title
}

// Location returns the location expression
func (d *Dataset) Location() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.def.Location
}

// Copyright returns the copyright statement with ${year} replaced
func (d *Dataset) Copyright() string {
	d.mu.RLock()
	stmt := d.def.CopyrightStatement
	d.mu.RUnlock()
	return strings.ReplaceAll(stmt, "${year}", strconv.Itoa(d.now().Year()))
}

// State returns the current state
func (d *Dataset) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Disabled reports whether scheduling is frozen
func (d *Dataset) Disabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.def.Disabled
}

// IsReady reports whether layers can be served: enabled and Ready or Updating
func (d *Dataset) IsReady() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.def.Disabled && (d.state == Ready || d.state == Updating)
}

// IsLoading reports whether the dataset is waiting for its first data
func (d *Dataset) IsLoading() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.def.Disabled && (d.state == NeedsRefresh || d.state == Loading)
}

// IsError reports whether the last refresh failed
func (d *Dataset) IsError() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr != nil
}

// Err returns the error of the last refresh, or nil
func (d *Dataset) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

// LastSuccess returns the time of the last successful refresh (zero if none)
func (d *Dataset) LastSuccess() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSuccess
}

// LastFailure returns the time of the last failed refresh (zero if none)
func (d *Dataset) LastFailure() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastFailure
}

// ConsecutiveErrors returns the number of failures since the last success
func (d *Dataset) ConsecutiveErrors() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.errCount
}

// LoadingProgress returns the stages reached by the current or last refresh
func (d *Dataset) LoadingProgress() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.progress...)
}

// Layers returns the published layers sorted by id
func (d *Dataset) Layers() []*Layer {
	return d.layers.Load().list()
}

// Layer returns one published layer
func (d *Dataset) Layer(id string) (*Layer, error) {
	l, ok := d.layers.Load().byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	return l, nil
}

// ForceRefresh clears the error state and schedules a refresh on the next
// tick. While disabled or refreshing the request is deferred until it can
// be applied.
func (d *Dataset) ForceRefresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.def.Disabled || d.refreshing {
		d.pending = pendingForce
		return
	}
	d.forceLocked()
}

func (d *Dataset) forceLocked() {
	d.pending = pendingNone
	d.lastErr = nil
	d.state = NeedsRefresh
}

// Invalidate marks a Ready dataset stale because its files changed.
// Unlike ForceRefresh it leaves failing datasets to their backoff.
func (d *Dataset) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.def.Disabled {
		return
	}
	if d.refreshing {
		if d.pending == pendingNone {
			d.pending = pendingInvalidate
		}
		return
	}
	if d.state == Ready {
		d.state = NeedsRefresh
	}
}

// SetDisabled freezes or unfreezes scheduling. A refresh requested while
// disabled is applied on re-enable.
func (d *Dataset) SetDisabled(disabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.def.Disabled = disabled
	if !disabled && !d.refreshing {
		d.applyPendingLocked()
	}
}

// SetLocation changes the location and forces a refresh.
// Invalid locations are rejected immediately.
func (d *Dataset) SetLocation(location string) error {
	if err := scanner.Validate(location); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if location == d.def.Location {
		return nil
	}
	d.def.Location = location
	if d.def.Disabled || d.refreshing {
		d.pending = pendingForce
		return nil
	}
	d.forceLocked()
	return nil
}

// SetUpdateInterval changes the update interval in minutes (< 0: never)
func (d *Dataset) SetUpdateInterval(minutes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.def.UpdateInterval = minutes
}

// SetTitle changes the display title
func (d *Dataset) SetTitle(title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.def.Title = title
}

// Rename changes the dataset id and forces a refresh under the new id.
// Only the catalog that owns the dataset may call it.
func (d *Dataset) Rename(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.def.ID = id
	if d.def.Disabled || d.refreshing {
		d.pending = pendingForce
		return
	}
	d.forceLocked()
}

func (d *Dataset) applyPendingLocked() {
	switch d.pending {
	case pendingForce:
		d.forceLocked()
	case pendingInvalidate:
		d.pending = pendingNone
		if d.state == Ready {
			d.state = NeedsRefresh
		}
	}
}

// Status is a consistent snapshot for administrative consumers
type Status struct {
	Definition        models.DatasetDefinition
	State             State
	Err               error
	ConsecutiveErrors int
	LastSuccess       time.Time
	LastFailure       time.Time
	NextAttempt       time.Time
	Layers            int
}

// Status returns a snapshot of the dataset bookkeeping
func (d *Dataset) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{
		Definition:        d.def,
		State:             d.state,
		Err:               d.lastErr,
		ConsecutiveErrors: d.errCount,
		LastSuccess:       d.lastSuccess,
		LastFailure:       d.lastFailure,
		Layers:            len(d.layers.Load().order),
	}
	switch {
	case d.def.Disabled || d.refreshing:
	case d.state == NeedsRefresh:
		st.NextAttempt = d.now()
	case d.state == Error:
		st.NextAttempt = d.lastFailure.Add(BackoffDelay(d.errCount))
	case d.state == Ready && d.def.UpdateInterval >= 0:
		st.NextAttempt = d.lastSuccess.Add(time.Duration(d.def.UpdateInterval) * time.Minute)
	}
	return st
}
