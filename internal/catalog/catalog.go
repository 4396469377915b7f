// Package catalog is the registry of datasets served by a node.
//
// The catalog owns every dataset and its scheduler task. Mutations (add,
// remove, rename) run in one critical section that updates the id map and
// the scheduler together, so a dataset id is never visible without its task
// or vice versa. Lookups read an immutable snapshot of the map and never
// block.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/soltixdb/gridcat/internal/dataset"
	"github.com/soltixdb/gridcat/internal/logging"
	"github.com/soltixdb/gridcat/internal/metadata"
	"github.com/soltixdb/gridcat/internal/metrics"
	"github.com/soltixdb/gridcat/internal/models"
	"github.com/soltixdb/gridcat/internal/queue"
	"github.com/soltixdb/gridcat/internal/scanner"
	"github.com/soltixdb/gridcat/internal/scheduler"
	"github.com/soltixdb/gridcat/internal/watch"
)

var (
	// ErrNotFound is returned for unknown dataset ids
	ErrNotFound = errors.New("dataset not found")
	// ErrDuplicateID is returned when a dataset id is taken
	ErrDuplicateID = errors.New("dataset id already exists")
	// ErrInvalidID is returned for empty or malformed ids
	ErrInvalidID = errors.New("invalid dataset id")
)

// Options configure a catalog
type Options struct {
	// Scanners resolves definition scanner names (required)
	Scanners *scanner.Registry
	// Scheduler settings for refresh tasks
	Scheduler scheduler.Config
	// ScanParallelism bounds concurrent file scans per refresh
	ScanParallelism int
	// RefreshTimeout bounds one refresh, zero means none
	RefreshTimeout time.Duration

	// Store persists definitions; defaults to a memory store
	Store metadata.Store
	// Queue, when set, receives refresh events and delivers refresh triggers
	Queue    queue.Queue
	Subjects queue.Subjects
	// Metrics, when set, records refresh outcomes
	Metrics *metrics.Metrics
	// WatchDebounce > 0 enables filesystem watching of local datasets
	WatchDebounce time.Duration

	Clock  func() time.Time
	Logger *logging.Logger
}

type datasetMap = map[string]*dataset.Dataset

// Catalog manages the datasets of a node
type Catalog struct {
	opts   Options
	logger *logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	datasets  atomic.Pointer[datasetMap]
	scheduler *scheduler.Scheduler
	watcher   *watch.Watcher
	started   bool
	stopped   bool

	persistMu  sync.Mutex
	lastUpdate atomic.Pointer[time.Time]
}

// publishTimeout bounds delivery of one refresh event
const publishTimeout = 5 * time.Second

// New creates an empty catalog. Datasets start refreshing as soon as they
// are added.
func New(opts Options) (*Catalog, error) {
	if opts.Scanners == nil {
		return nil, fmt.Errorf("catalog requires a scanner registry")
	}
	if opts.Store == nil {
		opts.Store = metadata.NewMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	c := &Catalog{
		opts:      opts,
		logger:    logging.OrGlobal(opts.Logger),
		now:       opts.Clock,
		scheduler: scheduler.New(opts.Scheduler, opts.Logger),
	}
	empty := datasetMap{}
	c.datasets.Store(&empty)
	c.lastUpdate.Store(&time.Time{})

	if opts.WatchDebounce > 0 {
		w, err := watch.New(opts.WatchDebounce, c.invalidate, opts.Logger)
		if err != nil {
			return nil, err
		}
		c.watcher = w
	}

	if opts.Metrics != nil {
		states := []string{
			dataset.NeedsRefresh.String(), dataset.Loading.String(), dataset.Updating.String(),
			dataset.Ready.String(), dataset.Error.String(),
		}
		if err := opts.Metrics.RegisterStates(states, c.stateCounts); err != nil {
			return nil, fmt.Errorf("failed to register state metrics: %w", err)
		}
	}
	return c, nil
}

// Load restores the catalog from the store. When nothing was saved yet the
// given definitions are used and saved. Definitions that cannot be turned
// into datasets are logged and skipped.
func (c *Catalog) Load(ctx context.Context, initial []models.DatasetDefinition) error {
	defs, err := c.opts.Store.LoadDefinitions(ctx)
	fromStore := true
	if errors.Is(err, metadata.ErrNoDefinitions) {
		defs, fromStore = initial, false
	} else if err != nil {
		return fmt.Errorf("failed to load dataset definitions: %w", err)
	}

	if last, err := c.opts.Store.LastUpdateTime(ctx); err != nil {
		c.logger.Warn("Cannot read last update time", "error", err)
	} else {
		c.lastUpdate.Store(&last)
	}

	loaded := 0
	for _, def := range defs {
		if _, err := c.add(def); err != nil {
			c.logger.Error("Skipping dataset definition", "dataset_id", def.ID, "error", err)
			continue
		}
		loaded++
	}
	c.logger.Info("Catalog loaded", "datasets", loaded, "from_store", fromStore)

	if !fromStore {
		return c.persist(ctx)
	}
	return nil
}

// Start begins watching local files and listening for refresh triggers
func (c *Catalog) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return nil
	}
	c.started = true

	if c.watcher != nil {
		c.watcher.Start()
	}
	if c.opts.Queue != nil {
		if err := c.opts.Queue.Subscribe(c.opts.Subjects.Trigger(), c.handleTrigger); err != nil {
			return fmt.Errorf("failed to subscribe to refresh triggers: %w", err)
		}
	}
	return nil
}

// Stop cancels all refresh tasks and waits for running refreshes to return
func (c *Catalog) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	if started && c.opts.Queue != nil {
		_ = c.opts.Queue.Unsubscribe(c.opts.Subjects.Trigger())
	}
	c.scheduler.Stop()
	if c.watcher != nil {
		c.watcher.Stop()
	}
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" || id != strings.TrimSpace(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if strings.ContainsAny(id, "/?#") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidID, id)
	}
	return nil
}

func (c *Catalog) snapshot() datasetMap {
	return *c.datasets.Load()
}

// replaceLocked installs a modified copy of the map. Caller holds c.mu.
func (c *Catalog) replaceLocked(mutate func(m datasetMap)) {
	old := c.snapshot()
	next := make(datasetMap, len(old)+1)
	for id, ds := range old {
		next[id] = ds
	}
	mutate(next)
	c.datasets.Store(&next)
}

// add creates and schedules a dataset without persisting
func (c *Catalog) add(def models.DatasetDefinition) (*dataset.Dataset, error) {
	if err := validID(def.ID); err != nil {
		return nil, err
	}
	sc, err := c.opts.Scanners.Get(def.Scanner)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", def.ID, err)
	}
	ds, err := dataset.New(def, dataset.Options{
		Scanner:     sc,
		Parallelism: c.opts.ScanParallelism,
		Timeout:     c.opts.RefreshTimeout,
		Clock:       c.now,
		Logger:      c.opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.snapshot()[def.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, def.ID)
	}
	c.replaceLocked(func(m datasetMap) { m[def.ID] = ds })
	if err := c.scheduler.Schedule(def.ID, c.refresher(ds)); err != nil {
		c.replaceLocked(func(m datasetMap) { delete(m, def.ID) })
		return nil, err
	}
	c.watchLocked(def.ID, def.Location)
	return ds, nil
}

// watchLocked registers a dataset's directories with the watcher. The
// caller holds c.mu so the registration cannot race a rename.
func (c *Catalog) watchLocked(id, location string) {
	if c.watcher == nil {
		return
	}
	if err := c.watcher.Watch(id, location); err != nil {
		c.logger.Warn("Failed to watch dataset location",
			"dataset_id", id, "location", scanner.Redact(location), "error", err)
	}
}

// AddDataset adds a dataset and schedules its first refresh
func (c *Catalog) AddDataset(ctx context.Context, def models.DatasetDefinition) (*dataset.Dataset, error) {
	ds, err := c.add(def)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Dataset added", "dataset_id", def.ID, "location", scanner.Redact(def.Location))
	return ds, c.persist(ctx)
}

// RemoveDataset removes a dataset and cancels its refresh task
func (c *Catalog) RemoveDataset(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, ok := c.snapshot()[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.replaceLocked(func(m datasetMap) { delete(m, id) })
	c.scheduler.Cancel(id)
	if c.watcher != nil {
		c.watcher.Unwatch(id)
	}
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.ForgetDataset(id)
	}
	c.logger.Info("Dataset removed", "dataset_id", id)
	return c.persist(ctx)
}

// ChangeDatasetID renames a dataset. The dataset keeps its layers and task
// and is refreshed under the new id.
func (c *Catalog) ChangeDatasetID(ctx context.Context, oldID, newID string) error {
	if err := validID(newID); err != nil {
		return err
	}

	c.mu.Lock()
	m := c.snapshot()
	ds, ok := m[oldID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, oldID)
	}
	if oldID == newID {
		c.mu.Unlock()
		return nil
	}
	if _, taken := m[newID]; taken {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, newID)
	}
	if err := c.scheduler.Rename(oldID, newID); err != nil {
		c.mu.Unlock()
		return err
	}
	c.replaceLocked(func(m datasetMap) {
		delete(m, oldID)
		m[newID] = ds
	})
	ds.Rename(newID)
	if c.watcher != nil {
		c.watcher.Rename(oldID, newID)
	}
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.ForgetDataset(oldID)
	}
	c.logger.Info("Dataset renamed", "old_id", oldID, "dataset_id", newID)
	return c.persist(ctx)
}

// GetDatasetByID returns a dataset
func (c *Catalog) GetDatasetByID(id string) (*dataset.Dataset, error) {
	ds, ok := c.snapshot()[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ds, nil
}

// GetAllDatasets returns all datasets sorted by id
func (c *Catalog) GetAllDatasets() []*dataset.Dataset {
	m := c.snapshot()
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*dataset.Dataset, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}

// Len returns the number of datasets
func (c *Catalog) Len() int {
	return len(c.snapshot())
}

// LastUpdateTime returns the time of the last successful refresh of any dataset
func (c *Catalog) LastUpdateTime() time.Time {
	return *c.lastUpdate.Load()
}

// ForceRefresh clears a dataset's error state and refreshes it on the next tick
func (c *Catalog) ForceRefresh(id string) error {
	ds, err := c.GetDatasetByID(id)
	if err != nil {
		return err
	}
	ds.ForceRefresh()
	return nil
}

// SetDisabled freezes or unfreezes a dataset
func (c *Catalog) SetDisabled(ctx context.Context, id string, disabled bool) error {
	ds, err := c.GetDatasetByID(id)
	if err != nil {
		return err
	}
	ds.SetDisabled(disabled)
	return c.persist(ctx)
}

// SetLocation changes a dataset's location and forces a refresh
func (c *Catalog) SetLocation(ctx context.Context, id, location string) error {
	c.mu.Lock()
	ds, ok := c.snapshot()[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := ds.SetLocation(location); err != nil {
		c.mu.Unlock()
		return err
	}
	c.watchLocked(id, location)
	c.mu.Unlock()
	return c.persist(ctx)
}

// SetUpdateInterval changes how often a loaded dataset is rescanned
func (c *Catalog) SetUpdateInterval(ctx context.Context, id string, minutes int) error {
	ds, err := c.GetDatasetByID(id)
	if err != nil {
		return err
	}
	ds.SetUpdateInterval(minutes)
	return c.persist(ctx)
}

// SetTitle changes a dataset's display title
func (c *Catalog) SetTitle(ctx context.Context, id, title string) error {
	ds, err := c.GetDatasetByID(id)
	if err != nil {
		return err
	}
	ds.SetTitle(title)
	return c.persist(ctx)
}

// Definitions returns the definitions of all datasets sorted by id
func (c *Catalog) Definitions() []models.DatasetDefinition {
	all := c.GetAllDatasets()
	defs := make([]models.DatasetDefinition, len(all))
	for i, ds := range all {
		defs[i] = ds.Definition()
	}
	return defs
}

// persist saves the current definitions. Concurrent calls are serialized
// and each saves the state at the time it runs, so the last write wins
// with the newest state.
func (c *Catalog) persist(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if err := c.opts.Store.SaveDefinitions(ctx, c.Definitions()); err != nil {
		c.logger.Error("Failed to save dataset definitions", "error", err)
		return fmt.Errorf("failed to save dataset definitions: %w", err)
	}
	return nil
}

func (c *Catalog) invalidate(id string) {
	if ds, err := c.GetDatasetByID(id); err == nil {
		ds.Invalidate()
	}
}

func (c *Catalog) stateCounts() map[string]int {
	counts := make(map[string]int)
	for _, ds := range c.snapshot() {
		counts[ds.State().String()]++
	}
	return counts
}

// refresher wraps a dataset refresh with the catalog's bookkeeping
func (c *Catalog) refresher(ds *dataset.Dataset) scheduler.Refresher {
	return scheduler.RefresherFunc(func(ctx context.Context) dataset.Outcome {
		ctx = logging.WithDatasetID(ctx, ds.ID())
		outcome := ds.Refresh(ctx)
		if outcome.Attempted {
			c.handleOutcome(ctx, ds, outcome)
		}
		return outcome
	})
}

// handleOutcome records an attempted refresh. Outcomes of datasets removed
// while refreshing are dropped.
func (c *Catalog) handleOutcome(ctx context.Context, ds *dataset.Dataset, outcome dataset.Outcome) {
	id := ds.ID()
	if current, ok := c.snapshot()[id]; !ok || current != ds {
		return
	}

	kind := dataset.Classify(outcome.Err)
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveRefresh(id, outcome.Err, string(kind), outcome.Finished.Sub(outcome.Started), outcome.Layers)
	}

	if outcome.Succeeded() {
		finished := outcome.Finished
		c.lastUpdate.Store(&finished)
		if err := c.opts.Store.SetLastUpdateTime(ctx, finished); err != nil {
			c.logger.WithContext(ctx).Warn("Failed to save last update time", "error", err)
		}
		_ = c.persist(ctx)
	}

	c.publish(ctx, id, kind, outcome)
}

func (c *Catalog) publish(ctx context.Context, id string, kind dataset.Kind, outcome dataset.Outcome) {
	if c.opts.Queue == nil {
		return
	}

	event := models.RefreshEvent{
		EventID:   uuid.New().String(),
		DatasetID: id,
		State:     outcome.State.String(),
		Success:   outcome.Succeeded(),
		ErrorKind: string(kind),
		Layers:    outcome.Layers,
		Started:   outcome.Started,
		Finished:  outcome.Finished,
	}
	subject := c.opts.Subjects.Refreshed()
	if outcome.Err != nil {
		event.Error = outcome.Err.Error()
		subject = c.opts.Subjects.Failed()
	}

	data, err := json.Marshal(event)
	if err != nil {
		c.logger.WithContext(ctx).Error("Failed to encode refresh event", "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := c.opts.Queue.Publish(pubCtx, subject, data); err != nil {
		c.logger.WithContext(ctx).Warn("Failed to publish refresh event", "subject", subject, "error", err)
	}
}

// handleTrigger forces a refresh requested over the queue. Unknown ids are
// ignored since triggers are broadcast to every node.
func (c *Catalog) handleTrigger(data []byte) error {
	var trigger models.RefreshTrigger
	if err := json.Unmarshal(data, &trigger); err != nil {
		c.logger.Warn("Ignoring malformed refresh trigger", "error", err)
		return err
	}
	if err := c.ForceRefresh(trigger.DatasetID); err != nil {
		c.logger.Debug("Refresh trigger for unknown dataset", "dataset_id", trigger.DatasetID)
		return nil
	}
	c.logger.Info("Refresh triggered", "dataset_id", trigger.DatasetID)
	return nil
}
