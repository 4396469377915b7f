package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/soltixdb/gridcat/internal/config"
	"github.com/soltixdb/gridcat/internal/dataset"
	"github.com/soltixdb/gridcat/internal/logging"
	"github.com/soltixdb/gridcat/internal/metadata"
	"github.com/soltixdb/gridcat/internal/metrics"
	"github.com/soltixdb/gridcat/internal/models"
	"github.com/soltixdb/gridcat/internal/queue"
	"github.com/soltixdb/gridcat/internal/scanner"
	"github.com/soltixdb/gridcat/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubScanner reports one hourly variable per file, or fails while err is set
type stubScanner struct {
	mu  sync.Mutex
	err error
}

func (s *stubScanner) Scan(ctx context.Context, location string) ([]scanner.VariableTimeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []scanner.VariableTimeInfo{{
		VariableID: "tas",
		Title:      "Air temperature",
		Steps:      []scanner.Timestep{{Time: base, Index: 0}, {Time: base.Add(time.Hour), Index: 1}},
	}}, nil
}

func (s *stubScanner) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type fixture struct {
	catalog *Catalog
	store   *metadata.MemoryStore
	queue   queue.Queue
	scanner *stubScanner
	metrics *metrics.Metrics
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.nc"), []byte("x"), 0o644))

	sc := &stubScanner{}
	registry := scanner.NewRegistry()
	require.NoError(t, registry.Register(scanner.Default, sc))

	q, err := queue.NewQueue(config.QueueConfig{Type: string(queue.TypeMemory)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	f := &fixture{
		store:   metadata.NewMemoryStore(),
		queue:   q,
		scanner: sc,
		metrics: metrics.New(),
		dir:     dir,
	}
	c, err := New(Options{
		Scanners:  registry,
		Scheduler: scheduler.Config{Workers: 2, Delay: 10 * time.Millisecond},
		Store:     f.store,
		Queue:     q,
		Subjects:  queue.Subjects{Prefix: "test"},
		Metrics:   f.metrics,
		Logger:    logging.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	f.catalog = c
	return f
}

func (f *fixture) def(id string) models.DatasetDefinition {
	return models.NewDatasetDefinition(id, filepath.Join(f.dir, "*.nc"))
}

func waitReady(t *testing.T, ds *dataset.Dataset) {
	t.Helper()
	require.Eventually(t, ds.IsReady, 2*time.Second, 5*time.Millisecond)
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestAddDataset_RefreshesAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds, err := f.catalog.AddDataset(ctx, f.def("era5"))
	require.NoError(t, err)
	waitReady(t, ds)

	layer, err := ds.Layer("tas")
	require.NoError(t, err)
	assert.Equal(t, 2, layer.Timeline().Len())

	defs, err := f.store.LoadDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "era5", defs[0].ID)

	require.Eventually(t, func() bool {
		return !f.catalog.LastUpdateTime().IsZero()
	}, time.Second, 5*time.Millisecond)
	stored, err := f.store.LastUpdateTime(ctx)
	require.NoError(t, err)
	assert.False(t, stored.IsZero())
}

func TestAddDataset_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.AddDataset(ctx, f.def("era5"))
	require.NoError(t, err)

	_, err = f.catalog.AddDataset(ctx, f.def("era5"))
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = f.catalog.AddDataset(ctx, f.def(""))
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = f.catalog.AddDataset(ctx, f.def("a/b"))
	assert.ErrorIs(t, err, ErrInvalidID)

	bad := f.def("other")
	bad.Scanner = "grib"
	_, err = f.catalog.AddDataset(ctx, bad)
	assert.ErrorIs(t, err, scanner.ErrUnknownScanner)

	_, err = f.catalog.AddDataset(ctx, models.NewDatasetDefinition("rel", "data/*.nc"))
	assert.ErrorIs(t, err, scanner.ErrNotAbsolute)

	assert.Equal(t, 1, f.catalog.Len())
}

func TestRemoveDataset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds, err := f.catalog.AddDataset(ctx, f.def("era5"))
	require.NoError(t, err)
	waitReady(t, ds)

	require.NoError(t, f.catalog.RemoveDataset(ctx, "era5"))
	_, err = f.catalog.GetDatasetByID("era5")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.catalog.RemoveDataset(ctx, "era5"), ErrNotFound)

	defs, err := f.store.LoadDefinitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)

	// the id is free again
	_, err = f.catalog.AddDataset(ctx, f.def("era5"))
	assert.NoError(t, err)
}

func TestChangeDatasetID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds, err := f.catalog.AddDataset(ctx, f.def("era5"))
	require.NoError(t, err)
	waitReady(t, ds)
	_, err = f.catalog.AddDataset(ctx, f.def("gfs"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.catalog.ChangeDatasetID(ctx, "era5", "gfs"), ErrDuplicateID)
	assert.ErrorIs(t, f.catalog.ChangeDatasetID(ctx, "nope", "x"), ErrNotFound)
	assert.ErrorIs(t, f.catalog.ChangeDatasetID(ctx, "era5", " "), ErrInvalidID)
	assert.NoError(t, f.catalog.ChangeDatasetID(ctx, "era5", "era5"))

	require.NoError(t, f.catalog.ChangeDatasetID(ctx, "era5", "reanalysis"))
	_, err = f.catalog.GetDatasetByID("era5")
	assert.ErrorIs(t, err, ErrNotFound)

	renamed, err := f.catalog.GetDatasetByID("reanalysis")
	require.NoError(t, err)
	assert.Same(t, ds, renamed)
	assert.Equal(t, "reanalysis", renamed.ID())
	waitReady(t, renamed)

	defs, err := f.store.LoadDefinitions(ctx)
	require.NoError(t, err)
	ids := []string{defs[0].ID, defs[1].ID}
	assert.Equal(t, []string{"gfs", "reanalysis"}, ids)
}

func TestGetAllDatasets_Sorted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		_, err := f.catalog.AddDataset(ctx, f.def(id))
		require.NoError(t, err)
	}

	var ids []string
	for _, ds := range f.catalog.GetAllDatasets() {
		ids = append(ids, ds.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestLoad_FallbackThenStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	initial := []models.DatasetDefinition{
		f.def("era5"),
		models.NewDatasetDefinition("broken", "relative/*.nc"),
	}
	require.NoError(t, f.catalog.Load(ctx, initial))
	assert.Equal(t, 1, f.catalog.Len())

	defs, err := f.store.LoadDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "era5", defs[0].ID)

	// a second catalog on the same store ignores the fallback
	registry := scanner.NewRegistry()
	require.NoError(t, registry.Register(scanner.Default, f.scanner))
	other, err := New(Options{Scanners: registry, Store: f.store, Logger: logging.NewNop()})
	require.NoError(t, err)
	defer other.Stop()

	require.NoError(t, other.Load(ctx, []models.DatasetDefinition{f.def("ignored")}))
	_, err = other.GetDatasetByID("era5")
	assert.NoError(t, err)
	_, err = other.GetDatasetByID("ignored")
	assert.ErrorIs(t, err, ErrNotFound)
}

type eventSink struct {
	mu     sync.Mutex
	events []models.RefreshEvent
}

func (s *eventSink) handle(data []byte) error {
	var e models.RefreshEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *eventSink) snapshot() []models.RefreshEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RefreshEvent(nil), s.events...)
}

func TestRefreshEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjects := queue.Subjects{Prefix: "test"}

	var ok, failed eventSink
	require.NoError(t, f.queue.Subscribe(subjects.Refreshed(), ok.handle))
	require.NoError(t, f.queue.Subscribe(subjects.Failed(), failed.handle))

	ds, err := f.catalog.AddDataset(ctx, f.def("era5"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(ok.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	e := ok.snapshot()[0]
	assert.Equal(t, "era5", e.DatasetID)
	assert.True(t, e.Success)
	assert.Equal(t, "READY", e.State)
	assert.Equal(t, 1, e.Layers)
	assert.NotEmpty(t, e.EventID)

	f.scanner.fail(errors.New("disk gone"))
	ds.ForceRefresh()

	require.Eventually(t, func() bool { return len(failed.snapshot()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	e = failed.snapshot()[0]
	assert.False(t, e.Success)
	assert.Equal(t, string(dataset.KindScanFailure), e.ErrorKind)
	assert.Contains(t, e.Error, "disk gone")
	assert.True(t, ds.IsError())

	// previous layers stay served
	_, err = ds.Layer("tas")
	assert.NoError(t, err)

	series, err := testutil.GatherAndCount(f.metrics.Registry(), "gridcat_refreshes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

func TestRefreshTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjects := queue.Subjects{Prefix: "test"}
	require.NoError(t, f.catalog.Start(ctx))

	f.scanner.fail(errors.New("offline"))
	ds, err := f.catalog.AddDataset(ctx, f.def("era5"))
	require.NoError(t, err)
	require.Eventually(t, ds.IsError, 2*time.Second, 5*time.Millisecond)

	// the first retry is a second away, a trigger skips the backoff
	f.scanner.fail(nil)
	data, err := json.Marshal(models.RefreshTrigger{DatasetID: "era5"})
	require.NoError(t, err)
	require.NoError(t, f.queue.Publish(ctx, subjects.Trigger(), data))
	waitReady(t, ds)

	unknown, err := json.Marshal(models.RefreshTrigger{DatasetID: "unknown"})
	require.NoError(t, err)
	assert.NoError(t, f.catalog.handleTrigger(unknown))
	assert.Error(t, f.catalog.handleTrigger([]byte("{")))
}

func TestSetters_Persist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds, err := f.catalog.AddDataset(ctx, f.def("era5"))
	require.NoError(t, err)
	waitReady(t, ds)

	require.NoError(t, f.catalog.SetTitle(ctx, "era5", "ERA5 reanalysis"))
	require.NoError(t, f.catalog.SetUpdateInterval(ctx, "era5", 60))
	require.NoError(t, f.catalog.SetDisabled(ctx, "era5", true))

	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "b.nc"), []byte("x"), 0o644))
	require.NoError(t, f.catalog.SetLocation(ctx, "era5", filepath.Join(other, "*.nc")))
	assert.Error(t, f.catalog.SetLocation(ctx, "era5", "relative"))

	defs, err := f.store.LoadDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "ERA5 reanalysis", defs[0].Title)
	assert.Equal(t, 60, defs[0].UpdateInterval)
	assert.True(t, defs[0].Disabled)
	assert.Equal(t, filepath.Join(other, "*.nc"), defs[0].Location)

	for _, err := range []error{
		f.catalog.SetTitle(ctx, "x", "t"),
		f.catalog.SetUpdateInterval(ctx, "x", 1),
		f.catalog.SetDisabled(ctx, "x", true),
		f.catalog.SetLocation(ctx, "x", "/a"),
		f.catalog.ForceRefresh("x"),
	} {
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestWatch_InvalidatesOnChange(t *testing.T) {
	f := newFixture(t)
	registry := scanner.NewRegistry()
	require.NoError(t, registry.Register(scanner.Default, f.scanner))

	c, err := New(Options{
		Scanners:      registry,
		Scheduler:     scheduler.Config{Workers: 1, Delay: 10 * time.Millisecond},
		WatchDebounce: 20 * time.Millisecond,
		Logger:        logging.NewNop(),
	})
	require.NoError(t, err)
	defer c.Stop()
	require.NoError(t, c.Start(context.Background()))

	ds, err := c.AddDataset(context.Background(), f.def("era5"))
	require.NoError(t, err)
	waitReady(t, ds)
	first := ds.LastSuccess()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "c.nc"), []byte("y"), 0o644))

	require.Eventually(t, func() bool {
		return ds.IsReady() && ds.LastSuccess().After(first)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStateMetrics(t *testing.T) {
	f := newFixture(t)
	ds, err := f.catalog.AddDataset(context.Background(), f.def("era5"))
	require.NoError(t, err)
	waitReady(t, ds)

	counts := f.catalog.stateCounts()
	assert.Equal(t, 1, counts["READY"])
}

// blockingScanner counts scans and blocks each one until its context ends
type blockingScanner struct {
	calls     atomic.Int32
	started   chan struct{}
	cancelled chan struct{}
	once      sync.Once
}

func newBlockingScanner() *blockingScanner {
	return &blockingScanner{started: make(chan struct{}, 16), cancelled: make(chan struct{})}
}

func (s *blockingScanner) Scan(ctx context.Context, location string) ([]scanner.VariableTimeInfo, error) {
	s.calls.Add(1)
	s.started <- struct{}{}
	<-ctx.Done()
	s.once.Do(func() { close(s.cancelled) })
	return nil, ctx.Err()
}

func TestRemoveDataset_CancelsRefresh(t *testing.T) {
	f := newFixture(t)
	sc := newBlockingScanner()
	registry := scanner.NewRegistry()
	require.NoError(t, registry.Register(scanner.Default, sc))

	delay := 10 * time.Millisecond
	c, err := New(Options{
		Scanners:  registry,
		Scheduler: scheduler.Config{Workers: 1, Delay: delay},
		Logger:    logging.NewNop(),
	})
	require.NoError(t, err)
	defer c.Stop()

	ctx := context.Background()
	_, err = c.AddDataset(ctx, f.def("era5"))
	require.NoError(t, err)

	select {
	case <-sc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never started")
	}
	require.NoError(t, c.RemoveDataset(ctx, "era5"))

	select {
	case <-sc.cancelled:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("running scan was not cancelled on removal")
	}

	calls := sc.calls.Load()
	time.Sleep(10 * delay)
	assert.Equal(t, calls, sc.calls.Load(), "scanned after removal")
	assert.False(t, c.scheduler.Scheduled("era5"))
}

func TestAddDataset_FirstRefreshIsRecorded(t *testing.T) {
	f := newFixture(t)
	registry := scanner.NewRegistry()
	require.NoError(t, registry.Register(scanner.Default, f.scanner))

	m := metrics.New()
	c, err := New(Options{
		Scanners:  registry,
		Scheduler: scheduler.Config{Workers: 1, Delay: time.Hour},
		Store:     f.store,
		Queue:     f.queue,
		Subjects:  queue.Subjects{Prefix: "first"},
		Metrics:   m,
		Logger:    logging.NewNop(),
	})
	require.NoError(t, err)
	defer c.Stop()

	var ok eventSink
	require.NoError(t, f.queue.Subscribe(queue.Subjects{Prefix: "first"}.Refreshed(), ok.handle))

	_, err = c.AddDataset(context.Background(), f.def("era5"))
	require.NoError(t, err)

	// only the immediate first tick runs, so its outcome must not be dropped
	require.Eventually(t, func() bool { return len(ok.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, c.LastUpdateTime().IsZero())
	last, err := f.store.LastUpdateTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c.LastUpdateTime(), last)
}

// syncBuffer is a bytes.Buffer safe for the logger and the test to share
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAddDataset_LogsWatchFailure(t *testing.T) {
	f := newFixture(t)
	registry := scanner.NewRegistry()
	require.NoError(t, registry.Register(scanner.Default, f.scanner))

	var out syncBuffer
	c, err := New(Options{
		Scanners:      registry,
		Scheduler:     scheduler.Config{Workers: 1, Delay: time.Hour},
		WatchDebounce: 20 * time.Millisecond,
		Logger:        logging.NewWithWriter(&out, zerolog.WarnLevel),
	})
	require.NoError(t, err)
	defer c.Stop()
	c.watcher.Stop()

	ds, err := c.AddDataset(context.Background(), f.def("era5"))
	require.NoError(t, err)
	waitReady(t, ds)

	assert.Contains(t, out.String(), "Failed to watch dataset location")
	assert.Contains(t, out.String(), `"dataset_id":"era5"`)
}

func TestSetLocation_RewatchesUnderCurrentID(t *testing.T) {
	f := newFixture(t)
	registry := scanner.NewRegistry()
	require.NoError(t, registry.Register(scanner.Default, f.scanner))

	c, err := New(Options{
		Scanners:      registry,
		Scheduler:     scheduler.Config{Workers: 1, Delay: time.Hour},
		WatchDebounce: 20 * time.Millisecond,
		Logger:        logging.NewNop(),
	})
	require.NoError(t, err)
	defer c.Stop()

	ctx := context.Background()
	_, err = c.AddDataset(ctx, f.def("era5"))
	require.NoError(t, err)
	require.NoError(t, c.ChangeDatasetID(ctx, "era5", "era5-hourly"))

	other := t.TempDir()
	require.NoError(t, c.SetLocation(ctx, "era5-hourly", filepath.Join(other, "*.nc")))
	assert.True(t, c.watcher.Watching("era5-hourly"))
	assert.False(t, c.watcher.Watching("era5"))
	assert.ErrorIs(t, c.SetLocation(ctx, "era5", filepath.Join(other, "*.nc")), ErrNotFound)
}
