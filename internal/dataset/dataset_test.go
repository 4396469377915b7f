package dataset

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/soltixdb/gridcat/internal/logging"
	"github.com/soltixdb/gridcat/internal/models"
	"github.com/soltixdb/gridcat/internal/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// switchScanner returns steps per file or fails while err is set
type switchScanner struct {
	mu    sync.Mutex
	err   error
	steps int
	calls atomic.Int32
	block chan struct{}
}

func (s *switchScanner) Scan(ctx context.Context, location string) ([]scanner.VariableTimeInfo, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if filepath.Base(location) == "b.nc" {
		base = base.AddDate(0, 1, 0)
	}
	info := scanner.VariableTimeInfo{VariableID: "sst", Title: "Sea surface temperature", Units: "K"}
	for i := 0; i < s.steps; i++ {
		info.Steps = append(info.Steps, scanner.Timestep{Time: base.Add(time.Duration(i) * time.Hour), Index: i})
	}
	return []scanner.VariableTimeInfo{info, {VariableID: "mask"}}, nil
}

func (s *switchScanner) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func dataDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	return dir
}

func newTestDataset(t *testing.T, sc scanner.MetadataScanner, clock *fakeClock) (*Dataset, string) {
	t.Helper()
	dir := dataDir(t, "a.nc", "b.nc")
	def := models.NewDatasetDefinition("ocean", filepath.Join(dir, "*.nc"))
	ds, err := New(def, Options{Scanner: sc, Clock: clock.Now, Logger: logging.NewNop()})
	require.NoError(t, err)
	return ds, dir
}

func TestNew_Validation(t *testing.T) {
	sc := &switchScanner{}
	_, err := New(models.NewDatasetDefinition("", "/data/*.nc"), Options{Scanner: sc})
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = New(models.NewDatasetDefinition("x", "data/*.nc"), Options{Scanner: sc})
	assert.ErrorIs(t, err, scanner.ErrNotAbsolute)

	_, err = New(models.NewDatasetDefinition("x", "/data/*.nc"), Options{})
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	ds, err := New(models.DatasetDefinition{ID: "x", Location: "/data/*.nc"}, Options{Scanner: sc})
	require.NoError(t, err)
	assert.Equal(t, "x", ds.Title())
	assert.Equal(t, NeedsRefresh, ds.State())
	assert.True(t, ds.IsLoading())
	assert.False(t, ds.IsReady())
	assert.Empty(t, ds.Layers())
}

func TestRefresh_FirstLoadThenUpdate(t *testing.T) {
	clock := newFakeClock()
	sc := &switchScanner{steps: 3}
	ds, dir := newTestDataset(t, sc, clock)

	assert.True(t, ds.NeedsRefresh())
	out := ds.Refresh(context.Background())
	require.NoError(t, out.Err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, Ready, out.State)
	assert.Equal(t, 2, out.Layers)
	assert.Equal(t, "ocean", out.DatasetID)
	assert.True(t, ds.IsReady())
	assert.Equal(t, clock.Now(), ds.LastSuccess())

	layers := ds.Layers()
	require.Len(t, layers, 2)
	assert.Equal(t, "mask", layers[0].ID())
	assert.Equal(t, "sst", layers[1].ID())

	sst, err := ds.Layer("sst")
	require.NoError(t, err)
	assert.Equal(t, "Sea surface temperature", sst.Title())
	assert.Equal(t, "K", sst.Units())
	assert.Equal(t, scanner.Default, sst.Scanner())
	assert.Equal(t, 6, sst.Timeline().Len())

	file, idx, err := sst.FindFileAndIndexForTime(time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.nc"), file)
	assert.Equal(t, 1, idx)

	_, err = ds.Layer("nope")
	assert.ErrorIs(t, err, ErrLayerNotFound)

	// Interval -1: never refreshed again on its own
	clock.Advance(24 * time.Hour)
	assert.False(t, ds.NeedsRefresh())
	out = ds.Refresh(context.Background())
	assert.False(t, out.Attempted)

	// Second refresh passes through Updating
	sc.block = make(chan struct{})
	ds.ForceRefresh()
	done := make(chan Outcome)
	go func() { done <- ds.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return ds.State() == Updating }, time.Second, time.Millisecond)
	assert.True(t, ds.IsReady())
	assert.Len(t, ds.Layers(), 2)
	close(sc.block)
	out = <-done
	assert.Equal(t, Ready, out.State)
}

func TestRefresh_FirstLoadIsLoading(t *testing.T) {
	clock := newFakeClock()
	sc := &switchScanner{steps: 1, block: make(chan struct{})}
	ds, _ := newTestDataset(t, sc, clock)

	done := make(chan Outcome)
	go func() { done <- ds.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return ds.State() == Loading }, time.Second, time.Millisecond)
	assert.True(t, ds.IsLoading())
	assert.False(t, ds.NeedsRefresh())

	// Concurrent call does not start a second refresh
	out := ds.Refresh(context.Background())
	assert.False(t, out.Attempted)

	close(sc.block)
	out = <-done
	assert.True(t, out.Succeeded())
}

func TestRefresh_UpdateInterval(t *testing.T) {
	clock := newFakeClock()
	ds, _ := newTestDataset(t, &switchScanner{steps: 1}, clock)
	ds.SetUpdateInterval(30)

	require.True(t, ds.Refresh(context.Background()).Succeeded())
	clock.Advance(29 * time.Minute)
	assert.False(t, ds.NeedsRefresh())
	clock.Advance(time.Minute)
	assert.True(t, ds.NeedsRefresh())

	ds.SetUpdateInterval(0)
	require.True(t, ds.Refresh(context.Background()).Succeeded())
	assert.True(t, ds.NeedsRefresh())
}

func TestRefresh_FailureKeepsLayersAndBacksOff(t *testing.T) {
	clock := newFakeClock()
	sc := &switchScanner{steps: 2}
	ds, _ := newTestDataset(t, sc, clock)
	require.True(t, ds.Refresh(context.Background()).Succeeded())

	sc.fail(errors.New("disk on fire"))
	for i := 1; i <= 3; i++ {
		ds.ForceRefresh()
		out := ds.Refresh(context.Background())
		assert.Error(t, out.Err)
		assert.Equal(t, Error, out.State)
		assert.Equal(t, 2, out.Layers)
		clock.Advance(time.Second)
	}
	// ForceRefresh keeps the error count
	assert.Equal(t, 3, ds.ConsecutiveErrors())
	assert.True(t, ds.IsError())
	assert.Len(t, ds.Layers(), 2)
	assert.False(t, ds.IsReady())

	failedAt := ds.LastFailure()
	// 2^3 = 8 seconds after the last failure
	clock.Advance(8*time.Second - (clock.Now().Sub(failedAt)) - time.Millisecond)
	assert.False(t, ds.NeedsRefresh())
	clock.Advance(time.Millisecond)
	assert.True(t, ds.NeedsRefresh())
	assert.Equal(t, failedAt.Add(8*time.Second), ds.Status().NextAttempt)

	sc.fail(nil)
	out := ds.Refresh(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, 0, ds.ConsecutiveErrors())
	assert.Nil(t, ds.Err())
}

func TestRefresh_BackoffCapped(t *testing.T) {
	clock := newFakeClock()
	sc := &switchScanner{err: errors.New("unreachable")}
	ds, _ := newTestDataset(t, sc, clock)

	for i := 0; i < 12; i++ {
		require.True(t, ds.NeedsRefresh())
		require.True(t, ds.Refresh(context.Background()).Attempted)
		clock.Advance(BackoffDelay(ds.ConsecutiveErrors()))
	}
	assert.Equal(t, 12, ds.ConsecutiveErrors())
	assert.Equal(t, ds.LastFailure().Add(10*time.Minute), ds.Status().NextAttempt)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Second, BackoffDelay(0))
	assert.Equal(t, 8*time.Second, BackoffDelay(3))
	assert.Equal(t, 512*time.Second, BackoffDelay(9))
	assert.Equal(t, 600*time.Second, BackoffDelay(10))
	assert.Equal(t, 600*time.Second, BackoffDelay(64))
}

func TestDisabledIsFrozen(t *testing.T) {
	clock := newFakeClock()
	sc := &switchScanner{steps: 1}
	ds, _ := newTestDataset(t, sc, clock)
	ds.SetDisabled(true)

	assert.False(t, ds.NeedsRefresh())
	assert.False(t, ds.Refresh(context.Background()).Attempted)
	assert.False(t, ds.IsLoading())

	ds.ForceRefresh()
	ds.Invalidate()
	assert.Equal(t, NeedsRefresh, ds.State())
	assert.Equal(t, int32(0), sc.calls.Load())

	ds.SetDisabled(false)
	assert.True(t, ds.NeedsRefresh())
	assert.True(t, ds.Refresh(context.Background()).Succeeded())

	// A force requested while disabled is applied on re-enable
	ds.SetDisabled(true)
	ds.ForceRefresh()
	assert.Equal(t, Ready, ds.State())
	ds.SetDisabled(false)
	assert.Equal(t, NeedsRefresh, ds.State())
}

func TestForceRefreshDuringRefreshIsDeferred(t *testing.T) {
	clock := newFakeClock()
	sc := &switchScanner{steps: 1, block: make(chan struct{})}
	ds, _ := newTestDataset(t, sc, clock)

	done := make(chan Outcome)
	go func() { done <- ds.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return ds.State() == Loading }, time.Second, time.Millisecond)

	ds.ForceRefresh()
	assert.Equal(t, Loading, ds.State())
	close(sc.block)
	out := <-done
	assert.Equal(t, Ready, out.State)
	assert.Equal(t, NeedsRefresh, ds.State())
}

func TestInvalidate(t *testing.T) {
	clock := newFakeClock()
	sc := &switchScanner{steps: 1}
	ds, _ := newTestDataset(t, sc, clock)

	ds.Invalidate()
	require.True(t, ds.Refresh(context.Background()).Succeeded())
	ds.Invalidate()
	assert.Equal(t, NeedsRefresh, ds.State())

	require.True(t, ds.Refresh(context.Background()).Succeeded())
	sc.fail(errors.New("boom"))
	ds.ForceRefresh()
	ds.Refresh(context.Background())
	ds.Invalidate()
	assert.Equal(t, Error, ds.State())
}

func TestSetLocation(t *testing.T) {
	clock := newFakeClock()
	ds, _ := newTestDataset(t, &switchScanner{steps: 1}, clock)
	require.True(t, ds.Refresh(context.Background()).Succeeded())

	assert.ErrorIs(t, ds.SetLocation("relative/*.nc"), scanner.ErrNotAbsolute)
	assert.Equal(t, Ready, ds.State())

	other := dataDir(t, "c.nc")
	require.NoError(t, ds.SetLocation(filepath.Join(other, "*.nc")))
	assert.Equal(t, NeedsRefresh, ds.State())
	out := ds.Refresh(context.Background())
	require.NoError(t, out.Err)

	sst, err := ds.Layer("sst")
	require.NoError(t, err)
	file, _, err := sst.FindFileAndIndexForTime(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(other, "c.nc"), file)
}

func TestRefresh_NoMatchingFiles(t *testing.T) {
	clock := newFakeClock()
	dir := t.TempDir()
	ds, err := New(models.NewDatasetDefinition("empty", filepath.Join(dir, "*.nc")), Options{
		Scanner: &switchScanner{}, Clock: clock.Now, Logger: logging.NewNop(),
	})
	require.NoError(t, err)

	out := ds.Refresh(context.Background())
	assert.ErrorIs(t, out.Err, scanner.ErrNoMatchingFiles)
	assert.Equal(t, KindNoMatchingFiles, Classify(out.Err))
	assert.Equal(t, Error, ds.State())
	assert.False(t, ds.IsLoading())
}

func TestRefresh_Timeout(t *testing.T) {
	clock := newFakeClock()
	dir := dataDir(t, "a.nc")
	slow := scanner.Func(func(ctx context.Context, _ string) ([]scanner.VariableTimeInfo, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ds, err := New(models.NewDatasetDefinition("slow", filepath.Join(dir, "a.nc")), Options{
		Scanner: slow, Clock: clock.Now, Timeout: 10 * time.Millisecond, Logger: logging.NewNop(),
	})
	require.NoError(t, err)

	out := ds.Refresh(context.Background())
	assert.Equal(t, KindTimeout, Classify(out.Err))
}

func TestRefresh_PanicBecomesError(t *testing.T) {
	clock := newFakeClock()
	dir := dataDir(t, "a.nc")
	bad := scanner.Func(func(context.Context, string) ([]scanner.VariableTimeInfo, error) {
		panic("corrupt header")
	})
	ds, err := New(models.NewDatasetDefinition("bad", filepath.Join(dir, "a.nc")), Options{
		Scanner: bad, Clock: clock.Now, Parallelism: 1, Logger: logging.NewNop(),
	})
	require.NoError(t, err)

	out := ds.Refresh(context.Background())
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "corrupt header")
	assert.Equal(t, Error, ds.State())
}

func TestRefresh_LogsErrorOnlyWhenKindChanges(t *testing.T) {
	clock := newFakeClock()
	var buf bytes.Buffer
	sc := &switchScanner{err: errors.New("read failed")}
	dir := dataDir(t, "a.nc")
	ds, err := New(models.NewDatasetDefinition("noisy", filepath.Join(dir, "*.nc")), Options{
		Scanner: sc, Clock: clock.Now, Logger: logging.NewWithWriter(&buf, zerolog.ErrorLevel),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ds.Refresh(context.Background())
		clock.Advance(time.Hour)
	}
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Dataset refresh failed")))

	require.NoError(t, os.Remove(filepath.Join(dir, "a.nc")))
	ds.Refresh(context.Background())
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("Dataset refresh failed")))
}

func TestLoadingProgress(t *testing.T) {
	clock := newFakeClock()
	ds, _ := newTestDataset(t, &switchScanner{steps: 1}, clock)
	require.True(t, ds.Refresh(context.Background()).Succeeded())

	assert.Equal(t, []string{
		"Resolving location",
		"Found 2 files",
		"Scanned 2 of 2 files",
		"Loaded 2 layers",
		"Finished loading metadata",
	}, ds.LoadingProgress())
}

func TestLayerWithoutTimeAxis(t *testing.T) {
	clock := newFakeClock()
	ds, dir := newTestDataset(t, &switchScanner{steps: 1}, clock)
	require.True(t, ds.Refresh(context.Background()).Succeeded())

	mask, err := ds.Layer("mask")
	require.NoError(t, err)
	assert.False(t, mask.HasTimeAxis())
	assert.Equal(t, "mask", mask.Title())

	file, idx, err := mask.FindFileAndIndexForTime(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.nc"), file)
	assert.Equal(t, -1, idx)

	sst, err := ds.Layer("sst")
	require.NoError(t, err)
	_, _, err = sst.FindFileAndIndexForTime(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrTimeNotFound)

	var n int
	for range sst.TimeValues() {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestRenameAndCopyright(t *testing.T) {
	clock := newFakeClock()
	ds, _ := newTestDataset(t, &switchScanner{steps: 1}, clock)
	require.True(t, ds.Refresh(context.Background()).Succeeded())

	ds.Rename("sea")
	assert.Equal(t, "sea", ds.ID())
	assert.Equal(t, NeedsRefresh, ds.State())
	assert.Equal(t, "sea", ds.Refresh(context.Background()).DatasetID)

	ds2, err := New(models.DatasetDefinition{
		ID: "c", Location: "/data/x.nc", CopyrightStatement: "(c) ${year} Met Office",
	}, Options{Scanner: &switchScanner{}, Clock: clock.Now})
	require.NoError(t, err)
	assert.Equal(t, "(c) 2024 Met Office", ds2.Copyright())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "NEEDS_REFRESH", NeedsRefresh.String())
	assert.Equal(t, "READY", Ready.String())
	assert.Equal(t, "State(9)", State(9).String())
	b, err := Error.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ERROR", string(b))
}
