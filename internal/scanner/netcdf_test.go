package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetCDFScanner_LocalFile(t *testing.T) {
	path := writeGrid(t, filepath.Join(t.TempDir(), "sst.nc"), []float64{0, 6, 12}, "hours since 2000-01-01 00:00:00")

	infos, err := NewNetCDFScanner(nil).Scan(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	sst := infos[0]
	assert.Equal(t, "sst", sst.VariableID)
	assert.Equal(t, "sea surface temperature", sst.Title)
	assert.Equal(t, "K", sst.Units)
	require.Len(t, sst.Steps, 3)

	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, step := range sst.Steps {
		assert.Equal(t, i, step.Index)
		assert.Equal(t, ref.Add(time.Duration(6*i)*time.Hour), step.Time)
	}

	mask := infos[1]
	assert.Equal(t, "mask", mask.VariableID)
	assert.Empty(t, mask.Steps)
}

func TestNetCDFScanner_Errors(t *testing.T) {
	dir := t.TempDir()
	s := NewNetCDFScanner(nil)

	_, err := s.Scan(context.Background(), filepath.Join(dir, "missing.nc"))
	var se *ScanError
	require.ErrorAs(t, err, &se)
	assert.False(t, Transient(err))

	garbage := filepath.Join(dir, "garbage.nc")
	writeFile(t, garbage, "this is not netcdf")
	_, err = s.Scan(context.Background(), garbage)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	badUnits := writeGrid(t, filepath.Join(dir, "bad.nc"), []float64{0}, "fortnights since 2000-01-01")
	_, err = s.Scan(context.Background(), badUnits)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Scan(ctx, garbage)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNetCDFScanner_Remote(t *testing.T) {
	path := writeGrid(t, filepath.Join(t.TempDir(), "remote.nc"), []float64{1, 2}, "days since 2010-01-01")

	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/remote.nc" {
			http.NotFound(w, r)
			return
		}
		if user, pass, ok := r.BasicAuth(); ok && user == "alice" && pass == "secret" {
			sawAuth = true
		}
		http.ServeFile(w, r, path)
	}))
	defer srv.Close()

	location := strings.Replace(srv.URL, "http://", "http://alice:secret@", 1) + "/remote.nc"
	infos, err := NewNetCDFScanner(srv.Client()).Scan(context.Background(), location)
	require.NoError(t, err)
	assert.True(t, sawAuth)

	require.NotEmpty(t, infos)
	require.Len(t, infos[0].Steps, 2)
	assert.Equal(t, time.Date(2010, 1, 2, 0, 0, 0, 0, time.UTC), infos[0].Steps[0].Time)
	assert.Equal(t, time.Date(2010, 1, 3, 0, 0, 0, 0, time.UTC), infos[0].Steps[1].Time)
}

func TestNetCDFScanner_RemoteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewNetCDFScanner(srv.Client()).Scan(context.Background(), srv.URL+"/nothing.nc")
	require.Error(t, err)
	assert.True(t, Transient(err))
}

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		units    string
		calendar string
		value    float64
		want     time.Time
		wantErr  bool
	}{
		{"hours since 2000-01-01 00:00:00", "", 36, time.Date(2000, 1, 2, 12, 0, 0, 0, time.UTC), false},
		{"days since 1970-1-1", "gregorian", 1.5, time.Date(1970, 1, 2, 12, 0, 0, 0, time.UTC), false},
		{"seconds since 2020-06-01T00:00:00Z", "standard", 90, time.Date(2020, 6, 1, 0, 1, 30, 0, time.UTC), false},
		{"minutes since 2001-02-03 4:5:6 UTC", "", 1, time.Date(2001, 2, 3, 4, 6, 6, 0, time.UTC), false},
		{"days since 2000-01-01", "noleap", 59, time.Date(2000, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"days since 2000-01-01", "365_day", 365, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"days since 2000-01-01", "noleap", -1, time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"hours since 2000-01-01 06:00", "noleap", 18, time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC), false},
		{"days since 2000-01-01", "360_day", 30, time.Date(2000, 2, 1, 0, 0, 0, 0, time.UTC), false},
		{"days since 2000-01-01", "360_day", 45, time.Date(2000, 2, 15, 12, 0, 0, 0, time.UTC), false},
		{"days since 2000-01-01", "360_day", 360, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"hours since 2000-01-01", "julian", 0, time.Time{}, true},
		{"hours", "", 0, time.Time{}, true},
		{"weeks since 2000-01-01", "", 0, time.Time{}, true},
		{"hours since yesterday", "", 0, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.calendar+"/"+tt.units, func(t *testing.T) {
			axis, err := parseTimeUnits(tt.units, tt.calendar)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, axis.at(tt.value))
		})
	}
}

func TestParseTimeUnits_360DayIsIncreasing(t *testing.T) {
	axis, err := parseTimeUnits("days since 2001-01-01", "360_day")
	require.NoError(t, err)
	prev := axis.at(0)
	for v := 1; v < 720; v++ {
		next := axis.at(float64(v))
		require.True(t, next.After(prev), "day %d: %s not after %s", v, next, prev)
		prev = next
	}
}
