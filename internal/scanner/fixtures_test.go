package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/stretchr/testify/require"
)

// writeGrid writes a small netCDF file holding an "sst" variable on a
// (time, lat, lon) grid plus a time-invariant "mask" variable.
func writeGrid(t *testing.T, path string, times []float64, units string) string {
	t.Helper()

	h := cdf.NewHeader([]string{"time", "lat", "lon"}, []int{len(times), 2, 2})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", units)
	h.AddAttribute("time", "bounds", "time_bnds")
	h.AddVariable("time_bnds", []string{"time", "lat"}, []float64{0})
	h.AddVariable("lat", []string{"lat"}, []float32{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float32{0})
	h.AddAttribute("lon", "units", "degrees_east")
	h.AddVariable("sst", []string{"time", "lat", "lon"}, []float32{0})
	h.AddAttribute("sst", "long_name", "sea surface temperature")
	h.AddAttribute("sst", "units", "K")
	h.AddVariable("mask", []string{"lat", "lon"}, []int32{0})
	h.Define()
	for _, err := range h.Check() {
		require.NoError(t, err)
	}

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	nc, err := cdf.Create(f, h)
	require.NoError(t, err)
	_, err = nc.Writer("time", nil, nil).Write(times)
	require.NoError(t, err)
	for _, v := range []string{"time_bnds", "lat", "lon", "sst", "mask"} {
		require.NoError(t, nc.Fill(v))
	}
	return path
}
