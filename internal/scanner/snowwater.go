package scanner

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"strconv"
	"time"
)

var snowWaterName = regexp.MustCompile(`^NL(\d{4})(\d{2})\.v01\.NSIDC8$`)

// SnowWaterScanner handles the NSIDC monthly snow water equivalent grids
// (NLyyyyMM.v01.NSIDC8). The files carry no header; the single timestep is
// encoded in the file name.
type SnowWaterScanner struct{}

// Scan implements MetadataScanner
func (SnowWaterScanner) Scan(ctx context.Context, location string) ([]VariableTimeInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := SnowWaterTime(path.Base(location))
	if err != nil {
		return nil, scanErr(location, err)
	}
	if !IsRemote(location) {
		if _, err := os.Stat(location); err != nil {
			return nil, scanErr(location, err)
		}
	}

	return []VariableTimeInfo{{
		VariableID: "swe",
		Title:      "snow_water_equivalent",
		Units:      "mm",
		Steps:      []Timestep{{Time: t, Index: 0}},
	}}, nil
}

// SnowWaterTime parses the month encoded in an NSIDC snow water file name
func SnowWaterTime(name string) (time.Time, error) {
	m := snowWaterName.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, fmt.Errorf("file name %q is not NLyyyyMM.v01.NSIDC8: %w", name, ErrUnsupportedFormat)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("file name %q has invalid month: %w", name, ErrUnsupportedFormat)
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), nil
}
