package scanner

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type ncmlDocument struct {
	XMLName     xml.Name         `xml:"netcdf"`
	Aggregation *ncmlAggregation `xml:"aggregation"`
}

type ncmlAggregation struct {
	Type    string       `xml:"type,attr"`
	DimName string       `xml:"dimName,attr"`
	Members []ncmlMember `xml:"netcdf"`
	Scans   []ncmlScan   `xml:"scan"`
}

type ncmlMember struct {
	Location string `xml:"location,attr"`
}

type ncmlScan struct {
	Location string `xml:"location,attr"`
	Suffix   string `xml:"suffix,attr"`
}

// NcMLScanner scans a joinExisting NcML aggregation as one location.
// Member files are scanned with the member scanner and their indices are
// offset so they address the aggregated time dimension.
type NcMLScanner struct {
	members MetadataScanner
}

// NewNcMLScanner creates an aggregation scanner reading members with members
func NewNcMLScanner(members MetadataScanner) *NcMLScanner {
	return &NcMLScanner{members: members}
}

// Scan implements MetadataScanner
func (s *NcMLScanner) Scan(ctx context.Context, location string) ([]VariableTimeInfo, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, scanErr(location, err)
	}

	var doc ncmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, scanErr(location, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
	}
	if doc.Aggregation == nil {
		return nil, scanErr(location, fmt.Errorf("no aggregation element: %w", ErrUnsupportedFormat))
	}
	if t := doc.Aggregation.Type; t != "" && !strings.EqualFold(t, "joinExisting") {
		return nil, scanErr(location, fmt.Errorf("aggregation type %q: %w", t, ErrUnsupportedFormat))
	}

	members, err := s.memberLocations(filepath.Dir(location), doc.Aggregation)
	if err != nil {
		return nil, scanErr(location, err)
	}
	if len(members) == 0 {
		return nil, scanErr(location, ErrNoMatchingFiles)
	}

	merged := make(map[string]*VariableTimeInfo)
	var order []string
	offset := 0

	for _, member := range members {
		infos, err := s.members.Scan(ctx, member)
		if err != nil {
			return nil, scanErr(location, err)
		}

		length := 0
		for _, info := range infos {
			length = max(length, len(info.Steps))

			agg, ok := merged[info.VariableID]
			if !ok {
				agg = &VariableTimeInfo{VariableID: info.VariableID, Title: info.Title, Units: info.Units}
				merged[info.VariableID] = agg
				order = append(order, info.VariableID)
			}
			for _, step := range info.Steps {
				agg.Steps = append(agg.Steps, Timestep{Time: step.Time, Index: offset + step.Index})
			}
		}
		offset += length
	}

	out := make([]VariableTimeInfo, 0, len(order))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	return out, nil
}

func (s *NcMLScanner) memberLocations(baseDir string, agg *ncmlAggregation) ([]string, error) {
	resolve := func(loc string) string {
		loc = strings.TrimPrefix(loc, "file:")
		if IsRemote(loc) || filepath.IsAbs(loc) {
			return loc
		}
		return filepath.Join(baseDir, loc)
	}

	var out []string
	for _, m := range agg.Members {
		if m.Location != "" {
			out = append(out, resolve(m.Location))
		}
	}

	for _, sc := range agg.Scans {
		dir := resolve(sc.Location)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("scan element %s: %w", dir, err)
		}
		var found []string
		for _, e := range entries {
			if e.Type().IsRegular() && strings.HasSuffix(e.Name(), sc.Suffix) {
				found = append(found, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}
