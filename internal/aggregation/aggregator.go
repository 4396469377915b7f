// Package aggregation merges the timesteps reported by every file of a
// dataset into one timeline per variable ("best estimate" aggregation).
package aggregation

import (
	"context"
	"fmt"

	"github.com/soltixdb/gridcat/internal/scanner"
	"github.com/soltixdb/gridcat/internal/timeline"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelism is the number of files scanned concurrently per dataset
const DefaultParallelism = 4

// Result is the scan output of one concrete location
type Result struct {
	Location  string
	Variables []scanner.VariableTimeInfo
}

// Variable is one merged variable of a dataset
type Variable struct {
	ID       string
	Title    string
	Units    string
	Timeline *timeline.Timeline
}

// Aggregator scans a dataset's locations and merges the results
type Aggregator struct {
	Scanner     scanner.MetadataScanner
	Parallelism int

	// OnScanned, when set, is called after each location has been scanned.
	// It may be called from several goroutines at once.
	OnScanned func(location string)
}

// Aggregate scans every location and merges the results.
// Any scan failure fails the whole aggregation.
func (a *Aggregator) Aggregate(ctx context.Context, locations []string) (map[string]*Variable, error) {
	results, err := a.Collect(ctx, locations)
	if err != nil {
		return nil, err
	}
	return Merge(results)
}

// Collect scans the locations with bounded parallelism. Results keep the
// order of locations. The first failure cancels the remaining scans.
func (a *Aggregator) Collect(ctx context.Context, locations []string) ([]Result, error) {
	results := make([]Result, len(locations))

	g, gctx := errgroup.WithContext(ctx)
	limit := a.Parallelism
	if limit <= 0 {
		limit = DefaultParallelism
	}
	g.SetLimit(limit)

	for i, loc := range locations {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("scan of %s panicked: %v", scanner.Redact(loc), r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			vars, err := a.Scanner.Scan(gctx, loc)
			if err != nil {
				return err
			}
			results[i] = Result{Location: loc, Variables: vars}
			if a.OnScanned != nil {
				a.OnScanned(loc)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Merge folds scan results into one timeline per variable id. Each timestep
// is inserted with its source location as the file reference, so duplicate
// instants keep the record with the smaller index in its file. Results are
// processed in order; titles and units come from the first result that
// names the variable.
func Merge(results []Result) (map[string]*Variable, error) {
	vars := make(map[string]*Variable)

	for _, res := range results {
		for _, info := range res.Variables {
			v, ok := vars[info.VariableID]
			if !ok {
				v = &Variable{
					ID:       info.VariableID,
					Title:    info.Title,
					Units:    info.Units,
					Timeline: timeline.New(len(info.Steps)),
				}
				vars[info.VariableID] = v
			}
			for _, step := range info.Steps {
				if _, err := v.Timeline.Insert(step.Time, res.Location, step.Index); err != nil {
					return nil, fmt.Errorf("variable %s in %s: %w", info.VariableID, scanner.Redact(res.Location), err)
				}
			}
		}
	}
	return vars, nil
}
