// Package scanner discovers the variables and timesteps held at a single
// concrete data location (one file, one remote endpoint or one aggregation
// document).
//
// Scanners are long-lived and shared between datasets, so every
// implementation must be safe for concurrent use across locations.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoMatchingFiles is returned when a location expression matches nothing
	ErrNoMatchingFiles = errors.New("location does not match any files")

	// ErrNotAbsolute is returned for local locations that are not absolute paths
	ErrNotAbsolute = errors.New("location must be an absolute path")

	// ErrUnsupportedFormat is returned when the data at a location cannot be understood
	ErrUnsupportedFormat = errors.New("unsupported data format")

	// ErrUnknownScanner is returned by the registry for unregistered names
	ErrUnknownScanner = errors.New("unknown scanner")
)

// Timestep is one instant of a variable and its index within the scanned location
type Timestep struct {
	Time  time.Time `json:"time"`
	Index int       `json:"index"`
}

// VariableTimeInfo describes a variable found at a location and the
// timesteps it contributes. Steps is empty for variables without a time axis.
type VariableTimeInfo struct {
	VariableID string     `json:"variable_id"`
	Title      string     `json:"title,omitempty"`
	Units      string     `json:"units,omitempty"`
	Steps      []Timestep `json:"steps,omitempty"`
}

// MetadataScanner reads the variable/time metadata at one concrete location.
// Glob expressions must be expanded by the caller (see Resolve).
type MetadataScanner interface {
	Scan(ctx context.Context, location string) ([]VariableTimeInfo, error)
}

// Func adapts a function to the MetadataScanner interface
type Func func(ctx context.Context, location string) ([]VariableTimeInfo, error)

// Scan calls f(ctx, location)
func (f Func) Scan(ctx context.Context, location string) ([]VariableTimeInfo, error) {
	return f(ctx, location)
}

// ScanError records the location that failed to scan
type ScanError struct {
	Location string
	Err      error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", Redact(e.Location), e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

func scanErr(location string, err error) error {
	if err == nil {
		return nil
	}
	var se *ScanError
	if errors.As(err, &se) {
		return err
	}
	return &ScanError{Location: location, Err: err}
}

func cloneInfos(in []VariableTimeInfo) []VariableTimeInfo {
	if in == nil {
		return nil
	}
	out := make([]VariableTimeInfo, len(in))
	for i, v := range in {
		out[i] = v
		out[i].Steps = append([]Timestep(nil), v.Steps...)
	}
	return out
}
