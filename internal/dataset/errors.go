package dataset

import (
	"context"
	"errors"

	"github.com/soltixdb/gridcat/internal/scanner"
)

var (
	// ErrLayerNotFound is returned for unknown layer ids
	ErrLayerNotFound = errors.New("layer not found")

	// ErrTimeNotFound is returned when a layer has no timestep at the requested instant
	ErrTimeNotFound = errors.New("no timestep at requested time")

	// ErrInvalidDefinition is returned by New for unusable definitions
	ErrInvalidDefinition = errors.New("invalid dataset definition")
)

// Kind classifies refresh failures
type Kind string

const (
	KindNone             Kind = ""
	KindScanFailure      Kind = "scan_failure"
	KindNoMatchingFiles  Kind = "no_matching_files"
	KindMisconfiguration Kind = "misconfiguration"
	KindTimeout          Kind = "timeout"
	KindCancelled        Kind = "cancelled"
)

// Classify maps an error returned by a refresh to its kind
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, scanner.ErrNoMatchingFiles):
		return KindNoMatchingFiles
	case errors.Is(err, scanner.ErrNotAbsolute), errors.Is(err, scanner.ErrUnknownScanner), errors.Is(err, ErrInvalidDefinition):
		return KindMisconfiguration
	default:
		return KindScanFailure
	}
}
