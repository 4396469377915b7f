package dataset

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a dataset
type State int

const (
	// NeedsRefresh: created, forced or invalidated; refreshed on the next tick
	NeedsRefresh State = iota
	// Loading: first refresh in progress
	Loading
	// Updating: refresh in progress, previous layers still served
	Updating
	// Ready: last refresh succeeded
	Ready
	// Error: last refresh failed, retried with backoff
	Error
)

var stateNames = [...]string{"NEEDS_REFRESH", "LOADING", "UPDATING", "READY", "ERROR"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MaxBackoff caps the delay between retries of a failing dataset
const MaxBackoff = 10 * time.Minute

// BackoffDelay returns the wait after errorCount consecutive failures:
// 2^errorCount seconds, capped at MaxBackoff.
func BackoffDelay(errorCount int) time.Duration {
	if errorCount < 0 {
		errorCount = 0
	}
	if errorCount >= 10 {
		return MaxBackoff
	}
	return min(time.Duration(1<<errorCount)*time.Second, MaxBackoff)
}
