package scanner

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/soltixdb/gridcat/internal/logging"
)

// RetryPolicy bounds the retries of a single remote scan
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Retrying retries transient failures of remote locations before reporting
// them. Local locations and permanent failures pass straight through; the
// dataset-level backoff handles everything that survives this.
type Retrying struct {
	next   MetadataScanner
	policy RetryPolicy
	logger *logging.Logger
}

// NewRetrying wraps next
func NewRetrying(next MetadataScanner, policy RetryPolicy, logger *logging.Logger) *Retrying {
	return &Retrying{next: next, policy: policy, logger: logging.OrGlobal(logger)}
}

// Scan implements MetadataScanner
func (r *Retrying) Scan(ctx context.Context, location string) ([]VariableTimeInfo, error) {
	if !IsRemote(location) || r.policy.MaxRetries <= 0 {
		return r.next.Scan(ctx, location)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.policy.InitialInterval
	eb.MaxInterval = r.policy.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.policy.MaxRetries)), ctx)

	var out []VariableTimeInfo
	op := func() error {
		infos, err := r.next.Scan(ctx, location)
		if err != nil {
			if !Transient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = infos
		return nil
	}
	notify := func(err error, d time.Duration) {
		r.logger.WithContext(ctx).Warn("Remote scan failed, retrying",
			"location", Redact(location),
			"retry_in", d.String(),
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return out, nil
}

// Transient reports whether a scan error is worth retrying immediately
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrNotAbsolute), errors.Is(err, ErrNoMatchingFiles):
		return false
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return false
	default:
		return true
	}
}
