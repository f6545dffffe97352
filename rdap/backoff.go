package rdap

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	baseRetryInterval = 500 * time.Millisecond
	maxRetryInterval  = 16 * time.Second

	// guardedAttempts lookups run under backoff before the policy
	// gives up; after that one final unguarded attempt is made and
	// its outcome returned as-is.
	guardedAttempts = 6
)

// transientMarkers identify rate-limit style failures worth retrying.
// Anything else propagates immediately.
var transientMarkers = []string{"429", "rate", "too many"}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retryLookup runs fn with exponential backoff on transient failures:
// initial is doubled per attempt, capped at maxRetryInterval, with ~20%
// jitter. Non-transient errors return immediately. When the attempt
// ceiling is exhausted on a transient error, one last raw call decides
// the outcome.
func retryLookup(fn func() (*Network, error), initial time.Duration) (*Network, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2
	bo.MaxInterval = maxRetryInterval
	bo.MaxElapsedTime = 0

	var n *Network
	op := func() error {
		var err error
		n, err = fn()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(bo, guardedAttempts-1))
	if err == nil {
		return n, nil
	}
	if isTransient(err) {
		return fn()
	}
	return nil, err
}
