// Package dialer implements the retry-with-backoff dial used by
// dataplane.Plane when it must connect out to a peer Worker's data-plane
// address (spec.md §4.6: "dials that peer's address, sends Ehlo"),
// adapted from Chapter04/dialer.RetryingDialer with logrus in place of the
// standard logger and github.com/juju/clock kept as the injectable clock
// so tests can advance time deterministically.
package dialer

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// ErrMaxRetriesExceeded is returned once a dial has failed maxAttempts
// times in a row.
var ErrMaxRetriesExceeded = xerrors.New("flowmesh: max number of dial retries exceeded")

const (
	maxJitter  = 1000 * time.Millisecond
	maxBackoff = 32 * time.Second
)

// DialFunc dials a remote host; net.Dial satisfies it.
type DialFunc func(network, address string) (net.Conn, error)

// RetryingDialer wraps a DialFunc with exponential-backoff retries.
type RetryingDialer struct {
	clk         clock.Clock
	dialFunc    DialFunc
	maxAttempts int
	log         *logrus.Entry
}

// New returns a dialer that retries dialFunc up to maxAttempts times,
// waiting an exponentially increasing, jittered backoff between attempts.
func New(clk clock.Clock, dialFunc DialFunc, maxAttempts int, log *logrus.Entry) *RetryingDialer {
	if maxAttempts > 31 {
		panic("dialer: maxAttempts cannot exceed 31")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &RetryingDialer{clk: clk, dialFunc: dialFunc, maxAttempts: maxAttempts, log: log}
}

// Dial attempts to connect to address, retrying on failure until
// maxAttempts is exhausted or ctx is cancelled.
func (d *RetryingDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		conn, err := d.dialFunc(network, address)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		wait := expBackoff(attempt)
		d.log.WithError(err).WithFields(logrus.Fields{
			"address": address,
			"attempt": attempt,
			"wait":    wait,
		}).Warn("dial attempt failed; retrying")

		select {
		case <-d.clk.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, xerrors.Errorf("dialing %s: %w: %v", address, ErrMaxRetriesExceeded, lastErr)
}

// expBackoff returns min(2^(attempt+1) ms + jitter, maxBackoff).
func expBackoff(attempt int) time.Duration {
	jitter := time.Millisecond * time.Duration(rand.Int63n(maxJitter.Nanoseconds()/1e6))
	backoff := time.Duration(2<<uint64(attempt))*time.Millisecond + jitter
	if backoff < maxBackoff {
		return backoff
	}
	return maxBackoff
}
