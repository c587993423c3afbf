// Package ratelimit waits out server-imposed rate limits one second at a time.
package ratelimit

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

var digits = regexp.MustCompile(`\d+`)

// Observer is notified of the remaining wait, once before the first tick and after every tick.
type Observer interface {
	Waiting(remaining int)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(remaining int)

// Waiting ...
func (f ObserverFunc) Waiting(remaining int) { f(remaining) }

// Clock is the tick source. Tests replace it to avoid sleeping.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Limiter suspends the caller for a server-specified number of seconds.
type Limiter struct {
	clock  Clock
	logger log.Logger
}

// New creates a Limiter that ticks on the wall clock.
func New(logger log.Logger) *Limiter {
	return NewWithClock(realClock{}, logger)
}

// NewWithClock creates a Limiter with a custom tick source.
func NewWithClock(clock Clock, logger log.Logger) *Limiter {
	return &Limiter{clock: clock, logger: logger}
}

// Wait blocks for exactly seconds one-second ticks. It returns ctx.Err() as soon as
// the context is cancelled; the remaining wait is abandoned.
func (l *Limiter) Wait(ctx context.Context, seconds int, observer Observer) error {
	if seconds < 0 {
		return fmt.Errorf("negative wait: %d", seconds)
	}

	l.logger.Debugf("Rate limited, waiting %d seconds", seconds)
	notify(observer, seconds)

	for remaining := seconds; remaining > 0; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(time.Second):
			remaining--
			notify(observer, remaining)
		}
	}

	return nil
}

func notify(observer Observer, remaining int) {
	if observer != nil {
		observer.Waiting(remaining)
	}
}

// ParseWait extracts the first integer of a 429 detail message,
// e.g. "Expected available in 5 seconds." yields 5.
func ParseWait(detail string) (int, error) {
	match := digits.FindString(detail)
	if match == "" {
		return 0, fmt.Errorf("no wait duration in rate limit detail: %q", detail)
	}

	seconds, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("parse wait duration %q: %w", match, err)
	}

	return seconds, nil
}
