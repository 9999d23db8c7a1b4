package interactor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/driver/appium"
)

// WaitType names a wait duration class.
type WaitType int

const (
	Default WaitType = iota // 30s
	Short                   // 5s
	Long                    // 60s
	Fluent                  // 10s, polling every second
)

// DefaultPoll is the polling interval of every wait type except Fluent.
const DefaultPoll = 500 * time.Millisecond

var waitTypeNames = map[WaitType]string{
	Default: "default",
	Short:   "short",
	Long:    "long",
	Fluent:  "fluent",
}

func (w WaitType) String() string {
	if name, ok := waitTypeNames[w]; ok {
		return name
	}
	return fmt.Sprintf("WaitType(%d)", int(w))
}

// ParseWaitType parses a wait type name; "" is Default.
func ParseWaitType(name string) (WaitType, error) {
	if name == "" {
		return Default, nil
	}
	for w, n := range waitTypeNames {
		if strings.EqualFold(name, n) {
			return w, nil
		}
	}
	return Default, core.ErrInvalidConfig.WithMessagef("unknown wait type %q", name)
}

// Waiter returns the standard waiter for the wait type.
// Unknown wait types get the Default waiter.
func (w WaitType) Waiter() Waiter {
	switch w {
	case Short:
		return Waiter{Timeout: 5 * time.Second, Poll: DefaultPoll}
	case Long:
		return Waiter{Timeout: 60 * time.Second, Poll: DefaultPoll}
	case Fluent:
		return Waiter{Timeout: 10 * time.Second, Poll: time.Second}
	default:
		return Waiter{Timeout: 30 * time.Second, Poll: DefaultPoll}
	}
}

// Waiter polls a condition until it holds or the timeout passes.
type Waiter struct {
	Timeout time.Duration
	Poll    time.Duration
}

// Until calls fn every Poll until it reports true. Element misses
// (no such element, stale reference) count as false; any other error
// stops the wait. The condition is always evaluated at least once.
func (w Waiter) Until(ctx context.Context, fn func(ctx context.Context) (bool, error)) error {
	poll := w.Poll
	if poll <= 0 {
		poll = DefaultPoll
	}
	deadline := time.Now().Add(w.Timeout)

	var lastErr error
	for {
		ok, err := fn(ctx)
		switch {
		case err == nil && ok:
			return nil
		case err != nil && !isMiss(err):
			return err
		}
		lastErr = err

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if time.Now().After(deadline) {
			if lastErr != nil {
				return core.ErrWaitTimeout.WithCause(lastErr)
			}
			return core.ErrWaitTimeout
		}
	}
}

// isMiss reports whether err means the element is not (or no longer) there.
func isMiss(err error) bool {
	return errors.Is(err, appium.ErrNoSuchElement) || errors.Is(err, appium.ErrStaleElement)
}
