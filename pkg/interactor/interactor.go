// Package interactor locates elements with polling waits and bounded retries.
package interactor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/driver/appium"
	"github.com/devicelab-dev/screen-runner/pkg/locators"
)

// Condition is the state an element must reach before a wait succeeds.
type Condition string

const (
	Clickable Condition = "clickable" // displayed and enabled
	Visible   Condition = "visible"   // displayed
	Present   Condition = "present"   // found
)

// DefaultAttempts is the retry budget of Element, Elements, IsDisplayed and IsExist.
const DefaultAttempts = 3

// DefaultRetryDelay separates IsDisplayed and IsExist attempts.
const DefaultRetryDelay = 500 * time.Millisecond

// Finder is the remote session surface the interactor needs.
type Finder interface {
	FindElement(ctx context.Context, strategy, value string) (string, error)
	FindElements(ctx context.Context, strategy, value string) ([]string, error)
	IsElementDisplayed(ctx context.Context, elementID string) (bool, error)
	IsElementEnabled(ctx context.Context, elementID string) (bool, error)
}

// Interactor wraps a remote session with waits and retries.
type Interactor struct {
	remote     Finder
	waiters    map[WaitType]Waiter
	retryDelay time.Duration
}

// New creates an Interactor with the standard waiters.
func New(remote Finder) *Interactor {
	waiters := make(map[WaitType]Waiter, len(waitTypeNames))
	for w := range waitTypeNames {
		waiters[w] = w.Waiter()
	}
	return &Interactor{
		remote:     remote,
		waiters:    waiters,
		retryDelay: DefaultRetryDelay,
	}
}

// SetWaiter replaces the waiter used for a wait type.
func (i *Interactor) SetWaiter(t WaitType, w Waiter) {
	i.waiters[t] = w
}

// SetRetryDelay changes the pause between IsDisplayed/IsExist attempts.
func (i *Interactor) SetRetryDelay(d time.Duration) {
	i.retryDelay = d
}

// Waiter returns the waiter for the wait type, falling back to Default.
func (i *Interactor) Waiter(t WaitType) Waiter {
	if w, ok := i.waiters[t]; ok {
		return w
	}
	return i.waiters[Default]
}

type options struct {
	attempts  int
	condition Condition
	waitType  WaitType
}

// Option tunes a lookup.
type Option func(*options)

// WithAttempts sets the number of attempts (minimum 1).
func WithAttempts(n int) Option {
	return func(o *options) { o.attempts = n }
}

// WithCondition sets the condition waited for before each lookup.
func WithCondition(c Condition) Option {
	return func(o *options) { o.condition = c }
}

// WithWaitType selects the waiter.
func WithWaitType(w WaitType) Option {
	return func(o *options) { o.waitType = w }
}

func buildOptions(opts []Option) options {
	o := options{attempts: DefaultAttempts, condition: Visible, waitType: Default}
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts < 1 {
		o.attempts = 1
	}
	return o
}

// WaitFor waits until the element reaches the condition and returns its id.
func (i *Interactor) WaitFor(ctx context.Context, loc locators.Locator, cond Condition, waiter Waiter) (string, error) {
	check, err := i.conditionFunc(loc, cond)
	if err != nil {
		return "", err
	}

	var id string
	err = waiter.Until(ctx, func(ctx context.Context) (bool, error) {
		found, ok, cerr := check(ctx)
		id = found
		return ok, cerr
	})
	if errors.Is(err, core.ErrWaitTimeout) {
		return "", core.ErrWaitTimeout.WithCause(errors.Unwrap(err)).
			WithMessagef("Condition '%s' failed for element %s after %g seconds", cond, loc, waiter.Timeout.Seconds()).
			WithDetails(map[string]interface{}{"locator": loc.String(), "condition": string(cond)})
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

type checkFunc func(ctx context.Context) (string, bool, error)

func (i *Interactor) conditionFunc(loc locators.Locator, cond Condition) (checkFunc, error) {
	find := func(ctx context.Context) (string, error) {
		return i.remote.FindElement(ctx, string(loc.Strategy), loc.Value)
	}

	switch cond {
	case Present:
		return func(ctx context.Context) (string, bool, error) {
			id, err := find(ctx)
			return id, err == nil, err
		}, nil
	case Visible:
		return func(ctx context.Context) (string, bool, error) {
			id, err := find(ctx)
			if err != nil {
				return "", false, err
			}
			displayed, err := i.remote.IsElementDisplayed(ctx, id)
			return id, displayed, err
		}, nil
	case Clickable:
		return func(ctx context.Context) (string, bool, error) {
			id, err := find(ctx)
			if err != nil {
				return "", false, err
			}
			displayed, err := i.remote.IsElementDisplayed(ctx, id)
			if err != nil || !displayed {
				return "", false, err
			}
			enabled, err := i.remote.IsElementEnabled(ctx, id)
			return id, enabled, err
		}, nil
	default:
		return nil, core.ErrUnknownCondition.WithMessagef("Unknown condition: %s", cond)
	}
}

// Element waits for the condition, then finds the element. Only "no such
// element" from the lookup is retried; wait timeouts return immediately.
func (i *Interactor) Element(ctx context.Context, loc locators.Locator, opts ...Option) (string, error) {
	o := buildOptions(opts)
	waiter := i.Waiter(o.waitType)

	var id string
	// Set only by the lookup after the wait; a wait timeout also carries
	// "no such element" as its cause.
	var notFound bool
	err := i.retry(ctx, o.attempts, 0, func() error {
		notFound = false
		if _, err := i.WaitFor(ctx, loc, o.condition, waiter); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		id, err = i.remote.FindElement(ctx, string(loc.Strategy), loc.Value)
		if err != nil && !errors.Is(err, appium.ErrNoSuchElement) {
			return backoff.Permanent(err)
		}
		notFound = err != nil
		return err
	})
	if err != nil && notFound {
		return "", core.ErrElementNotFound.WithCause(err).
			WithMessagef("Could not locate element with value: %s", loc)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Elements is Element for element lists. An empty list counts as not found.
func (i *Interactor) Elements(ctx context.Context, loc locators.Locator, opts ...Option) ([]string, error) {
	o := buildOptions(opts)
	waiter := i.Waiter(o.waitType)

	var ids []string
	var notFound bool
	err := i.retry(ctx, o.attempts, 0, func() error {
		notFound = false
		if _, err := i.WaitFor(ctx, loc, o.condition, waiter); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		ids, err = i.remote.FindElements(ctx, string(loc.Strategy), loc.Value)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(ids) == 0 {
			notFound = true
			return appium.ErrNoSuchElement
		}
		return nil
	})
	if err != nil && notFound {
		return nil, core.ErrElementNotFound.WithCause(err).
			WithMessagef("Could not locate element list with value: %s", loc)
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IsDisplayed asserts that the element's displayed state equals expected.
// Every failure, including wait timeouts, is retried after a short pause.
func (i *Interactor) IsDisplayed(ctx context.Context, loc locators.Locator, expected bool, opts ...Option) error {
	o := buildOptions(opts)
	waiter := i.Waiter(o.waitType)

	err := i.retry(ctx, o.attempts, i.retryDelay, func() error {
		id, err := i.WaitFor(ctx, loc, o.condition, waiter)
		if err != nil {
			return err
		}
		displayed, err := i.remote.IsElementDisplayed(ctx, id)
		if err != nil {
			return err
		}
		if displayed != expected {
			return core.ErrConditionNotMet
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if expected {
		return core.ErrElementNotVisible.WithCause(err).
			WithMessagef("Element %s was not displayed as expected.", loc)
	}
	return core.ErrConditionNotMet.WithCause(err).
		WithMessagef("Element %s was displayed when it shouldn't be.", loc)
}

// IsExist reports whether the element's presence matches expected.
// A missing element satisfies expected=false at once; other failures are
// retried, and running out of attempts reports !expected.
func (i *Interactor) IsExist(ctx context.Context, loc locators.Locator, expected bool, opts ...Option) bool {
	o := buildOptions(opts)

	result := !expected
	_ = i.retry(ctx, o.attempts, i.retryDelay, func() error {
		id, err := i.Element(ctx, loc, WithAttempts(1), WithCondition(o.condition), WithWaitType(o.waitType))
		if err != nil {
			if errors.Is(err, core.ErrElementNotFound) && !expected {
				result = true
				return nil
			}
			return err
		}
		displayed, err := i.remote.IsElementDisplayed(ctx, id)
		if err != nil {
			return err
		}
		result = displayed == expected
		return nil
	})
	return result
}

// retry runs op up to attempts times with a constant delay between failures.
func (i *Interactor) retry(ctx context.Context, attempts int, delay time.Duration, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(op, b)
}
