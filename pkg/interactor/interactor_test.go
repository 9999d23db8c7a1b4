package interactor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/driver/appium"
	"github.com/devicelab-dev/screen-runner/pkg/driver/appium/appiumtest"
	"github.com/devicelab-dev/screen-runner/pkg/locators"
)

var textLink = locators.New(locators.AccessibilityID, "Text")

// newInteractor returns an interactor over a fake server with fast waits.
func newInteractor(t *testing.T) (*Interactor, *appiumtest.Server) {
	t.Helper()
	s := appiumtest.New(t, appiumtest.Config{})
	client := appium.NewClient(s.URL())
	require.NoError(t, client.Connect(context.Background(), map[string]interface{}{"platformName": "Android"}))

	i := New(client)
	for w := range waitTypeNames {
		i.SetWaiter(w, Waiter{Timeout: 150 * time.Millisecond, Poll: 10 * time.Millisecond})
	}
	i.SetRetryDelay(5 * time.Millisecond)
	return i, s
}

func TestWaitType_Waiter(t *testing.T) {
	tests := []struct {
		wait    WaitType
		timeout time.Duration
		poll    time.Duration
	}{
		{Default, 30 * time.Second, 500 * time.Millisecond},
		{Short, 5 * time.Second, 500 * time.Millisecond},
		{Long, 60 * time.Second, 500 * time.Millisecond},
		{Fluent, 10 * time.Second, time.Second},
		{WaitType(42), 30 * time.Second, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.wait.String(), func(t *testing.T) {
			w := tt.wait.Waiter()
			assert.Equal(t, tt.timeout, w.Timeout)
			assert.Equal(t, tt.poll, w.Poll)
		})
	}
}

func TestParseWaitType(t *testing.T) {
	w, err := ParseWaitType("FLUENT")
	require.NoError(t, err)
	assert.Equal(t, Fluent, w)

	w, err = ParseWaitType("")
	require.NoError(t, err)
	assert.Equal(t, Default, w)

	_, err = ParseWaitType("forever")
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestInteractor_UnknownWaitTypeUsesDefault(t *testing.T) {
	i := New(nil)
	assert.Equal(t, i.Waiter(Default), i.Waiter(WaitType(99)))
}

func TestWaiter_Until(t *testing.T) {
	w := Waiter{Timeout: 100 * time.Millisecond, Poll: 5 * time.Millisecond}
	ctx := context.Background()

	calls := 0
	err := w.Until(ctx, func(context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, &appium.WebDriverError{Code: "no such element"}
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	boom := errors.New("boom")
	err = w.Until(ctx, func(context.Context) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)

	err = w.Until(ctx, func(context.Context) (bool, error) { return false, nil })
	assert.True(t, errors.Is(err, core.ErrWaitTimeout))

	err = w.Until(ctx, func(context.Context) (bool, error) { return false, appium.ErrStaleElement })
	assert.True(t, errors.Is(err, core.ErrWaitTimeout))
	assert.ErrorIs(t, err, appium.ErrStaleElement)
}

func TestWaiter_UntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := Waiter{Timeout: time.Minute, Poll: time.Second}
	err := w.Until(ctx, func(context.Context) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitFor_Conditions(t *testing.T) {
	i, s := newInteractor(t)
	ctx := context.Background()
	el := s.AddVisible("accessibility id", "Text", core.Bounds{Width: 100, Height: 40})
	waiter := i.Waiter(Default)

	id, err := i.WaitFor(ctx, textLink, Visible, waiter)
	require.NoError(t, err)
	assert.Equal(t, el.ID, id)

	s.SetEnabled(el, false)
	_, err = i.WaitFor(ctx, textLink, Clickable, waiter)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrWaitTimeout))
	assert.Equal(t, "Condition 'clickable' failed for element ('accessibility id', 'Text') after 0.15 seconds", err.Error())

	s.SetDisplayed(el, false)
	_, err = i.WaitFor(ctx, textLink, Visible, waiter)
	assert.True(t, errors.Is(err, core.ErrWaitTimeout))

	id, err = i.WaitFor(ctx, textLink, Present, waiter)
	require.NoError(t, err)
	assert.Equal(t, el.ID, id)
}

func TestWaitFor_UnknownCondition(t *testing.T) {
	i, s := newInteractor(t)
	_, err := i.WaitFor(context.Background(), textLink, Condition("focused"), i.Waiter(Default))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnknownCondition))
	assert.Equal(t, "Unknown condition: focused", err.Error())
	assert.Empty(t, findCalls(s), "no remote call before the condition is validated")
}

func TestWaitFor_AppearsWhilePolling(t *testing.T) {
	i, s := newInteractor(t)
	el := s.Add(appiumtest.Element{Strategy: "accessibility id", Value: "Text", Displayed: true, Enabled: true, AppearAfterFinds: 3})

	id, err := i.WaitFor(context.Background(), textLink, Visible, i.Waiter(Default))
	require.NoError(t, err)
	assert.Equal(t, el.ID, id)
	assert.Equal(t, 4, s.Finds(el))
}

func TestElement_Found(t *testing.T) {
	i, s := newInteractor(t)
	el := s.AddVisible("accessibility id", "Text", core.Bounds{Width: 100, Height: 40})

	id, err := i.Element(context.Background(), textLink)
	require.NoError(t, err)
	assert.Equal(t, el.ID, id)
}

func TestElement_TimeoutPropagatesImmediately(t *testing.T) {
	i, s := newInteractor(t)

	start := time.Now()
	_, err := i.Element(context.Background(), textLink)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrWaitTimeout))
	assert.False(t, errors.Is(err, core.ErrElementNotFound))
	assert.Equal(t, core.StatusErrored, core.StatusFromError(err))
	// One wait only, not three
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.NotEmpty(t, findCalls(s))
}

func TestElement_RetriesNotFound(t *testing.T) {
	i, s := newInteractor(t)
	// Wait sees the element, then the follow-up lookup misses once
	el := s.AddVisible("accessibility id", "Text", core.Bounds{Width: 100, Height: 40})
	flaky := &vanishing{Finder: i.remote, misses: 1}
	i.remote = flaky

	id, err := i.Element(context.Background(), textLink)
	require.NoError(t, err)
	assert.Equal(t, el.ID, id)
	assert.Equal(t, 0, flaky.misses)
}

func TestElement_NotFoundAfterAttempts(t *testing.T) {
	i, s := newInteractor(t)
	s.AddVisible("accessibility id", "Text", core.Bounds{Width: 100, Height: 40})
	flaky := &vanishing{Finder: i.remote, misses: 10}
	i.remote = flaky

	_, err := i.Element(context.Background(), textLink, WithAttempts(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrElementNotFound))
	assert.Contains(t, err.Error(), "Could not locate element with value: ('accessibility id', 'Text')")
	assert.Equal(t, 8, flaky.misses)
	assert.Equal(t, core.StatusFailed, core.StatusFromError(err))
}

func TestElements(t *testing.T) {
	i, s := newInteractor(t)
	menu := locators.Common.MenuElements
	for _, text := range []string{"Accessibility", "Animation", "App"} {
		s.Add(appiumtest.Element{Strategy: "xpath", Value: menu.Value, Text: text, Displayed: true, Enabled: true})
	}

	ids, err := i.Elements(context.Background(), menu)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestElements_EmptyListNotFound(t *testing.T) {
	i, s := newInteractor(t)
	s.AddVisible("xpath", "//android.widget.TextView", core.Bounds{})
	i.remote = &emptyList{Finder: i.remote}

	_, err := i.Elements(context.Background(), locators.Common.MenuElements)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrElementNotFound))
	assert.Contains(t, err.Error(), "Could not locate element list with value")
}

func TestElements_TimeoutPropagatesImmediately(t *testing.T) {
	i, _ := newInteractor(t)

	_, err := i.Elements(context.Background(), locators.Common.MenuElements)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrWaitTimeout))
	assert.False(t, errors.Is(err, core.ErrElementNotFound))
	assert.NotContains(t, err.Error(), "Could not locate element list")
	assert.Equal(t, core.StatusErrored, core.StatusFromError(err))
}

func TestIsDisplayed(t *testing.T) {
	i, s := newInteractor(t)
	ctx := context.Background()
	el := s.AddVisible("accessibility id", "Text", core.Bounds{Width: 100, Height: 40})

	require.NoError(t, i.IsDisplayed(ctx, textLink, true))

	s.SetDisplayed(el, false)
	err := i.IsDisplayed(ctx, textLink, true, WithAttempts(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrElementNotVisible))
	assert.Equal(t, "Element ('accessibility id', 'Text') was not displayed as expected.", err.(*core.ExecutionError).Message)
	assert.Equal(t, core.ErrCategoryAssertion, core.CategoryOf(err))
}

func TestIsDisplayed_ExpectedHiddenButShown(t *testing.T) {
	i, s := newInteractor(t)
	s.AddVisible("accessibility id", "Text", core.Bounds{Width: 100, Height: 40})

	err := i.IsDisplayed(context.Background(), textLink, false, WithAttempts(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConditionNotMet))
	assert.Equal(t, "Element ('accessibility id', 'Text') was displayed when it shouldn't be.", err.(*core.ExecutionError).Message)
}

func TestIsDisplayed_PresentCondition(t *testing.T) {
	i, s := newInteractor(t)
	s.Add(appiumtest.Element{Strategy: "accessibility id", Value: "Text", Displayed: false})

	require.NoError(t, i.IsDisplayed(context.Background(), textLink, false, WithCondition(Present)))
}

func TestIsDisplayed_RecoversOnRetry(t *testing.T) {
	i, s := newInteractor(t)
	s.Add(appiumtest.Element{Strategy: "accessibility id", Value: "Text", Displayed: true, Enabled: true, FailFinds: 1})

	require.NoError(t, i.IsDisplayed(context.Background(), textLink, true))
}

func TestIsExist(t *testing.T) {
	i, s := newInteractor(t)
	ctx := context.Background()
	el := s.AddVisible("accessibility id", "Text", core.Bounds{Width: 100, Height: 40})

	assert.True(t, i.IsExist(ctx, textLink, true))
	assert.False(t, i.IsExist(ctx, textLink, false))

	s.Remove(el)
	assert.False(t, i.IsExist(ctx, textLink, true, WithAttempts(2)))
	assert.True(t, i.IsExist(ctx, textLink, false, WithAttempts(2)))
}

func TestIsExist_NotFoundShortCircuits(t *testing.T) {
	i, s := newInteractor(t)
	s.AddVisible("accessibility id", "Text", core.Bounds{Width: 100, Height: 40})
	flaky := &vanishing{Finder: i.remote, misses: 10}
	i.remote = flaky

	assert.True(t, i.IsExist(context.Background(), textLink, false))
	// Returned on the first miss
	assert.Equal(t, 9, flaky.misses)
}

func TestIsExist_OtherErrorsRetried(t *testing.T) {
	i, s := newInteractor(t)
	s.Add(appiumtest.Element{Strategy: "accessibility id", Value: "Text", Displayed: true, Enabled: true, FailFinds: 1})

	assert.True(t, i.IsExist(context.Background(), textLink, true))
}

func TestBuildOptions(t *testing.T) {
	o := buildOptions(nil)
	assert.Equal(t, options{attempts: 3, condition: Visible, waitType: Default}, o)

	o = buildOptions([]Option{WithAttempts(0), WithCondition(Clickable), WithWaitType(Fluent)})
	assert.Equal(t, options{attempts: 1, condition: Clickable, waitType: Fluent}, o)
}

// vanishing lets waits succeed but fails the lookup that follows a
// successful displayed check.
type vanishing struct {
	Finder
	misses int
	armed  bool
}

func (v *vanishing) IsElementDisplayed(ctx context.Context, id string) (bool, error) {
	v.armed = true
	return v.Finder.IsElementDisplayed(ctx, id)
}

func (v *vanishing) FindElement(ctx context.Context, strategy, value string) (string, error) {
	armed := v.armed
	v.armed = false
	if armed && v.misses > 0 {
		v.misses--
		return "", &appium.WebDriverError{Status: 404, Code: "no such element"}
	}
	return v.Finder.FindElement(ctx, strategy, value)
}

// emptyList reports no matches for list lookups.
type emptyList struct {
	Finder
}

func (emptyList) FindElements(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func findCalls(s *appiumtest.Server) []appiumtest.Call {
	var calls []appiumtest.Call
	for _, c := range s.Calls() {
		if c.Method == "POST" && strings.HasSuffix(c.Path, "/element") {
			calls = append(calls, c)
		}
	}
	return calls
}
