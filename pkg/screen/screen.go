// Package screen provides semantic gestures over a remote session:
// click, tap, swipe, scroll, type and app control.
package screen

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/events"
	"github.com/devicelab-dev/screen-runner/pkg/interactor"
	"github.com/devicelab-dev/screen-runner/pkg/locators"
	"github.com/devicelab-dev/screen-runner/pkg/logger"
)

// Gesture defaults.
const (
	DefaultSwipeDuration     = 500 * time.Millisecond
	DefaultLongPressDuration = time.Second
	DefaultScrollRatio       = 0.5
	DefaultMaxSwipes         = 10
)

// Point is a screen position as ratios of the window size, each in [0,1].
type Point struct {
	X float64
	Y float64
}

func (p Point) valid() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// Direction is a scroll direction. Scrolling down reveals content below,
// so the finger moves up.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// ParseDirection parses a direction case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Up, Down, Left, Right:
		return d, nil
	}
	return "", core.ErrInvalidGesture.WithMessagef("unknown direction %q", s)
}

type actionOptions struct {
	sleep time.Duration
}

// ActionOption tunes a screen action.
type ActionOption func(*actionOptions)

// WithSleep pauses after the action completes.
func WithSleep(d time.Duration) ActionOption {
	return func(o *actionOptions) { o.sleep = d }
}

// Screen is the gesture layer. It embeds the Interactor, so waits and
// existence checks are available directly.
type Screen struct {
	*interactor.Interactor
	remote events.Remote
}

// New creates a Screen over a remote session.
func New(remote events.Remote) *Screen {
	return &Screen{
		Interactor: interactor.New(remote),
		remote:     remote,
	}
}

// Remote returns the underlying session.
func (s *Screen) Remote() events.Remote {
	return s.remote
}

// finish applies action options once the action has succeeded.
func (s *Screen) finish(ctx context.Context, err error, opts []ActionOption) error {
	if err != nil {
		return err
	}
	var o actionOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.sleep <= 0 {
		return nil
	}
	timer := time.NewTimer(o.sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Click waits until the element is clickable and clicks it.
func (s *Screen) Click(ctx context.Context, loc locators.Locator, opts ...ActionOption) error {
	id, err := s.Element(ctx, loc, interactor.WithCondition(interactor.Clickable))
	if err != nil {
		return err
	}
	logger.Debug("Click %s", loc)
	return s.finish(ctx, s.remote.ClickElement(ctx, id), opts)
}

// Tap waits until the element is visible and taps its center.
func (s *Screen) Tap(ctx context.Context, loc locators.Locator, opts ...ActionOption) error {
	x, y, err := s.center(ctx, loc)
	if err != nil {
		return err
	}
	logger.Debug("Tap %s at (%d, %d)", loc, x, y)
	return s.finish(ctx, s.remote.Tap(ctx, x, y), opts)
}

// TapByCoordinates taps at a position given as ratios of the window size.
func (s *Screen) TapByCoordinates(ctx context.Context, xRatio, yRatio float64, opts ...ActionOption) error {
	p := Point{X: xRatio, Y: yRatio}
	if !p.valid() {
		return core.ErrInvalidGesture.WithMessagef("tap ratios (%g, %g) outside [0,1]", xRatio, yRatio)
	}
	x, y, err := s.toPixels(ctx, p)
	if err != nil {
		return err
	}
	logger.Debug("Tap at (%d, %d)", x, y)
	return s.finish(ctx, s.remote.Tap(ctx, x, y), opts)
}

// DoubleTap double-taps the element center.
func (s *Screen) DoubleTap(ctx context.Context, loc locators.Locator, opts ...ActionOption) error {
	x, y, err := s.center(ctx, loc)
	if err != nil {
		return err
	}
	return s.finish(ctx, s.remote.DoubleTap(ctx, x, y), opts)
}

// LongPress presses the element center for d (DefaultLongPressDuration if zero).
func (s *Screen) LongPress(ctx context.Context, loc locators.Locator, d time.Duration, opts ...ActionOption) error {
	if d < 0 {
		return core.ErrInvalidGesture.WithMessagef("negative long press duration %s", d)
	}
	if d == 0 {
		d = DefaultLongPressDuration
	}
	x, y, err := s.center(ctx, loc)
	if err != nil {
		return err
	}
	return s.finish(ctx, s.remote.LongPress(ctx, x, y, int(d.Milliseconds())), opts)
}

// Swipe moves a finger between two window-relative points over d
// (DefaultSwipeDuration if zero).
func (s *Screen) Swipe(ctx context.Context, from, to Point, d time.Duration, opts ...ActionOption) error {
	if !from.valid() || !to.valid() {
		return core.ErrInvalidGesture.WithMessagef("swipe ratios %v -> %v outside [0,1]", from, to)
	}
	if from == to {
		return core.ErrInvalidGesture.WithMessage("swipe start and end are the same point")
	}
	if d < 0 {
		return core.ErrInvalidGesture.WithMessagef("negative swipe duration %s", d)
	}
	if d == 0 {
		d = DefaultSwipeDuration
	}

	x1, y1, err := s.toPixels(ctx, from)
	if err != nil {
		return err
	}
	x2, y2, err := s.toPixels(ctx, to)
	if err != nil {
		return err
	}
	logger.Debug("Swipe (%d, %d) -> (%d, %d) in %s", x1, y1, x2, y2, d)
	return s.finish(ctx, s.remote.Swipe(ctx, x1, y1, x2, y2, int(d.Milliseconds())), opts)
}

// Scroll swipes across the screen center covering ratio of the screen
// span (DefaultScrollRatio if zero).
func (s *Screen) Scroll(ctx context.Context, dir Direction, ratio float64, opts ...ActionOption) error {
	if ratio == 0 {
		ratio = DefaultScrollRatio
	}
	if ratio < 0 || ratio > 1 {
		return core.ErrInvalidGesture.WithMessagef("scroll ratio %g outside (0,1]", ratio)
	}

	half := ratio / 2
	var from, to Point
	switch dir {
	case Down:
		from, to = Point{X: 0.5, Y: 0.5 + half}, Point{X: 0.5, Y: 0.5 - half}
	case Up:
		from, to = Point{X: 0.5, Y: 0.5 - half}, Point{X: 0.5, Y: 0.5 + half}
	case Right:
		from, to = Point{X: 0.5 + half, Y: 0.5}, Point{X: 0.5 - half, Y: 0.5}
	case Left:
		from, to = Point{X: 0.5 - half, Y: 0.5}, Point{X: 0.5 + half, Y: 0.5}
	default:
		return core.ErrInvalidGesture.WithMessagef("unknown direction %q", dir)
	}
	return s.Swipe(ctx, from, to, DefaultSwipeDuration, opts...)
}

// ScrollUntilVisible scrolls in dir until the element exists, checking
// before each of at most maxSwipes scrolls.
func (s *Screen) ScrollUntilVisible(ctx context.Context, loc locators.Locator, dir Direction, maxSwipes int, opts ...ActionOption) error {
	for swipe := 0; ; swipe++ {
		if s.IsExist(ctx, loc, true, interactor.WithWaitType(interactor.Short), interactor.WithAttempts(1)) {
			return s.finish(ctx, nil, opts)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if swipe >= maxSwipes {
			break
		}
		logger.Debug("%s not visible, scrolling %s (%d/%d)", loc, dir, swipe+1, maxSwipes)
		if err := s.Scroll(ctx, dir, DefaultScrollRatio); err != nil {
			return err
		}
	}
	return core.ErrElementNotFound.WithMessagef("Element %s not visible after %d swipes %s", loc, maxSwipes, dir)
}

// ScrollToElement scrolls down until the element is visible.
func (s *Screen) ScrollToElement(ctx context.Context, loc locators.Locator, opts ...ActionOption) error {
	return s.ScrollUntilVisible(ctx, loc, Down, DefaultMaxSwipes, opts...)
}

// Type replaces the element's text.
func (s *Screen) Type(ctx context.Context, loc locators.Locator, text string, opts ...ActionOption) error {
	id, err := s.Element(ctx, loc)
	if err != nil {
		return err
	}
	if err := s.remote.ClearElement(ctx, id); err != nil {
		return err
	}
	return s.finish(ctx, s.remote.SendKeysToElement(ctx, id, text), opts)
}

// SwipeToDelete swipes a row from 90% to 10% of its width along its
// vertical center.
func (s *Screen) SwipeToDelete(ctx context.Context, loc locators.Locator, opts ...ActionOption) error {
	b, err := s.bounds(ctx, loc)
	if err != nil {
		return err
	}
	_, y := b.Center()
	x1 := b.X + b.Width*9/10
	x2 := b.X + b.Width/10
	return s.finish(ctx, s.remote.Swipe(ctx, x1, y, x2, y, int(DefaultSwipeDuration.Milliseconds())), opts)
}

// Texts returns the text of every element matching the locator.
func (s *Screen) Texts(ctx context.Context, loc locators.Locator) ([]string, error) {
	ids, err := s.Elements(ctx, loc)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		text, err := s.remote.ElementText(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read text of %s: %w", loc, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// ScreenSize returns the window width and height.
func (s *Screen) ScreenSize(ctx context.Context) (int, int, error) {
	return s.remote.WindowSize(ctx)
}

// Back navigates back.
func (s *Screen) Back(ctx context.Context, opts ...ActionOption) error {
	return s.finish(ctx, s.remote.Back(ctx), opts)
}

// Close closes the app under test.
func (s *Screen) Close(ctx context.Context) error {
	return s.remote.CloseApp(ctx)
}

// Reset resets the app under test.
func (s *Screen) Reset(ctx context.Context) error {
	return s.remote.ResetApp(ctx)
}

// LaunchApp launches the app under test.
func (s *Screen) LaunchApp(ctx context.Context, opts ...ActionOption) error {
	return s.finish(ctx, s.remote.LaunchApp(ctx), opts)
}

func (s *Screen) bounds(ctx context.Context, loc locators.Locator) (core.Bounds, error) {
	id, err := s.Element(ctx, loc)
	if err != nil {
		return core.Bounds{}, err
	}
	x, y, w, h, err := s.remote.ElementRect(ctx, id)
	if err != nil {
		return core.Bounds{}, err
	}
	return core.Bounds{X: x, Y: y, Width: w, Height: h}, nil
}

func (s *Screen) center(ctx context.Context, loc locators.Locator) (int, int, error) {
	b, err := s.bounds(ctx, loc)
	if err != nil {
		return 0, 0, err
	}
	x, y := b.Center()
	return x, y, nil
}

// toPixels converts a ratio point using the cached window size, fetching it once if unknown.
func (s *Screen) toPixels(ctx context.Context, p Point) (int, int, error) {
	w, h := s.remote.ScreenSize()
	if w == 0 || h == 0 {
		var err error
		if w, h, err = s.remote.WindowSize(ctx); err != nil {
			return 0, 0, err
		}
	}
	return toPixel(w, p.X), toPixel(h, p.Y), nil
}

// toPixel maps a ratio to a coordinate inside [0, size-1].
func toPixel(size int, ratio float64) int {
	px := int(math.Round(float64(size) * ratio))
	return max(0, min(px, size-1))
}
