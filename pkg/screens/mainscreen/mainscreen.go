// Package mainscreen holds the flows of the demo app's main menu.
package mainscreen

import (
	"context"

	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/events"
	"github.com/devicelab-dev/screen-runner/pkg/locators"
	"github.com/devicelab-dev/screen-runner/pkg/screen"
)

// Registry names of the locators used by the main screen.
const (
	TextLink     = "common.text_link"
	ContentLink  = "common.content_link"
	ViewsLink    = "common.views_link"
	MenuElements = "common.menu_elements"
	ImageButton  = "common.image_button"
	TextField    = "common.text_field"
)

// MainScreen is the app's top-level menu.
type MainScreen struct {
	*screen.Screen
	registry *locators.Registry
}

// New creates the main screen. A nil registry uses locators.Default().
func New(remote events.Remote, registry *locators.Registry) *MainScreen {
	if registry == nil {
		registry = locators.Default()
	}
	return &MainScreen{
		Screen:   screen.New(remote),
		registry: registry,
	}
}

// Registry returns the locator registry the screen resolves names against.
func (m *MainScreen) Registry() *locators.Registry {
	return m.registry
}

func (m *MainScreen) locator(name string) (locators.Locator, error) {
	loc, err := m.registry.Lookup(name)
	if err != nil {
		return locators.Locator{}, core.ErrInvalidConfig.WithCause(err).WithMessagef("locator %s is not registered", name)
	}
	return loc, nil
}

func (m *MainScreen) click(ctx context.Context, name string, opts ...screen.ActionOption) error {
	loc, err := m.locator(name)
	if err != nil {
		return err
	}
	return m.Click(ctx, loc, opts...)
}

// ClickOnTextLink opens the Text menu with a click.
func (m *MainScreen) ClickOnTextLink(ctx context.Context, opts ...screen.ActionOption) error {
	return m.click(ctx, TextLink, opts...)
}

// TapOnTextLink opens the Text menu with a tap gesture.
func (m *MainScreen) TapOnTextLink(ctx context.Context, opts ...screen.ActionOption) error {
	loc, err := m.locator(TextLink)
	if err != nil {
		return err
	}
	return m.Tap(ctx, loc, opts...)
}

// ClickOnContentLink opens the Content menu.
func (m *MainScreen) ClickOnContentLink(ctx context.Context, opts ...screen.ActionOption) error {
	return m.click(ctx, ContentLink, opts...)
}

// OpenViews opens the Views menu.
func (m *MainScreen) OpenViews(ctx context.Context, opts ...screen.ActionOption) error {
	return m.click(ctx, ViewsLink, opts...)
}

// MenuItems returns the labels of the menu entries on screen.
func (m *MainScreen) MenuItems(ctx context.Context) ([]string, error) {
	loc, err := m.locator(MenuElements)
	if err != nil {
		return nil, err
	}
	return m.Texts(ctx, loc)
}

// ScrollViewByCoordinates swipes the list between 80% and 20% of the screen.
func (m *MainScreen) ScrollViewByCoordinates(ctx context.Context, dir screen.Direction, opts ...screen.ActionOption) error {
	var from, to screen.Point
	switch dir {
	case screen.Down:
		from, to = screen.Point{X: 0.5, Y: 0.8}, screen.Point{X: 0.5, Y: 0.2}
	case screen.Up:
		from, to = screen.Point{X: 0.5, Y: 0.2}, screen.Point{X: 0.5, Y: 0.8}
	case screen.Right:
		from, to = screen.Point{X: 0.8, Y: 0.5}, screen.Point{X: 0.2, Y: 0.5}
	case screen.Left:
		from, to = screen.Point{X: 0.2, Y: 0.5}, screen.Point{X: 0.8, Y: 0.5}
	default:
		return core.ErrInvalidGesture.WithMessagef("unknown direction %q", dir)
	}
	return m.Swipe(ctx, from, to, screen.DefaultSwipeDuration, opts...)
}

// ScrollToImageButton opens Views and scrolls down to the ImageButton entry.
func (m *MainScreen) ScrollToImageButton(ctx context.Context, opts ...screen.ActionOption) error {
	loc, err := m.locator(ImageButton)
	if err != nil {
		return err
	}
	if err := m.OpenViews(ctx); err != nil {
		return err
	}
	return m.ScrollToElement(ctx, loc, opts...)
}

// ScrollUntilTextFieldVisible opens Views and scrolls down until the
// TextFields entry shows.
func (m *MainScreen) ScrollUntilTextFieldVisible(ctx context.Context, opts ...screen.ActionOption) error {
	loc, err := m.locator(TextField)
	if err != nil {
		return err
	}
	if err := m.OpenViews(ctx); err != nil {
		return err
	}
	return m.ScrollUntilVisible(ctx, loc, screen.Down, screen.DefaultMaxSwipes, opts...)
}
