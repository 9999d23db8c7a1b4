// Package suite runs scenarios against fresh Appium sessions and writes
// the run report.
package suite

import (
	"context"
	"strings"

	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/screen"
	"github.com/devicelab-dev/screen-runner/pkg/screens/mainscreen"
)

// Scenario is one test case. Run gets a main screen bound to a session
// opened for this scenario only.
type Scenario struct {
	Name string
	Run  func(ctx context.Context, m *mainscreen.MainScreen) error
}

// BaseActions returns the built-in gesture scenarios for the demo app.
func BaseActions() []Scenario {
	return []Scenario{
		{
			Name: "click",
			Run: func(ctx context.Context, m *mainscreen.MainScreen) error {
				return m.ClickOnTextLink(ctx)
			},
		},
		{
			Name: "tap",
			Run: func(ctx context.Context, m *mainscreen.MainScreen) error {
				return m.TapOnTextLink(ctx)
			},
		},
		{
			Name: "scroll_by_coordinates",
			Run: func(ctx context.Context, m *mainscreen.MainScreen) error {
				if err := m.ScrollViewByCoordinates(ctx, screen.Down); err != nil {
					return err
				}
				return m.Scroll(ctx, screen.Up, screen.DefaultScrollRatio)
			},
		},
		{
			Name: "scroll_to_element",
			Run: func(ctx context.Context, m *mainscreen.MainScreen) error {
				return m.ScrollToImageButton(ctx)
			},
		},
		{
			Name: "scroll_until_visible",
			Run: func(ctx context.Context, m *mainscreen.MainScreen) error {
				return m.ScrollUntilTextFieldVisible(ctx)
			},
		},
	}
}

// Names returns the scenario names in order.
func Names(scenarios []Scenario) []string {
	names := make([]string, len(scenarios))
	for i, sc := range scenarios {
		names[i] = sc.Name
	}
	return names
}

// Select returns the named scenarios in the order given. No names selects all.
func Select(scenarios []Scenario, names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}
	byName := make(map[string]Scenario, len(scenarios))
	for _, sc := range scenarios {
		byName[sc.Name] = sc
	}

	selected := make([]Scenario, 0, len(names))
	var unknown []string
	for _, name := range names {
		sc, ok := byName[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, sc)
	}
	if len(unknown) > 0 {
		return nil, core.ErrInvalidConfig.WithMessagef("unknown scenarios: %s (available: %s)",
			strings.Join(unknown, ", "), strings.Join(Names(scenarios), ", "))
	}
	return selected, nil
}
