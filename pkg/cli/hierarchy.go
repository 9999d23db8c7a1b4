package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/screen-runner/pkg/driver/appium"
	"github.com/devicelab-dev/screen-runner/pkg/logger"
)

var hierarchyCommand = &cli.Command{
	Name:  "hierarchy",
	Usage: "Print the current UI hierarchy with suggested locators",
	Description: `Open a session, capture the page source and list its elements.
Each element comes with the most stable locator found for it, ready to be
pasted into a locators override file.

Examples:
  screen-runner --platform android hierarchy
  screen-runner --platform ios hierarchy --compact --visible`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "compact",
			Usage: "Print CSV rows instead of JSON",
		},
		&cli.BoolFlag{
			Name:  "visible",
			Usage: "Only list displayed elements",
		},
	},
	Action: runHierarchy,
}

// hierarchyElement is one element of the hierarchy output.
type hierarchyElement struct {
	Depth     int    `json:"depth"`
	Class     string `json:"class"`
	Text      string `json:"text,omitempty"`
	Bounds    string `json:"bounds"`
	Displayed bool   `json:"displayed"`
	Enabled   bool   `json:"enabled"`
	Strategy  string `json:"strategy"`
	Locator   string `json:"locator"`
}

func runHierarchy(c *cli.Context) error {
	rc, err := loadRunConfig(c)
	if err != nil {
		return err
	}
	factory, err := rc.factory()
	if err != nil {
		return err
	}

	session, err := factory.NewSession(c.Context, rc.Platform)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Context), 30*time.Second)
		defer cancel()
		if err := session.Quit(ctx); err != nil {
			logger.Warn("Failed to quit session: %v", err)
		}
	}()

	source, err := session.Source(c.Context)
	if err != nil {
		return fmt.Errorf("failed to get page source: %w", err)
	}
	parsed, platform, err := appium.ParsePageSource(source)
	if err != nil {
		return fmt.Errorf("failed to parse page source: %w", err)
	}

	elements := make([]hierarchyElement, 0, len(parsed))
	for _, e := range parsed {
		if c.Bool("visible") && !e.Displayed {
			continue
		}
		loc := appium.SuggestLocator(e, platform)
		elements = append(elements, hierarchyElement{
			Depth:     e.Depth,
			Class:     e.Class(),
			Text:      e.DisplayText(),
			Bounds:    fmt.Sprintf("[%d,%d][%d,%d]", e.Bounds.X, e.Bounds.Y, e.Bounds.X+e.Bounds.Width, e.Bounds.Y+e.Bounds.Height),
			Displayed: e.Displayed,
			Enabled:   e.Enabled,
			Strategy:  string(loc.Strategy),
			Locator:   loc.Value,
		})
	}
	logger.Info("Captured %d elements from %s hierarchy", len(elements), platform)

	if c.Bool("compact") {
		return writeHierarchyCSV(c, elements)
	}
	data, err := json.MarshalIndent(elements, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode hierarchy: %w", err)
	}
	fmt.Fprintln(c.App.Writer, string(data))
	return nil
}

func writeHierarchyCSV(c *cli.Context, elements []hierarchyElement) error {
	w := csv.NewWriter(c.App.Writer)
	_ = w.Write([]string{"depth", "class", "text", "bounds", "displayed", "strategy", "locator"})
	for _, e := range elements {
		_ = w.Write([]string{
			strconv.Itoa(e.Depth), e.Class, e.Text, e.Bounds,
			strconv.FormatBool(e.Displayed), e.Strategy, e.Locator,
		})
	}
	w.Flush()
	return w.Error()
}
