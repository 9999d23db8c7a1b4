package cli

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/screen-runner/pkg/drivers"
)

var capsCommand = &cli.Command{
	Name:  "caps",
	Usage: "Print the session capabilities resolved for the platform",
	Description: `Resolve settings for the selected environment and print the
capabilities a new session would be created with.

Examples:
  screen-runner --platform android caps
  screen-runner --env stage --platform ios caps --yaml`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "yaml",
			Usage: "Print YAML instead of JSON",
		},
	},
	Action: func(c *cli.Context) error {
		rc, err := loadRunConfig(c)
		if err != nil {
			return err
		}
		factory, err := rc.factory()
		if err != nil {
			return err
		}
		caps, err := factory.Capabilities(drivers.ParsePlatform(rc.Platform))
		if err != nil {
			return err
		}

		if c.Bool("yaml") {
			enc := yaml.NewEncoder(c.App.Writer)
			enc.SetIndent(2)
			if err := enc.Encode(caps); err != nil {
				return fmt.Errorf("failed to encode capabilities: %w", err)
			}
			return enc.Close()
		}
		data, err := json.MarshalIndent(caps, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode capabilities: %w", err)
		}
		fmt.Fprintln(c.App.Writer, string(data))
		return nil
	},
}
