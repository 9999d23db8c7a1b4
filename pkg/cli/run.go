package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/screen-runner/pkg/logger"
	"github.com/devicelab-dev/screen-runner/pkg/script"
	"github.com/devicelab-dev/screen-runner/pkg/suite"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run scenarios, each on a fresh Appium session",
	Description: `Run the built-in gesture scenarios or JavaScript scenario files.

Every scenario gets its own session, which is quit when the scenario ends.
Reports are written to <output>/<run-id>/report.json with screenshots of
failed scenarios under <output>/<run-id>/screenshots/.

Examples:
  screen-runner --platform android run
  screen-runner --platform android run --scenario click --scenario scroll_to_element
  screen-runner run --platforms android --platforms ios --parallel 2
  screen-runner --platform ios run --script flows/login.js -e USER=test`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "scenario",
			Aliases: []string{"s"},
			Usage:   "Built-in scenario to run (default: all)",
		},
		&cli.StringSliceFlag{
			Name:  "script",
			Usage: "JavaScript scenario file to run instead of the built-in scenarios",
		},
		&cli.StringSliceFlag{
			Name:    "var",
			Aliases: []string{"e"},
			Usage:   "Script variables (KEY=VALUE), exposed as env",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports (default: output_dir from settings)",
		},
		&cli.StringSliceFlag{
			Name:  "platforms",
			Usage: "Run the scenarios once per platform, concurrently",
		},
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "Max concurrent scenarios per platform",
			Value: 1,
		},
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Skip remaining scenarios after the first failure",
		},
		&cli.StringFlag{
			Name:  "locators",
			Usage: "YAML file with locator overrides (default: locators_file from settings)",
		},
	},
	Action: runRun,
}

func runRun(c *cli.Context) error {
	rc, err := loadRunConfig(c)
	if err != nil {
		return err
	}

	output := firstNonEmpty(c.String("output"), rc.Workspace.Output, rc.Settings.OutputDir)
	if err := os.MkdirAll(output, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if c.String("log-file") == "" {
		if err := setupLogging(c, filepath.Join(output, "screen-runner.log")); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "Warning: %v\n", err)
		}
	}

	registry, err := rc.registry(c.String("locators"))
	if err != nil {
		return fmt.Errorf("failed to load locators: %w", err)
	}
	scenarios, err := selectScenarios(c, rc)
	if err != nil {
		return err
	}
	platforms := c.StringSlice("platforms")
	if len(platforms) == 0 {
		platforms = rc.Workspace.Platforms
	}
	if len(platforms) == 0 {
		platforms = []string{rc.Platform}
	}

	factory, err := rc.factory()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := c.App.Writer
	progress := newProgress(out, len(scenarios)*len(platforms))
	logger.Info("=== Run started: %d scenarios on %v ===", len(scenarios), platforms)
	results, err := suite.RunPlatforms(ctx, factory, suite.Config{
		OutputDir:       output,
		Device:          rc.Device,
		App:             rc.App,
		Server:          rc.Settings.AppiumServer,
		Version:         Version,
		Parallelism:     c.Int("parallel"),
		StopOnFail:      c.Bool("stop-on-fail"),
		Artifacts:       rc.Settings.Artifacts,
		Registry:        registry,
		OnScenarioStart: progress.start,
		OnScenarioEnd:   progress.end,
	}, platforms, scenarios)
	if err != nil {
		return err
	}

	printSummary(out, results)
	for _, r := range results {
		if !r.OK() {
			return cli.Exit("some scenarios did not pass", 1)
		}
	}
	return nil
}

// selectScenarios returns the script scenarios when scripts are given,
// else the selected built-in scenarios.
func selectScenarios(c *cli.Context, rc *RunConfig) ([]suite.Scenario, error) {
	scripts := c.StringSlice("script")
	if len(scripts) == 0 {
		scripts = rc.Workspace.Scripts
	}
	if len(scripts) > 0 {
		env := make(map[string]string, len(rc.Workspace.Env))
		for k, v := range rc.Workspace.Env {
			env[k] = v
		}
		for k, v := range parseEnvVars(c.StringSlice("var")) {
			env[k] = v
		}
		return script.Scenarios(scripts, env, script.WithConsole(c.App.Writer)), nil
	}

	names := c.StringSlice("scenario")
	if len(names) == 0 {
		names = rc.Workspace.Scenarios
	}
	return suite.Select(suite.BaseActions(), names)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
