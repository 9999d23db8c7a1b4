// Package cli provides the command-line interface for screen-runner.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/screen-runner/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "platform",
		Aliases: []string{"p"},
		Usage:   "Platform to run on (ios, android)",
		Value:   "ios",
		EnvVars: []string{"SCREEN_RUNNER_PLATFORM"},
	},
	&cli.StringFlag{
		Name:    "app",
		Usage:   "App binary (.apk, .app, .ipa) to use instead of the configured one",
		EnvVars: []string{"SCREEN_RUNNER_APP"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"udid"},
		Usage:   "Device name capability",
		EnvVars: []string{"SCREEN_RUNNER_DEVICE"},
	},
	&cli.StringFlag{
		Name:  "env",
		Usage: "Settings environment (default: $ENV_FOR_APPIUM, then development)",
	},
	&cli.StringFlag{
		Name:  "listeners",
		Usage: "Session event listener (events, none)",
		Value: "events",
	},
	&cli.StringFlag{
		Name:    "appium-url",
		Usage:   "Appium server URL (overrides appium_server from settings)",
		EnvVars: []string{"APPIUM_URL"},
	},
	&cli.StringFlag{
		Name:    "config-dir",
		Usage:   "Directory holding config/settings.yaml and config.yaml (default: $SCREEN_RUNNER_HOME)",
		EnvVars: []string{"SCREEN_RUNNER_CONFIG_DIR"},
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Log file path (default: <output>/screen-runner.log for run)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable verbose logging to stderr",
		EnvVars: []string{"SCREEN_RUNNER_VERBOSE"},
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "screen-runner",
		Usage:   "Appium screen automation runner for mobile apps",
		Version: Version,
		Description: `screen-runner drives mobile apps through an Appium server and runs
gesture scenarios against them.

Examples:
  screen-runner --platform android run
  screen-runner --platform android run --scenario click --scenario tap
  screen-runner --platform ios run --script flows/login.js
  screen-runner --env stage caps --yaml
  screen-runner --platform android hierarchy --compact`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			return setupLogging(c, c.String("log-file"))
		},
		After: func(c *cli.Context) error {
			logger.Close()
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			capsCommand,
			hierarchyCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if coder, ok := err.(cli.ExitCoder); ok {
		return coder.ExitCode()
	}
	return 1
}

// setupLogging initializes the logger. With --verbose, debug lines also go
// to stderr.
func setupLogging(c *cli.Context, path string) error {
	opts := logger.Options{Path: path}
	if c.Bool("verbose") {
		opts.Level = "debug"
		opts.Console = consoleWriter(c)
	}
	if err := logger.InitWithOptions(opts); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func consoleWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}
