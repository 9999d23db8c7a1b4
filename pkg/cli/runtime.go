package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/screen-runner/pkg/config"
	"github.com/devicelab-dev/screen-runner/pkg/drivers"
	"github.com/devicelab-dev/screen-runner/pkg/events"
	"github.com/devicelab-dev/screen-runner/pkg/locators"
	"github.com/devicelab-dev/screen-runner/pkg/logger"
)

// RunConfig is the resolved configuration of one invocation. Flags win
// over the workspace config.yaml, which wins over flag defaults.
type RunConfig struct {
	Platform  string
	App       string
	Device    string
	Listeners string
	ConfigDir string

	Settings  *config.Settings
	Workspace *config.Config
}

func loadRunConfig(c *cli.Context) (*RunConfig, error) {
	dir := c.String("config-dir")
	settings, err := config.LoadSettings(config.SettingsOptions{Root: dir, Env: c.String("env")})
	if err != nil {
		return nil, err
	}
	if url := c.String("appium-url"); url != "" {
		settings.AppiumServer = url
	}

	workspaceDir := dir
	if workspaceDir == "" {
		workspaceDir = "."
	}
	workspace, err := config.LoadFromDir(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace config: %w", err)
	}

	rc := &RunConfig{
		Platform:  pick(c, "platform", workspace.Platform),
		App:       pick(c, "app", workspace.App),
		Device:    pick(c, "device", workspace.Device),
		Listeners: pick(c, "listeners", workspace.Listeners),
		ConfigDir: dir,
		Settings:  settings,
		Workspace: workspace,
	}
	logger.Info("Settings environment %s, platform %s, server %s", settings.Env, rc.Platform, settings.AppiumServer)
	return rc, nil
}

// pick returns the flag when set explicitly, else the workspace value,
// else the flag default.
func pick(c *cli.Context, flag, workspace string) string {
	if c.IsSet(flag) || workspace == "" {
		return c.String(flag)
	}
	return workspace
}

// factory builds the session factory for this invocation.
func (rc *RunConfig) factory() (*drivers.Factory, error) {
	listener, err := events.ListenerByName(rc.Listeners)
	if err != nil {
		return nil, err
	}
	opts := []drivers.Option{drivers.WithListener(listener)}
	if rc.App != "" {
		opts = append(opts, drivers.WithApp(rc.App))
	}
	if rc.Device != "" {
		opts = append(opts, drivers.WithDevice(rc.Device))
	}
	return drivers.NewFactory(rc.Settings, opts...), nil
}

// registry returns the default locators with the overrides file applied.
func (rc *RunConfig) registry(override string) (*locators.Registry, error) {
	reg := locators.Default()
	path := override
	if path == "" {
		path = rc.Settings.LocatorsFile
		if path != "" && !filepath.IsAbs(path) {
			root := rc.ConfigDir
			if root == "" {
				root = config.GetHome()
			}
			path = filepath.Join(root, path)
		}
	}
	if path == "" {
		return reg, nil
	}
	if err := reg.LoadFile(path); err != nil {
		return nil, err
	}
	logger.Info("Loaded locator overrides from %s", path)
	return reg, nil
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
