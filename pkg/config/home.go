package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "SCREEN_RUNNER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the screen-runner home directory, resolved once per
// process from $SCREEN_RUNNER_HOME, then the parent of a bin/ directory
// holding the binary, then the working directory.
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetAppsDir returns <home>/data/apps, where the bundled demo app lives.
func GetAppsDir() string {
	return filepath.Join(GetHome(), "data", "apps")
}

// GetReportsDir returns <home>/reports, the output_dir default.
func GetReportsDir() string {
	return filepath.Join(GetHome(), "reports")
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}
	if home, ok := installHome(); ok {
		return home
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// installHome reports <home> for a binary installed as <home>/bin/screen-runner.
func installHome() (string, bool) {
	exe, err := os.Executable()
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	bin := filepath.Dir(exe)
	if filepath.Base(bin) != "bin" {
		return "", false
	}
	return filepath.Dir(bin), true
}

// ResetHome clears the cached home directory. Tests use it after changing
// $SCREEN_RUNNER_HOME.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
