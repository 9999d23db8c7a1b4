//go:build e2e

package suite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/screen-runner/pkg/config"
	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/drivers"
)

// TestBaseActions_E2E runs the built-in scenarios against a real Appium
// server using the settings under $SCREEN_RUNNER_HOME.
//
//	go test -tags e2e ./pkg/suite -run E2E
func TestBaseActions_E2E(t *testing.T) {
	settings, err := config.LoadSettings(config.SettingsOptions{})
	require.NoError(t, err)

	platform := os.Getenv("SCREEN_RUNNER_PLATFORM")
	if platform == "" {
		platform = string(drivers.Android)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	result, err := NewRunner(drivers.NewFactory(settings), Config{
		OutputDir: t.TempDir(),
		Platform:  platform,
		Server:    settings.AppiumServer,
		Artifacts: settings.Artifacts,
	}).Run(ctx, BaseActions())
	require.NoError(t, err)

	for _, sr := range result.Scenarios {
		if sr.Status != core.StatusPassed {
			t.Errorf("%s: %s: %v", sr.Name, sr.Status, sr.Err)
		}
	}
}
