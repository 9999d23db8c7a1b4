package script

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/screen-runner/pkg/config"
	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/driver/appium/appiumtest"
	"github.com/devicelab-dev/screen-runner/pkg/drivers"
	"github.com/devicelab-dev/screen-runner/pkg/interactor"
	"github.com/devicelab-dev/screen-runner/pkg/screens/mainscreen"
	"github.com/devicelab-dev/screen-runner/pkg/suite"
)

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestScenarios_RunThroughSuite(t *testing.T) {
	s := appiumtest.New(t, appiumtest.Config{})
	link := s.AddVisible("accessibility id", "Text", core.Bounds{Width: 100, Height: 100})
	dir := t.TempDir()
	paths := []string{
		writeScript(t, dir, "open_text.js", `main.clickOnTextLink(); console.log("user", env.USER_NAME);`),
		writeScript(t, dir, "missing.js", `screen.click(locator("id", "missing"));`),
	}

	var console bytes.Buffer
	scenarios := Scenarios(paths, map[string]string{"USER_NAME": "ada"}, WithConsole(&console))
	assert.Equal(t, []string{"open_text", "missing"}, suite.Names(scenarios))

	factory := drivers.NewFactory(&config.Settings{
		AppiumServer: s.URL(),
		Android:      map[string]interface{}{"platformName": "Android", "appium:app": "/apps/demo.apk"},
	})
	result, err := suite.NewRunner(factory, suite.Config{
		OutputDir: t.TempDir(),
		Platform:  "android",
		Prepare: func(m *mainscreen.MainScreen) {
			for _, w := range []interactor.WaitType{interactor.Default, interactor.Short, interactor.Long, interactor.Fluent} {
				m.SetWaiter(w, interactor.Waiter{Timeout: 50 * time.Millisecond, Poll: 10 * time.Millisecond})
			}
		},
	}).Run(context.Background(), scenarios)
	require.NoError(t, err)

	assert.Equal(t, core.StatusPassed, result.Scenarios[0].Status)
	assert.Equal(t, 1, s.Clicks(link))
	assert.Equal(t, "user ada\n", console.String())

	assert.Equal(t, core.StatusErrored, result.Scenarios[1].Status)
	assert.True(t, errors.Is(result.Scenarios[1].Err, core.ErrWaitTimeout))
}
