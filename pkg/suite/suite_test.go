package suite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devicelab-dev/screen-runner/pkg/config"
	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/driver/appium/appiumtest"
	"github.com/devicelab-dev/screen-runner/pkg/drivers"
	"github.com/devicelab-dev/screen-runner/pkg/interactor"
	"github.com/devicelab-dev/screen-runner/pkg/report"
	"github.com/devicelab-dev/screen-runner/pkg/screens/mainscreen"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

func testSettings(server string) *config.Settings {
	return &config.Settings{
		AppiumServer:         server,
		SessionRetries:       0,
		SessionRetryInterval: time.Millisecond,
		Android: map[string]interface{}{
			"platformName":      "Android",
			"appium:deviceName": "emulator-5554",
			"appium:appPackage": "io.appium.android.apis",
			"appium:app":        "/apps/demo.apk",
		},
		IOS: map[string]interface{}{
			"platformName":      "iOS",
			"appium:deviceName": "iPhone 15",
			"appium:bundleId":   "io.appium.TestApp",
		},
	}
}

// demoApp registers the main menu of the demo app.
func demoApp(s *appiumtest.Server) {
	s.AddVisible("accessibility id", "Text", core.Bounds{X: 0, Y: 900, Width: 1080, Height: 120})
	s.AddVisible("accessibility id", "Content", core.Bounds{X: 0, Y: 300, Width: 1080, Height: 120})
	s.AddVisible("accessibility id", "Views", core.Bounds{X: 0, Y: 1700, Width: 1080, Height: 120})
	s.Add(appiumtest.Element{Strategy: "accessibility id", Value: "ImageButton", Displayed: true, Enabled: true, AppearAfterSwipes: 1})
	s.Add(appiumtest.Element{Strategy: "accessibility id", Value: "TextFields", Displayed: true, Enabled: true, AppearAfterSwipes: 1})
}

func fastWaits(m *mainscreen.MainScreen) {
	for _, w := range []interactor.WaitType{interactor.Default, interactor.Short, interactor.Long, interactor.Fluent} {
		m.SetWaiter(w, interactor.Waiter{Timeout: 100 * time.Millisecond, Poll: 10 * time.Millisecond})
	}
	m.SetRetryDelay(time.Millisecond)
}

func testConfig(t *testing.T, platform string) Config {
	return Config{
		OutputDir: t.TempDir(),
		Platform:  platform,
		Artifacts: core.DefaultArtifactConfig(),
		Prepare:   fastWaits,
	}
}

func newServer(t *testing.T) (*appiumtest.Server, *drivers.Factory) {
	t.Helper()
	s := appiumtest.New(t, appiumtest.Config{})
	demoApp(s)
	return s, drivers.NewFactory(testSettings(s.URL()))
}

func scenario(name string, err error) Scenario {
	return Scenario{Name: name, Run: func(context.Context, *mainscreen.MainScreen) error { return err }}
}

func TestBaseActions(t *testing.T) {
	assert.Equal(t,
		[]string{"click", "tap", "scroll_by_coordinates", "scroll_to_element", "scroll_until_visible"},
		Names(BaseActions()))
}

func TestSelect(t *testing.T) {
	all := BaseActions()

	got, err := Select(all, nil)
	require.NoError(t, err)
	assert.Len(t, got, len(all))

	got, err = Select(all, []string{"tap", "click"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tap", "click"}, Names(got))

	_, err = Select(all, []string{"click", "swim"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "swim")
}

func TestRunner_BaseActions(t *testing.T) {
	s, factory := newServer(t)
	cfg := testConfig(t, "android")
	cfg.RunID = "run-base"

	result, err := NewRunner(factory, cfg).Run(context.Background(), BaseActions())
	require.NoError(t, err)

	for _, sr := range result.Scenarios {
		assert.Equal(t, core.StatusPassed, sr.Status, "%s: %v", sr.Name, sr.Err)
		assert.NotEmpty(t, sr.SessionID, sr.Name)
		assert.Empty(t, sr.Attachments, sr.Name)
	}
	assert.True(t, result.OK())
	assert.Equal(t, core.StatusPassed, result.Status)
	assert.Equal(t, 5, result.Passed)
	assert.Equal(t, "android", result.Platform)
	assert.Equal(t, 5, s.Sessions(), "one session per scenario")
	assert.Equal(t, 5, s.Quits())
	assert.Equal(t, 0, s.Active())

	assert.Equal(t, filepath.Join(cfg.OutputDir, "run-base"), result.Dir)
	index, err := report.Read(result.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPassed, index.Status)
	assert.Equal(t, 5, index.Summary.Passed)
	assert.Equal(t, "android", index.Device.Platform)
	assert.NoDirExists(t, filepath.Join(result.Dir, report.ScreenshotsDir))
}

func TestRunner_FailureCapturesArtifacts(t *testing.T) {
	s, factory := newServer(t)
	cfg := testConfig(t, "android")
	cfg.Artifacts.PageSource = true

	scenarios := []Scenario{
		scenario("fails", core.ErrConditionNotMet.WithMessage("Element was not displayed as expected.")),
		scenario("passes", nil),
	}

	result, err := NewRunner(factory, cfg).Run(context.Background(), scenarios)
	require.NoError(t, err)

	failed := result.Scenarios[0]
	assert.Equal(t, core.StatusFailed, failed.Status)
	assert.True(t, errors.Is(failed.Err, core.ErrConditionNotMet))
	require.Len(t, failed.Attachments, 2)
	assert.Equal(t, filepath.Join("screenshots", "fails.png"), failed.Attachments[0].Path)
	assert.Equal(t, filepath.Join("hierarchy", "fails.xml"), failed.Attachments[1].Path)

	png, err := os.ReadFile(filepath.Join(result.Dir, "screenshots", "fails.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, png)
	assert.FileExists(t, filepath.Join(result.Dir, "hierarchy", "fails.xml"))
	assert.NoFileExists(t, filepath.Join(result.Dir, "screenshots", "passes.png"))

	assert.Equal(t, core.StatusFailed, result.Status)
	assert.False(t, result.OK())
	assert.Equal(t, 2, s.Quits(), "sessions quit after failures too")

	index, err := report.Read(result.ReportPath)
	require.NoError(t, err)
	require.NotNil(t, index.Scenarios[0].Error)
	assert.Equal(t, "assertion", index.Scenarios[0].Error.Category)
	require.Len(t, index.Scenarios[0].Attachments, 2)
	assert.Equal(t, core.ContentTypeXML, index.Scenarios[0].Attachments[1].ContentType)
}

func TestRunner_ConfigErrorIsErrored(t *testing.T) {
	_, factory := newServer(t)
	cfg := testConfig(t, "android")

	result, err := NewRunner(factory, cfg).Run(context.Background(), []Scenario{{
		Name: "content then sideways",
		Run: func(ctx context.Context, m *mainscreen.MainScreen) error {
			if err := m.ClickOnContentLink(ctx); err != nil {
				return err
			}
			return m.ScrollViewByCoordinates(ctx, "sideways")
		},
	}})
	require.NoError(t, err)

	sr := result.Scenarios[0]
	assert.Equal(t, core.StatusErrored, sr.Status)
	assert.True(t, errors.Is(sr.Err, core.ErrInvalidGesture))
	assert.Equal(t, core.StatusErrored, result.Status)
	assert.Len(t, sr.Attachments, 1)
}

func TestRunner_SessionFailure(t *testing.T) {
	s := appiumtest.New(t, appiumtest.Config{})
	url := s.URL()
	s.Close()
	cfg := testConfig(t, "android")

	result, err := NewRunner(drivers.NewFactory(testSettings(url)), cfg).Run(context.Background(), []Scenario{scenario("click", nil)})
	require.NoError(t, err)

	sr := result.Scenarios[0]
	assert.Equal(t, core.StatusErrored, sr.Status)
	assert.True(t, errors.Is(sr.Err, core.ErrServerUnreachable))
	assert.Empty(t, sr.SessionID)
	assert.Empty(t, sr.Attachments)
	assert.Equal(t, 1, result.Errored)
}

func TestRunner_StopOnFail(t *testing.T) {
	_, factory := newServer(t)
	cfg := testConfig(t, "android")
	cfg.StopOnFail = true
	cfg.Artifacts = core.ArtifactConfig{}

	result, err := NewRunner(factory, cfg).Run(context.Background(), []Scenario{
		scenario("first", nil),
		scenario("second", core.ErrElementNotFound),
		scenario("third", nil),
	})
	require.NoError(t, err)

	assert.Equal(t, core.StatusPassed, result.Scenarios[0].Status)
	assert.Equal(t, core.StatusFailed, result.Scenarios[1].Status)
	assert.Equal(t, core.StatusSkipped, result.Scenarios[2].Status)
	assert.EqualError(t, result.Scenarios[2].Err, "run stopped")
	assert.Equal(t, 1, result.Skipped)
}

func TestRunner_Cancelled(t *testing.T) {
	s, factory := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewRunner(factory, testConfig(t, "android")).Run(ctx, []Scenario{scenario("a", nil), scenario("b", nil)})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, core.StatusPassed, result.Status)
	assert.Equal(t, 0, s.Sessions())

	index, err := report.Read(result.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, 2, index.Summary.Skipped)
	assert.Equal(t, "run cancelled", index.Scenarios[0].Error.Message)
}

func TestRunner_Panic(t *testing.T) {
	s, factory := newServer(t)
	cfg := testConfig(t, "android")
	cfg.Artifacts = core.ArtifactConfig{}

	result, err := NewRunner(factory, cfg).Run(context.Background(), []Scenario{{
		Name: "panics",
		Run:  func(context.Context, *mainscreen.MainScreen) error { panic("boom") },
	}})
	require.NoError(t, err)

	assert.Equal(t, core.StatusErrored, result.Scenarios[0].Status)
	assert.Equal(t, core.ErrCategoryApp, core.CategoryOf(result.Scenarios[0].Err))
	assert.Equal(t, 1, s.Quits())
}

func TestRunner_Parallel(t *testing.T) {
	s, factory := newServer(t)
	cfg := testConfig(t, "android")
	cfg.Parallelism = 3

	var mu sync.Mutex
	var started, ended []string
	cfg.OnScenarioStart = func(name string) {
		mu.Lock()
		started = append(started, name)
		mu.Unlock()
	}
	cfg.OnScenarioEnd = func(r ScenarioResult) {
		mu.Lock()
		ended = append(ended, r.Name)
		mu.Unlock()
	}

	var scenarios []Scenario
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		scenarios = append(scenarios, Scenario{Name: name, Run: func(ctx context.Context, m *mainscreen.MainScreen) error {
			return m.TapOnTextLink(ctx)
		}})
	}

	result, err := NewRunner(factory, cfg).Run(context.Background(), scenarios)
	require.NoError(t, err)

	assert.Equal(t, 6, result.Passed)
	assert.Equal(t, 6, s.Sessions())
	assert.Equal(t, 0, s.Active())
	assert.ElementsMatch(t, Names(scenarios), started)
	assert.ElementsMatch(t, Names(scenarios), ended)
	for i, sr := range result.Scenarios {
		assert.Equal(t, scenarios[i].Name, sr.Name, "results keep scenario order")
	}
}

func TestNewRunner_GeneratesRunID(t *testing.T) {
	a := NewRunner(nil, Config{})
	b := NewRunner(nil, Config{})
	assert.Len(t, a.RunID(), 36)
	assert.NotEqual(t, a.RunID(), b.RunID())
	assert.Equal(t, "fixed", NewRunner(nil, Config{RunID: "fixed"}).RunID())
}

// platformFactory routes each platform to its own server.
type platformFactory map[string]SessionFactory

func (f platformFactory) NewSession(ctx context.Context, platform string) (*drivers.Session, error) {
	return f[platform].NewSession(ctx, platform)
}

func TestRunPlatforms(t *testing.T) {
	android, androidFactory := newServer(t)
	ios, iosFactory := newServer(t)
	factory := platformFactory{"android": androidFactory, "ios": iosFactory}
	cfg := testConfig(t, "")
	cfg.RunID = "nightly"

	results, err := RunPlatforms(context.Background(), factory, cfg, []string{"android", "ios"}, BaseActions()[:2])
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "android", results[0].Platform)
	assert.Equal(t, "nightly-android", results[0].RunID)
	assert.Equal(t, "ios", results[1].Platform)
	assert.Equal(t, "nightly-ios", results[1].RunID)
	assert.NotEqual(t, results[0].Dir, results[1].Dir)
	for _, r := range results {
		assert.True(t, r.OK(), r.Platform)
		assert.FileExists(t, r.ReportPath)
	}

	assert.Equal(t, 2, android.Sessions())
	assert.Equal(t, 2, ios.Sessions())
	assert.Equal(t, "iOS", ios.Capabilities()["platformName"])
}

func TestRunPlatforms_ReportError(t *testing.T) {
	_, factory := newServer(t)
	cfg := testConfig(t, "")
	blocker := filepath.Join(cfg.OutputDir, "blocked")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.OutputDir = blocker

	_, err := RunPlatforms(context.Background(), factory, cfg, []string{"android"}, BaseActions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "android")
}

func TestRunPlatforms_NoPlatforms(t *testing.T) {
	_, err := RunPlatforms(context.Background(), nil, Config{}, nil, BaseActions())
	assert.Error(t, err)
}

// brokenCamera fails screenshots but still returns the page source.
type brokenCamera struct{}

func (brokenCamera) Screenshot(context.Context) ([]byte, error) {
	return nil, errors.New("screenshot unavailable")
}

func (brokenCamera) Source(context.Context) (string, error) {
	return "<hierarchy/>", nil
}

func TestRunner_CaptureSkipsFailedArtifacts(t *testing.T) {
	cfg := testConfig(t, "android")
	cfg.Artifacts.PageSource = true
	r := NewRunner(nil, cfg)
	dir := t.TempDir()

	var collector core.ArtifactCollector = brokenCamera{}
	attachments := r.capture(context.Background(), collector, "broken", core.StatusFailed, dir)

	require.Len(t, attachments, 1)
	assert.Equal(t, filepath.Join("hierarchy", "broken.xml"), attachments[0].Path)
	assert.Nil(t, attachments[0].Body)
	assert.FileExists(t, filepath.Join(dir, "hierarchy", "broken.xml"))
	assert.NoFileExists(t, filepath.Join(dir, "screenshots", "broken.png"))

	assert.Empty(t, r.capture(context.Background(), collector, "passes", core.StatusPassed, dir))
}
