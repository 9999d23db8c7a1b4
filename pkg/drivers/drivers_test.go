package drivers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/screen-runner/pkg/config"
	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/driver/appium/appiumtest"
	"github.com/devicelab-dev/screen-runner/pkg/events"
)

func testSettings(server string) *config.Settings {
	return &config.Settings{
		AppiumServer:         server,
		SessionRetries:       2,
		SessionRetryInterval: 10 * time.Millisecond,
		Android: map[string]interface{}{
			"platformName":      "Android",
			"automationName":    "UiAutomator2",
			"appium:deviceName": "emulator-5554",
			"appium:appPackage": "io.appium.android.apis",
			"newCommandTimeout": 300,
		},
		IOS: map[string]interface{}{
			"platformName":      "iOS",
			"appium:deviceName": "iPhone 15",
			"bundleId":          "io.appium.TestApp",
		},
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want Platform
	}{
		{"android", Android},
		{"Android", Android},
		{" ANDROID ", Android},
		{"ios", IOS},
		{"iOS", IOS},
		{"windows", IOS},
		{"", IOS},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParsePlatform(tt.in), "ParsePlatform(%q)", tt.in)
	}
}

func TestNormalizeCaps(t *testing.T) {
	got := NormalizeCaps(map[string]interface{}{
		"platformName":        "Android",
		"deviceName":          "Pixel",
		"appium:udid":         "abc",
		"acceptInsecureCerts": true,
	})
	assert.Equal(t, map[string]interface{}{
		"platformName":        "Android",
		"appium:deviceName":   "Pixel",
		"appium:udid":         "abc",
		"acceptInsecureCerts": true,
	}, got)
}

func TestAndroidCaps_DemoApp(t *testing.T) {
	config.ResetHome()
	t.Cleanup(config.ResetHome)
	t.Setenv("SCREEN_RUNNER_HOME", "/opt/screen-runner")

	caps, err := AndroidCaps(testSettings(""))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/opt/screen-runner", "data", "apps", "demo.apk"), caps["appium:app"])
	assert.Equal(t, "UiAutomator2", caps["appium:automationName"])
	assert.Equal(t, "Android", caps["platformName"])
}

func TestAndroidCaps_AppSetting(t *testing.T) {
	s := testSettings("")
	s.AndroidApp = "/apps/custom.apk"

	caps, err := AndroidCaps(s)
	require.NoError(t, err)
	assert.Equal(t, "/apps/custom.apk", caps["appium:app"])
}

func TestAndroidCaps_Missing(t *testing.T) {
	_, err := AndroidCaps(&config.Settings{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingCapabilities))
	assert.Contains(t, err.Error(), "ANDROID capabilities not found in settings")
	assert.Equal(t, core.ErrCategoryConfig, core.CategoryOf(err))
}

func TestIOSCaps(t *testing.T) {
	caps := IOSCaps(testSettings(""))
	assert.Equal(t, "io.appium.TestApp", caps["appium:bundleId"])
	assert.NotContains(t, caps, "appium:app")
}

func TestFactory_CapabilityOverrides(t *testing.T) {
	f := NewFactory(testSettings(""), WithApp("/tmp/app.apk"), WithDevice("Pixel_8"))

	caps, err := f.Capabilities(Android)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/app.apk", caps["appium:app"])
	assert.Equal(t, "Pixel_8", caps["appium:deviceName"])

	caps, err = f.Capabilities(IOS)
	require.NoError(t, err)
	assert.Equal(t, "Pixel_8", caps["appium:deviceName"])
}

func TestFactory_NewSession(t *testing.T) {
	s := appiumtest.New(t, appiumtest.Config{Width: 1080, Height: 2400})
	var quits int
	listener := &quitCounter{count: &quits}
	f := NewFactory(testSettings(s.URL()), WithListener(listener))
	ctx := context.Background()

	session, err := f.NewSession(ctx, "Android")
	require.NoError(t, err)

	assert.Equal(t, Android, session.Target)
	assert.Equal(t, "session-1", session.Info.SessionID)
	assert.Equal(t, "emulator-5554", session.Info.DeviceName)
	assert.Equal(t, "io.appium.android.apis", session.Info.AppID)
	assert.Equal(t, 2400, session.Info.ScreenHeight)
	assert.Equal(t, "Android", s.Capabilities()["platformName"])
	assert.Equal(t, 300.0, s.Capabilities()["appium:newCommandTimeout"])

	require.NoError(t, session.Quit(ctx))
	assert.Equal(t, 1, quits)
	assert.Equal(t, 1, s.Quits())
}

func TestFactory_NewSessionIOS(t *testing.T) {
	s := appiumtest.New(t, appiumtest.Config{})
	f := NewFactory(testSettings(s.URL()))

	session, err := f.NewSession(context.Background(), "ios")
	require.NoError(t, err)
	assert.Equal(t, IOS, session.Target)
	assert.Equal(t, "io.appium.TestApp", session.Info.AppID)

	// Sessions are handed to screens as remotes
	var remote events.Remote = session
	assert.Equal(t, "ios", remote.Platform())
}

func TestFactory_SessionNotCreated(t *testing.T) {
	s := appiumtest.New(t, appiumtest.Config{FailSessions: 5})
	f := NewFactory(testSettings(s.URL()))

	_, err := f.NewSession(context.Background(), "android")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSessionNotCreated))
	// Not retried: the server answered
	assert.Equal(t, 1, countCalls(s, "/session"))
}

func TestFactory_ServerUnreachable(t *testing.T) {
	s := appiumtest.New(t, appiumtest.Config{})
	url := s.URL()
	s.Close()

	f := NewFactory(testSettings(url))
	start := time.Now()
	_, err := f.NewSession(context.Background(), "android")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrServerUnreachable))
	assert.Equal(t, core.ErrCategoryConnection, core.CategoryOf(err))
	// Two retries at 10ms each
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestFactory_MissingCaps(t *testing.T) {
	f := NewFactory(&config.Settings{AppiumServer: "http://127.0.0.1:1"})
	_, err := f.NewSession(context.Background(), "android")
	assert.True(t, errors.Is(err, core.ErrMissingCapabilities))
}

type quitCounter struct {
	events.NopListener
	count *int
}

func (q *quitCounter) AfterQuit() { *q.count++ }

func countCalls(s *appiumtest.Server, path string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Path == path {
			n++
		}
	}
	return n
}
