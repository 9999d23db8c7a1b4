// Package drivers builds platform capabilities and opens remote sessions.
package drivers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/devicelab-dev/screen-runner/pkg/config"
	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/driver/appium"
	"github.com/devicelab-dev/screen-runner/pkg/events"
	"github.com/devicelab-dev/screen-runner/pkg/logger"
)

// Platform identifies the target mobile OS.
type Platform string

const (
	Android Platform = "android"
	IOS     Platform = "ios"
)

// DemoApp is the Android app bundled under <home>/data/apps.
const DemoApp = "demo.apk"

// ParsePlatform parses a platform name case-insensitively.
// Anything other than android selects iOS.
func ParsePlatform(name string) Platform {
	if strings.EqualFold(strings.TrimSpace(name), string(Android)) {
		return Android
	}
	return IOS
}

// w3cCapabilities are the standard capability names that take no vendor prefix.
var w3cCapabilities = map[string]bool{
	"platformName":              true,
	"browserName":               true,
	"browserVersion":            true,
	"acceptInsecureCerts":       true,
	"pageLoadStrategy":          true,
	"proxy":                     true,
	"setWindowRect":             true,
	"timeouts":                  true,
	"strictFileInteractability": true,
	"unhandledPromptBehavior":   true,
	"webSocketUrl":              true,
}

// NormalizeCaps returns a copy of caps with the appium: prefix added to
// non-standard keys, as W3C session requests require.
func NormalizeCaps(caps map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(caps))
	for k, v := range caps {
		if w3cCapabilities[k] || strings.Contains(k, ":") {
			out[k] = v
			continue
		}
		out["appium:"+k] = v
	}
	return out
}

// AndroidCaps returns the Android capabilities from settings with the app
// path set to the android_app setting or the bundled demo app.
func AndroidCaps(s *config.Settings) (map[string]interface{}, error) {
	if len(s.Android) == 0 {
		return nil, core.ErrMissingCapabilities.WithMessage("ANDROID capabilities not found in settings")
	}

	caps := NormalizeCaps(s.Android)
	app := s.AndroidApp
	if app == "" {
		app = filepath.Join(config.GetAppsDir(), DemoApp)
	}
	caps["appium:app"] = app
	return caps, nil
}

// IOSCaps returns the iOS capabilities from settings.
func IOSCaps(s *config.Settings) map[string]interface{} {
	return NormalizeCaps(s.IOS)
}

// Session is a connected remote session. It satisfies events.Remote.
type Session struct {
	events.Remote
	Target Platform
	Info   core.PlatformInfo
}

var _ events.Remote = (*Session)(nil)

// Quit ends the remote session.
func (s *Session) Quit(ctx context.Context) error {
	return s.Disconnect(ctx)
}

// Factory opens sessions for a platform using the loaded settings.
type Factory struct {
	settings *config.Settings
	listener events.Listener
	app      string
	device   string
}

// Option configures a Factory.
type Option func(*Factory)

// WithListener wraps every session with the event listener.
func WithListener(l events.Listener) Option {
	return func(f *Factory) { f.listener = l }
}

// WithApp overrides the app capability (--app).
func WithApp(path string) Option {
	return func(f *Factory) { f.app = path }
}

// WithDevice overrides the device name capability (--device).
func WithDevice(name string) Option {
	return func(f *Factory) { f.device = name }
}

// NewFactory creates a session factory.
func NewFactory(settings *config.Settings, opts ...Option) *Factory {
	f := &Factory{settings: settings}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Capabilities returns the session capabilities for the platform.
func (f *Factory) Capabilities(p Platform) (map[string]interface{}, error) {
	var caps map[string]interface{}
	if p == Android {
		var err error
		if caps, err = AndroidCaps(f.settings); err != nil {
			return nil, err
		}
	} else {
		caps = IOSCaps(f.settings)
	}

	if f.app != "" {
		caps["appium:app"] = f.app
	}
	if f.device != "" {
		caps["appium:deviceName"] = f.device
	}
	return caps, nil
}

// NewSession connects to the Appium server and creates a session for the
// named platform. Connection-refused errors are retried.
func (f *Factory) NewSession(ctx context.Context, platform string) (*Session, error) {
	p := ParsePlatform(platform)
	caps, err := f.Capabilities(p)
	if err != nil {
		return nil, err
	}

	client := appium.NewClient(f.settings.AppiumServer)
	logger.Info("Creating %s session on %s", p, f.settings.AppiumServer)

	operation := func() error {
		err := client.Connect(ctx, caps)
		if err == nil || isConnectionRefused(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("Appium server not reachable, retrying in %s: %v", next, err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.retryInterval()), uint64(max(f.settings.SessionRetries, 0))),
		ctx,
	)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if isConnectionRefused(err) {
			return nil, core.ErrServerUnreachable.WithCause(err).
				WithMessagef("could not connect to automation server at %s", f.settings.AppiumServer)
		}
		return nil, core.ErrSessionNotCreated.WithCause(err)
	}

	w, h := client.ScreenSize()
	session := &Session{
		Remote: events.Wrap(client, f.listener),
		Target: p,
		Info: core.PlatformInfo{
			Platform:     string(p),
			SessionID:    client.SessionID(),
			DeviceName:   stringCap(caps, "appium:deviceName"),
			ScreenWidth:  w,
			ScreenHeight: h,
			AppID:        appID(caps),
		},
	}
	logger.Info("Session %s created (%s, %dx%d)", session.Info.SessionID, session.Info.DeviceName, w, h)
	return session, nil
}

func (f *Factory) retryInterval() time.Duration {
	if f.settings.SessionRetryInterval > 0 {
		return f.settings.SessionRetryInterval
	}
	return 2 * time.Second
}

func isConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func stringCap(caps map[string]interface{}, key string) string {
	if v, ok := caps[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func appID(caps map[string]interface{}) string {
	if id := stringCap(caps, "appium:appPackage"); id != "" {
		return id
	}
	return stringCap(caps, "appium:bundleId")
}
