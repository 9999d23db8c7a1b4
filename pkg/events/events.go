// Package events fires listener hooks around remote session calls.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/screen-runner/pkg/driver/appium"
	"github.com/devicelab-dev/screen-runner/pkg/logger"
)

// Remote is the remote session surface used above the protocol client.
// *appium.Client implements it.
type Remote interface {
	SessionID() string
	Platform() string
	ScreenSize() (int, int)
	WindowSize(ctx context.Context) (int, int, error)
	Disconnect(ctx context.Context) error

	FindElement(ctx context.Context, strategy, value string) (string, error)
	FindElements(ctx context.Context, strategy, value string) ([]string, error)
	ClickElement(ctx context.Context, elementID string) error
	ClearElement(ctx context.Context, elementID string) error
	SendKeysToElement(ctx context.Context, elementID, text string) error
	ElementText(ctx context.Context, elementID string) (string, error)
	ElementAttribute(ctx context.Context, elementID, name string) (string, error)
	ElementRect(ctx context.Context, elementID string) (x, y, w, h int, err error)
	IsElementDisplayed(ctx context.Context, elementID string) (bool, error)
	IsElementEnabled(ctx context.Context, elementID string) (bool, error)

	Tap(ctx context.Context, x, y int) error
	TapElement(ctx context.Context, elementID string) error
	DoubleTap(ctx context.Context, x, y int) error
	LongPress(ctx context.Context, x, y, durationMs int) error
	Swipe(ctx context.Context, startX, startY, endX, endY, durationMs int) error

	Back(ctx context.Context) error
	LaunchApp(ctx context.Context) error
	CloseApp(ctx context.Context) error
	ResetApp(ctx context.Context) error
	ActivateApp(ctx context.Context, appID string) error
	TerminateApp(ctx context.Context, appID string) error

	Screenshot(ctx context.Context) ([]byte, error)
	Source(ctx context.Context) (string, error)
	SetImplicitWait(ctx context.Context, timeout time.Duration) error
	ExecuteMobile(ctx context.Context, command string, args map[string]interface{}) (interface{}, error)
}

var _ Remote = (*appium.Client)(nil)

// Listener receives session events.
type Listener interface {
	BeforeFind(strategy, value string)
	AfterFind(strategy, value string)
	BeforeClick(elementID string)
	AfterClick(elementID string)
	BeforeQuit()
	AfterQuit()
	OnException(err error)
}

// NopListener ignores every event. Embed it to implement a subset of hooks.
type NopListener struct{}

func (NopListener) BeforeFind(string, string) {}
func (NopListener) AfterFind(string, string)  {}
func (NopListener) BeforeClick(string)        {}
func (NopListener) AfterClick(string)         {}
func (NopListener) BeforeQuit()               {}
func (NopListener) AfterQuit()                {}
func (NopListener) OnException(error)         {}

// LoggingListener writes every event to the run log.
type LoggingListener struct{}

func (LoggingListener) BeforeFind(strategy, value string) {
	logger.Info("Looking for element: %s -> %s", strategy, value)
}

func (LoggingListener) AfterFind(strategy, value string) {
	logger.Info("Found element: %s -> %s", strategy, value)
}

func (LoggingListener) BeforeClick(elementID string) {
	logger.Info("Before clicking: %s", elementID)
}

func (LoggingListener) AfterClick(elementID string) {
	logger.Info("Clicked on: %s", elementID)
}

func (LoggingListener) BeforeQuit() {
	logger.Info("Driver is about to quit.")
}

func (LoggingListener) AfterQuit() {
	logger.Info("Driver has quit.")
}

// OnException logs misses at debug level since polling waits produce many.
func (LoggingListener) OnException(err error) {
	if errors.Is(err, appium.ErrNoSuchElement) {
		logger.Debug("On exception: %v", err)
		return
	}
	logger.Info("On exception: %v", err)
}

// ListenerByName resolves the --listeners option.
func ListenerByName(name string) (Listener, error) {
	switch name {
	case "", "events":
		return LoggingListener{}, nil
	case "none":
		return NopListener{}, nil
	default:
		return nil, fmt.Errorf("unknown listener %q (expected events or none)", name)
	}
}

// Wrap returns a Remote that fires listener events around find, click,
// input, gesture and quit calls. A nil listener returns remote unchanged.
func Wrap(remote Remote, listener Listener) Remote {
	if listener == nil {
		return remote
	}
	return &firingRemote{Remote: remote, listener: listener}
}

type firingRemote struct {
	Remote
	listener Listener
}

func (f *firingRemote) fail(err error) error {
	if err != nil {
		f.listener.OnException(err)
	}
	return err
}

func (f *firingRemote) FindElement(ctx context.Context, strategy, value string) (string, error) {
	f.listener.BeforeFind(strategy, value)
	id, err := f.Remote.FindElement(ctx, strategy, value)
	if err != nil {
		return "", f.fail(err)
	}
	f.listener.AfterFind(strategy, value)
	return id, nil
}

func (f *firingRemote) FindElements(ctx context.Context, strategy, value string) ([]string, error) {
	f.listener.BeforeFind(strategy, value)
	ids, err := f.Remote.FindElements(ctx, strategy, value)
	if err != nil {
		return nil, f.fail(err)
	}
	f.listener.AfterFind(strategy, value)
	return ids, nil
}

func (f *firingRemote) ClickElement(ctx context.Context, elementID string) error {
	f.listener.BeforeClick(elementID)
	if err := f.Remote.ClickElement(ctx, elementID); err != nil {
		return f.fail(err)
	}
	f.listener.AfterClick(elementID)
	return nil
}

func (f *firingRemote) ClearElement(ctx context.Context, elementID string) error {
	return f.fail(f.Remote.ClearElement(ctx, elementID))
}

func (f *firingRemote) SendKeysToElement(ctx context.Context, elementID, text string) error {
	return f.fail(f.Remote.SendKeysToElement(ctx, elementID, text))
}

func (f *firingRemote) Tap(ctx context.Context, x, y int) error {
	return f.fail(f.Remote.Tap(ctx, x, y))
}

func (f *firingRemote) TapElement(ctx context.Context, elementID string) error {
	return f.fail(f.Remote.TapElement(ctx, elementID))
}

func (f *firingRemote) Swipe(ctx context.Context, startX, startY, endX, endY, durationMs int) error {
	return f.fail(f.Remote.Swipe(ctx, startX, startY, endX, endY, durationMs))
}

func (f *firingRemote) Disconnect(ctx context.Context) error {
	f.listener.BeforeQuit()
	if err := f.Remote.Disconnect(ctx); err != nil {
		return f.fail(err)
	}
	f.listener.AfterQuit()
	return nil
}
