package appiumtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/driver/appium"
)

func connect(t *testing.T, s *Server) *appium.Client {
	t.Helper()
	client := appium.NewClient(s.URL())
	require.NoError(t, client.Connect(context.Background(), map[string]interface{}{"platformName": "Android"}))
	return client
}

func TestServer_SessionLifecycle(t *testing.T) {
	s := New(t, Config{FailSessions: 1})
	ctx := context.Background()

	client := appium.NewClient(s.URL())
	err := client.Connect(ctx, map[string]interface{}{"platformName": "Android"})
	var wdErr *appium.WebDriverError
	require.True(t, errors.As(err, &wdErr))
	assert.Equal(t, "session not created", wdErr.Code)

	require.NoError(t, client.Connect(ctx, map[string]interface{}{"platformName": "Android"}))
	assert.Equal(t, "android", client.Platform())
	w, h := client.ScreenSize()
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1920, h)

	require.NoError(t, client.Disconnect(ctx))
	assert.Equal(t, 1, s.Sessions())
	assert.Equal(t, 1, s.Quits())
}

func TestServer_ConcurrentSessions(t *testing.T) {
	s := New(t, Config{})
	ctx := context.Background()
	first := connect(t, s)
	second := connect(t, s)
	assert.NotEqual(t, first.SessionID(), second.SessionID())
	assert.Equal(t, 2, s.Active())

	require.NoError(t, first.Disconnect(ctx))
	assert.Equal(t, 1, s.Active())

	_, _, err := second.WindowSize(ctx)
	assert.NoError(t, err, "other session stays usable")

	require.NoError(t, second.Disconnect(ctx))
	assert.Equal(t, 0, s.Active())
	assert.Equal(t, 2, s.Quits())
}

func TestServer_FindAndInteract(t *testing.T) {
	s := New(t, Config{})
	activated := false
	field := s.AddVisible("accessibility id", "TextFields", core.Bounds{X: 0, Y: 100, Width: 1080, Height: 100})
	link := s.Add(Element{
		Strategy:         "accessibility id",
		Value:            "Text",
		Text:             "Text",
		Displayed:        true,
		Enabled:          true,
		AppearAfterFinds: 1,
		OnActivate:       func() { activated = true },
	})
	client := connect(t, s)
	ctx := context.Background()

	_, err := client.FindElement(ctx, "accessibility id", "Text")
	assert.ErrorIs(t, err, appium.ErrNoSuchElement)

	id, err := client.FindElement(ctx, "accessibility id", "Text")
	require.NoError(t, err)
	assert.Equal(t, link.ID, id)
	require.NoError(t, client.ClickElement(ctx, id))
	assert.True(t, activated)
	assert.Equal(t, 1, s.Clicks(link))
	assert.Equal(t, 2, s.Finds(link))

	fid, err := client.FindElement(ctx, "accessibility id", "TextFields")
	require.NoError(t, err)
	require.NoError(t, client.SendKeysToElement(ctx, fid, "old"))
	require.NoError(t, client.ClearElement(ctx, fid))
	require.NoError(t, client.SendKeysToElement(ctx, fid, "hello"))
	assert.Equal(t, "hello", s.Typed(field))
	assert.Equal(t, 1, s.Cleared(field))

	s.SetDisplayed(field, false)
	displayed, err := client.IsElementDisplayed(ctx, fid)
	require.NoError(t, err)
	assert.False(t, displayed)

	s.Remove(field)
	_, err = client.ElementText(ctx, fid)
	assert.ErrorIs(t, err, appium.ErrStaleElement)
}

func TestServer_Gestures(t *testing.T) {
	s := New(t, Config{})
	button := s.AddVisible("accessibility id", "ImageButton", core.Bounds{X: 100, Y: 1000, Width: 200, Height: 100})
	hidden := s.Add(Element{Strategy: "id", Value: "later", Displayed: true, Enabled: true, AppearAfterSwipes: 1})
	client := connect(t, s)
	ctx := context.Background()

	require.NoError(t, client.Tap(ctx, 150, 1050))
	assert.Equal(t, 1, s.Taps(button))

	require.NoError(t, client.TapElement(ctx, button.ID))
	require.NoError(t, client.DoubleTap(ctx, 10, 10))
	require.NoError(t, client.LongPress(ctx, 10, 10, 1000))

	ids, err := client.FindElements(ctx, "id", "later")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, client.Swipe(ctx, 540, 1440, 540, 480, 400))
	ids, err = client.FindElements(ctx, "id", "later")
	require.NoError(t, err)
	assert.Equal(t, []string{hidden.ID}, ids)

	gestures := s.Gestures()
	require.Len(t, gestures, 5)
	assert.Equal(t, "tap", gestures[0].Kind)
	assert.Equal(t, Gesture{Kind: "tap", StartX: 200, StartY: 1050, EndX: 200, EndY: 1050, Duration: 50, ElementID: button.ID}, gestures[1])
	assert.Equal(t, "double_tap", gestures[2].Kind)
	assert.Equal(t, "long_press", gestures[3].Kind)
	assert.Equal(t, Gesture{Kind: "swipe", StartX: 540, StartY: 1440, EndX: 540, EndY: 480, Duration: 400}, s.Swipes()[0])
}

func TestServer_FailFinds(t *testing.T) {
	s := New(t, Config{})
	s.Add(Element{Strategy: "id", Value: "flaky", Displayed: true, FailFinds: 1})
	client := connect(t, s)
	ctx := context.Background()

	_, err := client.FindElement(ctx, "id", "flaky")
	require.Error(t, err)
	assert.NotErrorIs(t, err, appium.ErrNoSuchElement)

	_, err = client.FindElement(ctx, "id", "flaky")
	assert.NoError(t, err)
}

func TestServer_AppAndScreen(t *testing.T) {
	s := New(t, Config{Screenshot: []byte("png")})
	client := connect(t, s)
	ctx := context.Background()

	require.NoError(t, client.Back(ctx))
	require.NoError(t, client.LaunchApp(ctx))
	require.NoError(t, client.CloseApp(ctx))
	require.NoError(t, client.ResetApp(ctx))

	data, err := client.Screenshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	source, err := client.Source(ctx)
	require.NoError(t, err)
	assert.Contains(t, source, "<hierarchy")

	assert.Equal(t, 1, s.Backs())
	assert.Equal(t, []string{"launch", "close", "reset"}, s.AppOps())
}
