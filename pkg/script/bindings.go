package script

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/screen-runner/pkg/interactor"
	"github.com/devicelab-dev/screen-runner/pkg/locators"
	"github.com/devicelab-dev/screen-runner/pkg/screen"
)

// locatorFunc implements locator(name) and locator(strategy, value).
func (e *Engine) locatorFunc(call goja.FunctionCall) goja.Value {
	var loc locators.Locator
	switch len(call.Arguments) {
	case 1:
		loc = e.toLocator(call.Argument(0))
	case 2:
		strategy, err := locators.ParseStrategy(call.Argument(0).String())
		if err != nil {
			e.typeError("%v", err)
		}
		loc = locators.New(strategy, call.Argument(1).String())
	default:
		e.typeError("locator requires a name or a strategy and value")
	}
	return e.locatorValue(loc)
}

func (e *Engine) locatorValue(loc locators.Locator) goja.Value {
	obj := e.runtime.NewObject()
	obj.Set("strategy", string(loc.Strategy))
	obj.Set("value", loc.Value)
	obj.Set("toString", func() string { return loc.String() })
	return obj
}

// toLocator accepts a registry name or a {strategy, value} object.
func (e *Engine) toLocator(v goja.Value) locators.Locator {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		e.typeError("locator is required")
	}

	if obj, ok := v.(*goja.Object); ok {
		sv, vv := obj.Get("strategy"), obj.Get("value")
		if sv == nil || vv == nil {
			e.typeError("locator object needs strategy and value")
		}
		strategy, err := locators.ParseStrategy(sv.String())
		if err != nil {
			e.typeError("%v", err)
		}
		return locators.New(strategy, vv.String())
	}

	loc, err := e.registry.Lookup(v.String())
	if err != nil {
		e.typeError("%v", err)
	}
	return loc
}

func (e *Engine) direction(v goja.Value, def screen.Direction) screen.Direction {
	if v == nil || goja.IsUndefined(v) {
		return def
	}
	dir, err := screen.ParseDirection(v.String())
	e.check(err)
	return dir
}

func intArg(call goja.FunctionCall, i int, def int64) int64 {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return def
	}
	return v.ToInteger()
}

func floatArg(call goja.FunctionCall, i int) float64 {
	return call.Argument(i).ToFloat()
}

// screenObject exposes the generic gestures and checks.
func (e *Engine) screenObject() *goja.Object {
	s := e.main.Screen
	obj := e.runtime.NewObject()
	set := func(name string, fn func(call goja.FunctionCall) goja.Value) {
		if err := obj.Set(name, fn); err != nil {
			panic(fmt.Sprintf("failed to set screen.%s: %v", name, err))
		}
	}

	set("click", func(call goja.FunctionCall) goja.Value {
		e.check(s.Click(e.ctx, e.toLocator(call.Argument(0))))
		return goja.Undefined()
	})
	set("tap", func(call goja.FunctionCall) goja.Value {
		e.check(s.Tap(e.ctx, e.toLocator(call.Argument(0))))
		return goja.Undefined()
	})
	// screen.tapAt(xRatio, yRatio)
	set("tapAt", func(call goja.FunctionCall) goja.Value {
		e.check(s.TapByCoordinates(e.ctx, floatArg(call, 0), floatArg(call, 1)))
		return goja.Undefined()
	})
	set("doubleTap", func(call goja.FunctionCall) goja.Value {
		e.check(s.DoubleTap(e.ctx, e.toLocator(call.Argument(0))))
		return goja.Undefined()
	})
	// screen.longPress(locator, [ms])
	set("longPress", func(call goja.FunctionCall) goja.Value {
		d := time.Duration(intArg(call, 1, screen.DefaultLongPressDuration.Milliseconds())) * time.Millisecond
		e.check(s.LongPress(e.ctx, e.toLocator(call.Argument(0)), d))
		return goja.Undefined()
	})
	// screen.type(locator, text)
	set("type", func(call goja.FunctionCall) goja.Value {
		e.check(s.Type(e.ctx, e.toLocator(call.Argument(0)), call.Argument(1).String()))
		return goja.Undefined()
	})
	// screen.swipe(x1, y1, x2, y2, [ms]) with ratio coordinates
	set("swipe", func(call goja.FunctionCall) goja.Value {
		from := screen.Point{X: floatArg(call, 0), Y: floatArg(call, 1)}
		to := screen.Point{X: floatArg(call, 2), Y: floatArg(call, 3)}
		d := time.Duration(intArg(call, 4, screen.DefaultSwipeDuration.Milliseconds())) * time.Millisecond
		e.check(s.Swipe(e.ctx, from, to, d))
		return goja.Undefined()
	})
	// screen.scroll([direction], [ratio])
	set("scroll", func(call goja.FunctionCall) goja.Value {
		ratio := 0.0
		if v := call.Argument(1); !goja.IsUndefined(v) {
			ratio = v.ToFloat()
		}
		e.check(s.Scroll(e.ctx, e.direction(call.Argument(0), screen.Down), ratio))
		return goja.Undefined()
	})
	// screen.scrollUntilVisible(locator, [direction], [maxSwipes])
	set("scrollUntilVisible", func(call goja.FunctionCall) goja.Value {
		loc := e.toLocator(call.Argument(0))
		dir := e.direction(call.Argument(1), screen.Down)
		maxSwipes := int(intArg(call, 2, screen.DefaultMaxSwipes))
		e.check(s.ScrollUntilVisible(e.ctx, loc, dir, maxSwipes))
		return goja.Undefined()
	})
	set("swipeToDelete", func(call goja.FunctionCall) goja.Value {
		e.check(s.SwipeToDelete(e.ctx, e.toLocator(call.Argument(0))))
		return goja.Undefined()
	})
	// screen.isDisplayed(locator, [expected]) throws when the state differs
	set("isDisplayed", func(call goja.FunctionCall) goja.Value {
		expected := true
		if v := call.Argument(1); !goja.IsUndefined(v) {
			expected = v.ToBoolean()
		}
		e.check(s.IsDisplayed(e.ctx, e.toLocator(call.Argument(0)), expected))
		return e.runtime.ToValue(true)
	})
	// screen.isExist(locator, [expected]) returns a boolean
	set("isExist", func(call goja.FunctionCall) goja.Value {
		expected := true
		if v := call.Argument(1); !goja.IsUndefined(v) {
			expected = v.ToBoolean()
		}
		return e.runtime.ToValue(s.IsExist(e.ctx, e.toLocator(call.Argument(0)), expected))
	})
	// screen.waitFor(locator, [condition], [waitType])
	set("waitFor", func(call goja.FunctionCall) goja.Value {
		loc := e.toLocator(call.Argument(0))
		cond := interactor.Visible
		if v := call.Argument(1); !goja.IsUndefined(v) {
			cond = interactor.Condition(v.String())
		}
		waitType := interactor.Default
		if v := call.Argument(2); !goja.IsUndefined(v) {
			var err error
			waitType, err = interactor.ParseWaitType(v.String())
			e.check(err)
		}
		_, err := s.WaitFor(e.ctx, loc, cond, s.Waiter(waitType))
		e.check(err)
		return goja.Undefined()
	})
	set("texts", func(call goja.FunctionCall) goja.Value {
		texts, err := s.Texts(e.ctx, e.toLocator(call.Argument(0)))
		e.check(err)
		return e.runtime.ToValue(texts)
	})
	set("size", func(call goja.FunctionCall) goja.Value {
		w, h, err := s.ScreenSize(e.ctx)
		e.check(err)
		return e.runtime.ToValue(map[string]interface{}{"width": w, "height": h})
	})
	set("back", func(call goja.FunctionCall) goja.Value {
		e.check(s.Back(e.ctx))
		return goja.Undefined()
	})
	set("launchApp", func(call goja.FunctionCall) goja.Value {
		e.check(s.LaunchApp(e.ctx))
		return goja.Undefined()
	})
	set("closeApp", func(call goja.FunctionCall) goja.Value {
		e.check(s.Close(e.ctx))
		return goja.Undefined()
	})
	set("resetApp", func(call goja.FunctionCall) goja.Value {
		e.check(s.Reset(e.ctx))
		return goja.Undefined()
	})
	set("sleep", func(call goja.FunctionCall) goja.Value {
		e.check(e.sleep(time.Duration(call.Argument(0).ToInteger()) * time.Millisecond))
		return goja.Undefined()
	})
	return obj
}

// mainObject exposes the main menu flows.
func (e *Engine) mainObject() *goja.Object {
	m := e.main
	obj := e.runtime.NewObject()
	action := func(name string, fn func() error) {
		if err := obj.Set(name, func() { e.check(fn()) }); err != nil {
			panic(fmt.Sprintf("failed to set main.%s: %v", name, err))
		}
	}

	action("clickOnTextLink", func() error { return m.ClickOnTextLink(e.ctx) })
	action("tapOnTextLink", func() error { return m.TapOnTextLink(e.ctx) })
	action("clickOnContentLink", func() error { return m.ClickOnContentLink(e.ctx) })
	action("openViews", func() error { return m.OpenViews(e.ctx) })
	action("scrollToImageButton", func() error { return m.ScrollToImageButton(e.ctx) })
	action("scrollUntilTextFieldVisible", func() error { return m.ScrollUntilTextFieldVisible(e.ctx) })

	obj.Set("scrollViewByCoordinates", func(call goja.FunctionCall) goja.Value {
		e.check(m.ScrollViewByCoordinates(e.ctx, e.direction(call.Argument(0), screen.Down)))
		return goja.Undefined()
	})
	obj.Set("menuItems", func(call goja.FunctionCall) goja.Value {
		items, err := m.MenuItems(e.ctx)
		e.check(err)
		return e.runtime.ToValue(items)
	})
	return obj
}
