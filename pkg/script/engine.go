// Package script runs JavaScript scenarios against a screen.
//
// Scripts see these globals:
//
//	screen    gestures and checks (click, tap, type, swipe, scroll, ...)
//	main      main menu flows (clickOnTextLink, scrollToImageButton, ...)
//	locator   locator("common.text_link") or locator("id", "foo")
//	console   log, info, warn, error
//	output    object whose fields are returned to the caller
//	platform  current platform name
//	sleep     sleep(ms)
package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/screen-runner/pkg/locators"
	"github.com/devicelab-dev/screen-runner/pkg/logger"
	"github.com/devicelab-dev/screen-runner/pkg/screens/mainscreen"
)

// Engine wraps a goja runtime bound to one screen.
type Engine struct {
	runtime  *goja.Runtime
	main     *mainscreen.MainScreen
	registry *locators.Registry
	output   map[string]interface{}
	console  io.Writer
	platform string

	// ctx is the context of the running script; failure is the last Go
	// error thrown into the script.
	ctx     context.Context
	failure error
	mu      sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithConsole sends console output to w (default os.Stdout).
func WithConsole(w io.Writer) Option {
	return func(e *Engine) { e.console = w }
}

// WithPlatform sets the platform global.
func WithPlatform(platform string) Option {
	return func(e *Engine) { e.platform = platform }
}

// New creates an engine driving the given main screen.
func New(m *mainscreen.MainScreen, opts ...Option) *Engine {
	e := &Engine{
		runtime:  goja.New(),
		main:     m,
		registry: m.Registry(),
		output:   make(map[string]interface{}),
		console:  os.Stdout,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.platform == "" {
		e.platform = m.Remote().Platform()
	}

	e.setupBuiltins()
	return e
}

// setupBuiltins registers all built-in functions and objects
func (e *Engine) setupBuiltins() {
	e.setupConsole()

	e.runtime.Set("output", e.output)
	e.runtime.Set("platform", e.platform)
	e.runtime.Set("locator", e.locatorFunc)
	e.runtime.Set("sleep", func(ms int64) {
		e.check(e.sleep(time.Duration(ms) * time.Millisecond))
	})
	e.runtime.Set("screen", e.screenObject())
	e.runtime.Set("main", e.mainObject())
}

// setupConsole adds console.log, console.error, etc.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(prefix string, log func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			line := strings.Join(parts, " ")
			log("script: %s", line)
			if prefix != "" {
				line = prefix + " " + line
			}
			fmt.Fprintln(e.console, line)
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc("", logger.Info))
	console.Set("info", makeConsoleFunc("", logger.Info))
	console.Set("warn", makeConsoleFunc("WARN:", logger.Warn))
	console.Set("error", makeConsoleFunc("ERROR:", logger.Error))
	e.runtime.Set("console", console)
}

// SetVariable sets a variable accessible in JS as a global
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runtime.Set(name, value)
}

// SetVariables sets multiple variables
func (e *Engine) SetVariables(vars map[string]interface{}) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// Output returns a copy of the output object (values set by scripts)
func (e *Engine) Output() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	source := e.output
	if v := e.runtime.Get("output"); v != nil && !goja.IsUndefined(v) {
		if m, ok := v.Export().(map[string]interface{}); ok {
			source = m
		}
	}

	result := make(map[string]interface{}, len(source))
	for k, v := range source {
		result[k] = v
	}
	return result
}

// Run executes a script. Cancelling ctx interrupts it. An error thrown by
// a screen call and not caught by the script is returned unwrapped so
// callers can match it with errors.Is.
func (e *Engine) Run(ctx context.Context, script string) error {
	_, err := e.eval(ctx, "script", script)
	return err
}

// RunFile executes the script stored at path.
func (e *Engine) RunFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided script file
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	_, err = e.eval(ctx, path, string(data))
	return err
}

// Eval evaluates a JavaScript expression and returns the exported result
func (e *Engine) Eval(ctx context.Context, expr string) (interface{}, error) {
	v, err := e.eval(ctx, "eval", expr)
	if err != nil {
		return nil, err
	}
	return v.Export(), nil
}

func (e *Engine) eval(ctx context.Context, name, src string) (goja.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx = ctx
	e.failure = nil
	stop := context.AfterFunc(ctx, func() {
		e.runtime.Interrupt(ctx.Err())
	})
	defer func() {
		stop()
		e.runtime.ClearInterrupt()
		e.ctx = context.Background()
	}()

	v, err := e.runtime.RunScript(name, src)
	if err == nil {
		return v, nil
	}
	if e.failure != nil {
		return nil, e.failure
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("JS runtime error: %w", err)
}

// check throws err into the running script.
func (e *Engine) check(err error) {
	if err == nil {
		return
	}
	e.failure = err
	panic(e.runtime.NewGoError(err))
}

func (e *Engine) typeError(format string, args ...interface{}) {
	panic(e.runtime.NewTypeError(fmt.Sprintf(format, args...)))
}

func (e *Engine) sleep(d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}
