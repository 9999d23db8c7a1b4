package script

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/screen-runner/pkg/screens/mainscreen"
	"github.com/devicelab-dev/screen-runner/pkg/suite"
)

// Scenario wraps a script file as a suite scenario named after the file.
// env is exposed to the script as the env global.
func Scenario(path string, env map[string]string, opts ...Option) suite.Scenario {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return suite.Scenario{
		Name: name,
		Run: func(ctx context.Context, m *mainscreen.MainScreen) error {
			e := New(m, opts...)
			e.SetVariable("env", envObject(env))
			return e.RunFile(ctx, path)
		},
	}
}

// Scenarios wraps every script file.
func Scenarios(paths []string, env map[string]string, opts ...Option) []suite.Scenario {
	scenarios := make([]suite.Scenario, len(paths))
	for i, p := range paths {
		scenarios[i] = Scenario(p, env, opts...)
	}
	return scenarios
}

func envObject(env map[string]string) map[string]interface{} {
	obj := make(map[string]interface{}, len(env))
	for k, v := range env {
		obj[k] = v
	}
	return obj
}
