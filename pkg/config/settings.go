package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/screen-runner/pkg/core"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. APPIUM_APPIUM_SERVER.
	EnvPrefix = "APPIUM"
	// EnvSwitcher selects the settings environment.
	EnvSwitcher = "ENV_FOR_APPIUM"
	// DefaultEnv is used when no environment is selected.
	DefaultEnv = "development"

	defaultSection = "default"
	globalSection  = "global"
)

// Settings files relative to the settings root.
var (
	SettingsFile = filepath.Join("config", "settings.yaml")
	SecretsFile  = filepath.Join("config", ".secrets.yaml")
	DotenvFile   = filepath.Join("configs", ".env")
)

// Settings holds the resolved settings for one environment.
type Settings struct {
	Env string `mapstructure:"-"`

	AppiumServer string `mapstructure:"appium_server"`
	// AndroidApp overrides the bundled demo app path for Android sessions.
	AndroidApp   string `mapstructure:"android_app"`
	LocatorsFile string `mapstructure:"locators_file"`
	OutputDir    string `mapstructure:"output_dir"` // Defaults to <home>/reports

	SessionRetries       int           `mapstructure:"session_retries"`
	SessionRetryInterval time.Duration `mapstructure:"session_retry_interval"`

	Artifacts core.ArtifactConfig `mapstructure:"artifacts"`

	// Capability sections keep the key case of the settings files.
	Android map[string]interface{} `mapstructure:"-"`
	IOS     map[string]interface{} `mapstructure:"-"`
}

// SettingsOptions controls where settings are read from.
type SettingsOptions struct {
	// Root holds config/ and configs/. Defaults to GetHome().
	Root string
	// Env selects the environment section. Defaults to $ENV_FOR_APPIUM,
	// then ENV_FOR_APPIUM from the dotenv file, then DefaultEnv.
	Env string
}

// SetDefaults registers default values for every scalar setting.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("appium_server", "http://127.0.0.1:4723")
	v.SetDefault("android_app", "")
	v.SetDefault("locators_file", "")
	v.SetDefault("output_dir", "")
	v.SetDefault("session_retries", 3)
	v.SetDefault("session_retry_interval", "2s")
	v.SetDefault("artifacts.capture_on_failure", true)
	v.SetDefault("artifacts.capture_on_success", false)
	v.SetDefault("artifacts.screenshot", true)
	v.SetDefault("artifacts.page_source", false)
}

// LoadSettings reads settings.yaml, overlays .secrets.yaml, selects the
// environment section and applies dotenv and APPIUM_* overrides.
// Missing files are not an error.
func LoadSettings(opts SettingsOptions) (*Settings, error) {
	root := opts.Root
	if root == "" {
		root = GetHome()
	}

	dotenv, err := readDotenv(filepath.Join(root, DotenvFile))
	if err != nil {
		return nil, err
	}

	env := opts.Env
	if env == "" {
		env = os.Getenv(EnvSwitcher)
	}
	if env == "" {
		env = dotenv[strings.ToLower(EnvSwitcher)]
	}
	if env == "" {
		env = DefaultEnv
	}

	raw := make(map[string]interface{})
	for _, name := range []string{SettingsFile, SecretsFile} {
		data, err := readYAMLMap(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		mergeMaps(raw, data)
	}
	merged := selectEnv(raw, env)
	// MergeConfigMap lowercases keys in place, so capabilities are taken first
	// and viper gets its own copy.
	android, ios := section(merged, "android"), section(merged, "ios")
	scalars := make(map[string]interface{}, len(merged))
	mergeMaps(scalars, merged)

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()
	if err := v.MergeConfigMap(scalars); err != nil {
		return nil, fmt.Errorf("merge settings: %w", err)
	}

	// Dotenv values behave like environment variables that are not already set
	prefix := strings.ToLower(EnvPrefix) + "_"
	for key, value := range dotenv {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, set := os.LookupEnv(strings.ToUpper(key)); set {
			continue
		}
		v.Set(strings.ReplaceAll(strings.TrimPrefix(key, prefix), "__", "."), value)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err).WithMessage("invalid settings")
	}
	s.Env = env
	if s.OutputDir == "" {
		s.OutputDir = GetReportsDir()
	}
	s.Android = android
	s.IOS = ios
	return &s, nil
}

// readYAMLMap reads a YAML mapping. yaml.v3 keeps key case, which
// capability names depend on.
func readYAMLMap(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- settings file under the settings root
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err).WithMessagef("invalid settings file %s", path)
	}
	return m, nil
}

// readDotenv reads a dotenv file into lowercase keys.
func readDotenv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}

	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err).WithMessagef("invalid dotenv file %s", path)
	}

	values := make(map[string]string)
	for _, key := range dv.AllKeys() {
		values[key] = dv.GetString(key)
	}
	return values, nil
}

// selectEnv flattens environment sections: default, then the selected
// environment, then global. Environment names are case-insensitive.
func selectEnv(raw map[string]interface{}, env string) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, name := range []string{defaultSection, env, globalSection} {
		if m, ok := lookupFold(raw, name).(map[string]interface{}); ok {
			mergeMaps(merged, m)
		}
	}
	return merged
}

func section(m map[string]interface{}, name string) map[string]interface{} {
	src, ok := lookupFold(m, name).(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]interface{}, len(src))
	mergeMaps(out, src)
	return out
}

func lookupFold(m map[string]interface{}, name string) interface{} {
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// mergeMaps deep-merges src into dst. Nested mappings merge; other values replace.
func mergeMaps(dst, src map[string]interface{}) {
	for k, v := range src {
		sm, ok := v.(map[string]interface{})
		if !ok {
			dst[k] = v
			continue
		}
		dm, ok := dst[k].(map[string]interface{})
		if !ok {
			dm = make(map[string]interface{}, len(sm))
			dst[k] = dm
		}
		mergeMaps(dm, sm)
	}
}
